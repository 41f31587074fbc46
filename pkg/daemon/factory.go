package daemon

import (
	"net"
	"os"
	"time"

	"github.com/grovetools/taskagent/config"
	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/pkg/paths"
	"github.com/grovetools/taskagent/pkg/store"
)

// SocketPath returns the daemon socket configured in cfg, or the default.
func SocketPath(cfg *config.Config) string {
	if cfg != nil && cfg.Daemon.Socket != "" {
		return config.ExpandHome(cfg.Daemon.Socket)
	}
	return paths.SocketPath()
}

// Connect returns a RemoteClient if a daemon accepts connections on
// socketPath.
func Connect(socketPath string) (*RemoteClient, error) {
	if _, err := os.Stat(socketPath); err != nil {
		return nil, errors.DaemonUnavailable(socketPath, err)
	}
	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return nil, errors.DaemonUnavailable(socketPath, err)
	}
	conn.Close()
	return NewRemoteClient(socketPath)
}

// New returns a Client that will use the daemon if available, otherwise a
// LocalClient over the session store configured in cfg.
//
// Callers don't need to know whether the daemon is running for reads; the
// same API works in both modes.
func New(cfg *config.Config) (Client, error) {
	if client, err := Connect(SocketPath(cfg)); err == nil {
		return client, nil
	}

	gw, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewLocalClient(gw), nil
}
