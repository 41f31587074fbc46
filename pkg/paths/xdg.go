// Package paths resolves the directories taskagent uses for config, state
// and runtime files.
//
// Resolution order:
// 1. TASKAGENT_HOME (portable root) → $TASKAGENT_HOME/{config,state,run}
// 2. XDG env vars → $XDG_*_HOME/taskagent
// 3. Platform defaults → ~/.config/taskagent, ~/.local/state/taskagent
package paths

import (
	"os"
	"path/filepath"
)

const appName = "taskagent"

// HomeEnv overrides every base directory when set.
const HomeEnv = "TASKAGENT_HOME"

func resolve(sub, xdgEnv string, fallback ...string) string {
	if home := os.Getenv(HomeEnv); home != "" {
		return filepath.Join(home, sub)
	}
	if xdg := os.Getenv(xdgEnv); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append(append([]string{homeDir}, fallback...), appName)...)
}

// ConfigDir holds the user-level taskagent.yml.
func ConfigDir() string {
	return resolve("config", "XDG_CONFIG_HOME", ".config")
}

// StateDir holds the session database, logs and the PID file.
func StateDir() string {
	return resolve("state", "XDG_STATE_HOME", ".local", "state")
}

// RuntimeDir returns the directory for the daemon socket.
// Uses XDG_RUNTIME_DIR when available, falls back to StateDir.
func RuntimeDir() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// SocketPath returns the path to the daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "taskagentd.sock")
}

// PidFilePath returns the path to the daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "taskagentd.pid")
}

// DatabasePath is the default SQLite session store location.
func DatabasePath() string {
	return filepath.Join(StateDir(), "sessions.db")
}

// EnsureDirs creates the taskagent directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{ConfigDir(), StateDir(), RuntimeDir(), LogDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
