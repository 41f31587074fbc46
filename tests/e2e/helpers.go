package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grovetools/tend/pkg/fs"
	"github.com/grovetools/tend/pkg/harness"
)

// findTaskagentBinary finds the taskagent binary under test. TASKAGENT_BIN
// wins over PATH.
func findTaskagentBinary() (string, error) {
	if bin := os.Getenv("TASKAGENT_BIN"); bin != "" {
		return bin, nil
	}
	path, err := exec.LookPath("taskagent")
	if err != nil {
		return "", fmt.Errorf("could not find 'taskagent' binary in PATH; build it with 'go build -o bin/taskagent ./cmd/taskagent'")
	}
	return path, nil
}

func requireTmux() (string, bool) {
	path, err := exec.LookPath("tmux")
	if err != nil {
		fmt.Println("tmux not found, skipping")
		return "", false
	}
	return path, true
}

// writeStubAgent writes an executable that stands in for the agent CLI.
func writeStubAgent(dir, body string) (string, error) {
	path := filepath.Join(dir, "stub-agent")
	if err := fs.WriteString(path, "#!/bin/sh\n"+body); err != nil {
		return "", err
	}
	return path, os.Chmod(path, 0755)
}

// sandbox is a daemon deployment private to one scenario.
type sandbox struct {
	bin        string
	configPath string
	workDir    string
	socketDir  string
	tmuxSocket string

	daemon *exec.Cmd
	cancel context.CancelFunc
}

// newSandbox writes a taskagent.yml that keeps the daemon socket, the
// database and the tmux server away from the user's own.
func newSandbox(ctx *harness.Context, name, agent string) (*sandbox, error) {
	bin, err := findTaskagentBinary()
	if err != nil {
		return nil, err
	}

	root := ctx.NewDir(name)
	work := filepath.Join(root, "work")
	if err := fs.CreateDir(work); err != nil {
		return nil, err
	}

	// Unix socket paths are length-limited; the sandbox root may be deep.
	socketDir, err := os.MkdirTemp("", "tae2e")
	if err != nil {
		return nil, err
	}

	sb := &sandbox{
		bin:        bin,
		configPath: filepath.Join(root, "taskagent.yml"),
		workDir:    work,
		socketDir:  socketDir,
		tmuxSocket: fmt.Sprintf("taskagent-e2e-%d", time.Now().UnixNano()),
	}

	configYAML := fmt.Sprintf(`agent:
  command: %s
  working_directory: %s
  skip_permissions: false
shell:
  path: /bin/sh
  profiles: []
tmux:
  socket: %s
supervisor:
  poll_interval: 200ms
  warmup_delay: 100ms
persistence:
  path: %s
daemon:
  socket: %s
`, agent, work, sb.tmuxSocket, filepath.Join(root, "sessions.db"), sb.socket())

	if err := fs.WriteString(sb.configPath, configYAML); err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *sandbox) socket() string {
	return filepath.Join(sb.socketDir, "d.sock")
}

// run executes a taskagent subcommand against the sandbox config.
func (sb *sandbox) run(ctx *harness.Context, args ...string) (stdout string, exitCode int, err error) {
	cmd := ctx.Command(sb.bin, append(args, "--config", sb.configPath)...).Dir(sb.workDir)
	result := cmd.Run()
	ctx.ShowCommandOutput(cmd.String(), result.Stdout, result.Stderr)
	return result.Stdout, result.ExitCode, result.Error
}

// startDaemon runs 'taskagent daemon start' in the background and waits for
// its socket to accept connections.
func (sb *sandbox) startDaemon(ctx *harness.Context) error {
	processCtx, cancel := context.WithCancel(context.Background())
	sb.cancel = cancel

	sb.daemon = exec.CommandContext(processCtx, sb.bin, "daemon", "start", "--config", sb.configPath)
	sb.daemon.Dir = sb.workDir
	sb.daemon.Env = append(os.Environ(),
		"HOME="+ctx.HomeDir(),
		"TASKAGENT_TMUX_SOCKET="+sb.tmuxSocket,
	)
	sb.daemon.Stdout = os.Stdout
	sb.daemon.Stderr = os.Stderr
	sb.daemon.Cancel = func() error { return sb.daemon.Process.Signal(syscall.SIGTERM) }
	sb.daemon.WaitDelay = 10 * time.Second

	if err := sb.daemon.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", sb.socket()); err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon socket %s did not come up", sb.socket())
}

// session fetches one session through 'taskagent status <id> --json'.
func (sb *sandbox) session(ctx *harness.Context, taskID string) (map[string]interface{}, error) {
	stdout, code, err := sb.run(ctx, "status", taskID, "--json")
	if err != nil || code != 0 {
		return nil, fmt.Errorf("status %s failed (exit %d): %v", taskID, code, err)
	}
	var sess map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &sess); err != nil {
		return nil, fmt.Errorf("status output is not JSON: %w", err)
	}
	return sess, nil
}

// waitForStatus polls until taskID reaches want.
func (sb *sandbox) waitForStatus(ctx *harness.Context, taskID, want string, timeout time.Duration) (map[string]interface{}, error) {
	deadline := time.Now().Add(timeout)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		sess, err := sb.session(ctx, taskID)
		if err == nil {
			last = sess
			if sess["status"] == want {
				return sess, nil
			}
		}
		time.Sleep(300 * time.Millisecond)
	}
	return nil, fmt.Errorf("task %s did not reach %q, last seen: %v", taskID, want, last)
}

func (sb *sandbox) hasTmuxSession(name string) bool {
	return exec.Command("tmux", "-L", sb.tmuxSocket, "has-session", "-t", "="+name).Run() == nil
}

// teardown stops the daemon, then the sandbox tmux server.
func (sb *sandbox) teardown() error {
	if sb.cancel != nil {
		sb.cancel()
	}
	if sb.daemon != nil {
		_ = sb.daemon.Wait()
	}
	_ = exec.Command("tmux", "-L", sb.tmuxSocket, "kill-server").Run()
	return os.RemoveAll(sb.socketDir)
}
