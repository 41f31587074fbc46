package errors

import (
	stderrors "errors"
	"fmt"
	"os/exec"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *AgentError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *AgentError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// ToolMissing reports that a required executable could not be resolved.
func ToolMissing(tool, hint string) *AgentError {
	err := New(ErrCodeToolMissing, fmt.Sprintf("%s is not installed", tool)).
		WithDetail("tool", tool)
	if hint != "" {
		err = err.WithDetail("hint", hint)
	}
	return err
}

// LaunchFailure carries the diagnostic output of a failed spawn.
func LaunchFailure(output string) *AgentError {
	return New(ErrCodeLaunchFailed, fmt.Sprintf("failed to launch agent: %s", output)).
		WithDetail("output", output)
}

// PersistenceFailure wraps a store write that could not be completed.
func PersistenceFailure(taskID string, err error) *AgentError {
	return Wrap(err, ErrCodePersistenceFailed, fmt.Sprintf("failed to persist session for task '%s'", taskID)).
		WithDetail("taskId", taskID)
}

// CaptureFailure wraps an output capture error for a session.
func CaptureFailure(sessionName string, err error) *AgentError {
	return Wrap(err, ErrCodeCaptureFailed, fmt.Sprintf("failed to capture output of '%s'", sessionName)).
		WithDetail("session", sessionName)
}

// SessionNotFound is returned when no session exists for a task.
func SessionNotFound(taskID string) *AgentError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("no agent session for task '%s'", taskID)).
		WithDetail("taskId", taskID)
}

// SessionNotAlive is returned when a session's process has exited.
func SessionNotAlive(sessionName string) *AgentError {
	return New(ErrCodeSessionNotAlive, fmt.Sprintf("agent session '%s' is not running", sessionName)).
		WithDetail("session", sessionName)
}

func WorkingDirRequired() *AgentError {
	return New(ErrCodeWorkingDirRequired, "working directory is not configured")
}

// WorkingDirInvalid reports a working directory that does not exist or is not a directory.
func WorkingDirInvalid(dir string, err error) *AgentError {
	return Wrap(err, ErrCodeWorkingDirInvalid, fmt.Sprintf("working directory is not usable: %s", dir)).
		WithDetail("path", dir)
}

// CommandFailed creates a command execution failure error
func CommandFailed(cmd string, err error) *AgentError {
	agentErr := Wrap(err, ErrCodeCommandFailed, fmt.Sprintf("command failed: %s", cmd)).
		WithDetail("command", cmd)

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		agentErr = agentErr.WithDetail("exitCode", exitErr.ExitCode())
	}

	return agentErr
}

// DaemonUnavailable reports that the daemon socket could not be reached.
func DaemonUnavailable(socket string, err error) *AgentError {
	return Wrap(err, ErrCodeDaemonUnavailable, "taskagent daemon is not running").
		WithDetail("socket", socket)
}

// ShuttingDown rejects work submitted after the supervisor was closed.
func ShuttingDown() *AgentError {
	return New(ErrCodeDaemonUnavailable, "taskagent is shutting down")
}
