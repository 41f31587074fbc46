package cli

import (
	"fmt"
	"io"

	"github.com/grovetools/taskagent/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler writing to out
func NewErrorHandler(out io.Writer, verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     out,
	}
}

// Handle prints a message and a hint for err based on its code, and
// returns err unchanged.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	agentErr, _ := errors.As(err)
	detail := func(key string) string {
		if agentErr == nil {
			return ""
		}
		return agentErr.Detail(key)
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "❌ Configuration not found. Create taskagent.yml or pass --config.\n")

	case errors.ErrCodeConfigInvalid:
		fmt.Fprintf(h.Out, "❌ %s\n", agentErr.Message)
		if agentErr.Cause != nil {
			fmt.Fprintf(h.Out, "   %v\n", agentErr.Cause)
		}
		if path := detail("path"); path != "" {
			fmt.Fprintf(h.Out, "   in %s\n", path)
		}

	case errors.ErrCodeToolMissing:
		fmt.Fprintf(h.Out, "❌ %s was not found on PATH or in your shell profile\n", detail("tool"))
		if hint := detail("hint"); hint != "" {
			fmt.Fprintf(h.Out, "%s\n", hint)
		}

	case errors.ErrCodeWorkingDirRequired:
		fmt.Fprintf(h.Out, "❌ No working directory. Pass --dir or set agent.working_directory.\n")

	case errors.ErrCodeWorkingDirInvalid:
		fmt.Fprintf(h.Out, "❌ Working directory %s is not usable\n", detail("path"))

	case errors.ErrCodeSessionNotFound:
		fmt.Fprintf(h.Out, "❌ No session for task '%s'\n", detail("taskId"))
		fmt.Fprintf(h.Out, "Run 'taskagent status' to see known sessions.\n")

	case errors.ErrCodeSessionNotAlive:
		fmt.Fprintf(h.Out, "❌ The agent session has already exited\n")
		fmt.Fprintf(h.Out, "Restart it with 'taskagent restart <task-id>'.\n")

	case errors.ErrCodeLaunchFailed:
		fmt.Fprintf(h.Out, "❌ The agent could not be started: %s\n", detail("output"))

	case errors.ErrCodeDaemonUnavailable:
		fmt.Fprintf(h.Out, "❌ The taskagent daemon is not running\n")
		fmt.Fprintf(h.Out, "Start it with 'taskagent daemon start'.\n")

	default:
		fmt.Fprintf(h.Out, "❌ Error: %v\n", err)
	}

	if h.Verbose && agentErr != nil {
		fmt.Fprintf(h.Out, "\nError details:\n%s\n", agentErr.ToJSON())
	}
	return err
}
