package tmux

import (
	"context"
	"strconv"
	"strings"
)

// exact makes a target match only the session with exactly this name.
func exact(sessionName string) string {
	return "=" + sessionName
}

// SessionExists reports whether a session with exactly this name exists.
func (c *Client) SessionExists(ctx context.Context, sessionName string) (bool, error) {
	_, err := c.run(ctx, "has-session", "-t", exact(sessionName))
	if err == nil {
		return true, nil
	}
	if IsCommandError(err) {
		return false, nil
	}
	return false, err
}

// NewSession starts a detached session running command, or the default
// shell when command is empty. The combined output is returned on failure
// for diagnostics.
func (c *Client) NewSession(ctx context.Context, sessionName, workingDir string, command ...string) (string, error) {
	args := []string{"new-session", "-d", "-s", sessionName}
	if workingDir != "" {
		args = append(args, "-c", workingDir)
	}
	args = append(args, command...)
	return c.run(ctx, args...)
}

func (c *Client) KillSession(ctx context.Context, sessionName string) error {
	_, err := c.run(ctx, "kill-session", "-t", exact(sessionName))
	return err
}

// CaptureHistory prints the visible pane plus up to lines of scrollback,
// without escape sequences.
func (c *Client) CaptureHistory(ctx context.Context, sessionName string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-t", exact(sessionName) + ":"}
	if lines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(lines))
	}
	return c.run(ctx, args...)
}

func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	output, err := c.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		// tmux exits non-zero when no server is running
		if IsCommandError(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var sessions []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			sessions = append(sessions, line)
		}
	}
	return sessions, nil
}

// AttachCommand returns the argv that attaches a terminal to the session.
func (c *Client) AttachCommand(sessionName string) []string {
	return append([]string{c.binary}, c.baseArgs("attach-session", "-t", exact(sessionName))...)
}
