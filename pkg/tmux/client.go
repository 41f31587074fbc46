package tmux

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/grovetools/taskagent/command"
)

// Runner executes a tmux invocation and returns its combined output.
// Tests substitute a fake; production uses the SafeBuilder.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandError is returned when tmux ran but exited unsuccessfully.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("tmux command failed: `tmux %s`: %v, output: %s", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

type Client struct {
	binary string
	socket string // Socket name for a dedicated tmux server (uses -L flag)
	runner Runner
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the tmux executable.
func WithBinary(binary string) Option {
	return func(c *Client) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithSocket isolates the client on a dedicated tmux server.
func WithSocket(socket string) Option {
	return func(c *Client) { c.socket = socket }
}

// WithRunner replaces command execution. The binary is not resolved on PATH
// when a runner is supplied.
func WithRunner(runner Runner) Option {
	return func(c *Client) { c.runner = runner }
}

// NewClient returns a client for the given options. Without WithRunner the
// tmux binary must be resolvable on PATH.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{binary: "tmux"}
	for _, opt := range opts {
		opt(c)
	}

	if c.runner == nil {
		if _, err := exec.LookPath(c.binary); err != nil {
			return nil, fmt.Errorf("%s command not found in PATH: %w", c.binary, err)
		}
		c.runner = builderRunner(command.NewSafeBuilder())
	}
	return c, nil
}

func builderRunner(builder *command.SafeBuilder) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		cmd, err := builder.Build(ctx, name, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to build command: %w", err)
		}
		return cmd.CombinedOutput()
	}
}

// Socket returns the socket name this client uses, or empty string for default.
func (c *Client) Socket() string {
	return c.socket
}

// Binary returns the tmux executable this client invokes.
func (c *Client) Binary() string {
	return c.binary
}

// KillServer kills the tmux server for this client's socket.
func (c *Client) KillServer(ctx context.Context) error {
	_, err := c.run(ctx, "kill-server")
	if err != nil && strings.Contains(err.Error(), "no server running") {
		return nil
	}
	return err
}

// Version reports `tmux -V`.
func (c *Client) Version(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "-V")
	return strings.TrimSpace(out), err
}

func (c *Client) baseArgs(args ...string) []string {
	if c.socket != "" {
		return append([]string{"-L", c.socket}, args...)
	}
	return args
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	full := c.baseArgs(args...)
	output, err := c.runner(ctx, c.binary, full...)
	if err != nil {
		// A tmux exit status is a CommandError; failure to start the
		// process at all is passed through.
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) || len(output) > 0 {
			return string(output), &CommandError{Args: full, Output: strings.TrimSpace(string(output)), Err: err}
		}
		return string(output), err
	}
	return string(output), nil
}

// IsCommandError reports whether err came from tmux exiting non-zero.
func IsCommandError(err error) bool {
	var cmdErr *CommandError
	return stderrors.As(err, &cmdErr)
}
