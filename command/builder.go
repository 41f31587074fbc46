package command

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	// DefaultTimeout is the default command execution timeout
	DefaultTimeout = 2 * time.Minute

	// MaxTimeout is the maximum allowed timeout
	MaxTimeout = 10 * time.Minute
)

var sessionNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// SafeBuilder provides secure command execution with validation
type SafeBuilder struct {
	defaultTimeout time.Duration
	validators     map[string]func(string) error
	executor       Executor
}

// NewSafeBuilder creates a new SafeBuilder instance with a RealExecutor
func NewSafeBuilder() *SafeBuilder {
	return NewSafeBuilderWithExecutor(&RealExecutor{})
}

// NewSafeBuilderWithExecutor creates a new SafeBuilder with a custom Executor
func NewSafeBuilderWithExecutor(exec Executor) *SafeBuilder {
	return &SafeBuilder{
		defaultTimeout: DefaultTimeout,
		validators:     makeDefaultValidators(),
		executor:       exec,
	}
}

func makeDefaultValidators() map[string]func(string) error {
	return map[string]func(string) error{
		"sessionName": validateSessionName,
		"taskID":      validateTaskID,
		"fileName":    validateFileName,
		"workingDir":  validateWorkingDir,
	}
}

// validateSessionName accepts names that tmux will not reinterpret as
// a window or pane target.
func validateSessionName(name string) error {
	if name == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if !sessionNameRegex.MatchString(name) {
		return fmt.Errorf("invalid session name: %s (must contain only letters, digits, underscores, and hyphens)", name)
	}
	if len(name) > 100 {
		return fmt.Errorf("session name too long: %s (max 100 characters)", name)
	}
	return nil
}

func validateTaskID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("task id cannot be empty")
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return fmt.Errorf("task id contains control characters")
	}
	return nil
}

// validateFileName ensures file paths are safe
func validateFileName(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	if strings.Contains(path, "..") {
		return fmt.Errorf("file path cannot contain '..'")
	}

	// Prompt files are interpolated into a shell command line.
	if strings.ContainsAny(path, ";|&$`'\"\n") {
		return fmt.Errorf("file path contains invalid characters")
	}

	return nil
}

func validateWorkingDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("working directory cannot be empty")
	}
	if strings.ContainsAny(dir, "\x00\n") {
		return fmt.Errorf("working directory contains invalid characters")
	}
	return nil
}

// Command represents a safe command configuration
type Command struct {
	parent   context.Context
	name     string
	args     []string
	dir      string
	env      []string
	timeout  time.Duration
	executor Executor
}

// Build creates a new command with validation
func (sb *SafeBuilder) Build(ctx context.Context, name string, args ...string) (*Command, error) {
	if name == "" {
		return nil, fmt.Errorf("command name cannot be empty")
	}

	return &Command{
		parent:   ctx,
		name:     name,
		args:     args,
		timeout:  sb.defaultTimeout,
		executor: sb.executor,
	}, nil
}

// WithTimeout sets a custom timeout for the command
func (c *Command) WithTimeout(timeout time.Duration) *Command {
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	c.timeout = timeout
	return c
}

// WithDir sets the working directory the command runs in.
func (c *Command) WithDir(dir string) *Command {
	c.dir = dir
	return c
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func (c *Command) WithEnv(env ...string) *Command {
	c.env = append(c.env, env...)
	return c
}

// Validate validates specific arguments
func (sb *SafeBuilder) Validate(argType string, value string) error {
	validator, exists := sb.validators[argType]
	if !exists {
		return fmt.Errorf("no validator for argument type: %s", argType)
	}

	return validator(value)
}

// Exec creates an exec.Cmd bound to ctx. The caller owns the command's
// lifetime; use CombinedOutput to also apply the configured timeout.
func (c *Command) Exec(ctx context.Context) *exec.Cmd {
	cmd := c.executor.CommandContext(ctx, c.name, c.args...) //nolint:gosec // SafeBuilder provides validation
	if c.dir != "" {
		cmd.Dir = c.dir
	}
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	return cmd
}

// CombinedOutput runs the command under its timeout and returns stdout and
// stderr together.
func (c *Command) CombinedOutput() ([]byte, error) {
	ctx, cancel := context.WithTimeout(c.parent, c.timeout)
	defer cancel()
	return c.Exec(ctx).CombinedOutput()
}

// String renders the command line for logs and error details.
func (c *Command) String() string {
	return strings.TrimSpace(c.name + " " + strings.Join(c.args, " "))
}
