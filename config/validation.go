package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/grovetools/taskagent/errors"
)

// Validate checks field values that the schema cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.Command) == "" {
		return errors.ConfigInvalid("agent.command cannot be empty")
	}
	if strings.ContainsAny(c.Agent.SessionPrefix, ".: ") {
		return errors.ConfigInvalid("agent.session_prefix cannot contain '.', ':' or spaces").
			WithDetail("session_prefix", c.Agent.SessionPrefix)
	}

	if c.Tmux.CaptureLines < 1 {
		return errors.ConfigInvalid("tmux.capture_lines must be positive")
	}

	for field, value := range map[string]string{
		"supervisor.poll_interval": c.Supervisor.PollInterval,
		"supervisor.warmup_delay":  c.Supervisor.WarmupDelay,
	} {
		if err := validateDuration(field, value); err != nil {
			return err
		}
	}
	if c.Supervisor.PersistRetries < 0 {
		return errors.ConfigInvalid("supervisor.persist_retries cannot be negative")
	}

	switch c.Persistence.Driver {
	case DriverSQLite, DriverFile, DriverMemory:
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown persistence.driver '%s'", c.Persistence.Driver)).
			WithDetail("driver", c.Persistence.Driver)
	}

	return nil
}

func validateDuration(field, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, fmt.Sprintf("%s is not a duration: %q", field, value)).
			WithDetail("field", field)
	}
	if d <= 0 {
		return errors.ConfigInvalid(fmt.Sprintf("%s must be positive", field)).WithDetail("field", field)
	}
	return nil
}

// ResolveWorkingDir picks the caller's directory, falling back to
// agent.working_directory, and checks that it exists.
func (c *Config) ResolveWorkingDir(override string) (string, error) {
	dir := strings.TrimSpace(override)
	if dir == "" {
		dir = strings.TrimSpace(c.Agent.WorkingDirectory)
	}
	return CheckWorkingDir(dir)
}

// CheckWorkingDir expands a leading ~ and verifies dir is an existing directory.
func CheckWorkingDir(dir string) (string, error) {
	if dir == "" {
		return "", errors.WorkingDirRequired()
	}
	dir = ExpandHome(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return "", errors.WorkingDirInvalid(dir, err)
	}
	if !info.IsDir() {
		return "", errors.WorkingDirInvalid(dir, fmt.Errorf("not a directory"))
	}
	return dir, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
