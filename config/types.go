package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DefaultInstructions is appended to every task prompt unless overridden.
const DefaultInstructions = `Analyze this task and create an implementation plan. Consider:
1. What files need to be modified
2. What is the approach
3. Any potential issues or considerations
4. Estimated complexity

After creating the plan, wait for user approval before implementing.`

// Persistence drivers.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Config is the root of taskagent.yml.
type Config struct {
	Agent       AgentConfig       `yaml:"agent" toml:"agent" jsonschema:"description=Coding agent invocation"`
	Tmux        TmuxConfig        `yaml:"tmux" toml:"tmux" jsonschema:"description=Terminal multiplexer settings"`
	Shell       ShellConfig       `yaml:"shell" toml:"shell" jsonschema:"description=Login shell used to resolve tools and run the agent"`
	Supervisor  SupervisorConfig  `yaml:"supervisor" toml:"supervisor" jsonschema:"description=Polling loop timing"`
	Persistence PersistenceConfig `yaml:"persistence" toml:"persistence" jsonschema:"description=Where session state is stored for crash recovery"`
	Daemon      DaemonConfig      `yaml:"daemon" toml:"daemon" jsonschema:"description=Daemon socket settings"`
	Terminal    TerminalConfig    `yaml:"terminal" toml:"terminal" jsonschema:"description=External terminal used by attach/open"`

	// Extensions captures all other top-level keys (e.g. logging).
	Extensions map[string]interface{} `yaml:",inline" toml:"-" jsonschema:"-"`
}

type AgentConfig struct {
	WorkingDirectory string   `yaml:"working_directory,omitempty" toml:"working_directory,omitempty" jsonschema:"description=Directory the agent runs in when the caller does not supply one"`
	Command          string   `yaml:"command,omitempty" toml:"command,omitempty" jsonschema:"description=Agent CLI executable (default: claude)"`
	Args             []string `yaml:"args,omitempty" toml:"args,omitempty" jsonschema:"description=Extra arguments placed before the prompt"`
	SkipPermissions  *bool    `yaml:"skip_permissions,omitempty" toml:"skip_permissions,omitempty" jsonschema:"description=Pass --dangerously-skip-permissions to the agent (default: true)"`
	SessionPrefix    string   `yaml:"session_prefix,omitempty" toml:"session_prefix,omitempty" jsonschema:"description=Prefix for tmux session names (default: taskagent-)"`
	PromptPrefix     string   `yaml:"prompt_prefix,omitempty" toml:"prompt_prefix,omitempty" jsonschema:"description=Additional context inserted into every prompt"`
	Instructions     string   `yaml:"instructions,omitempty" toml:"instructions,omitempty" jsonschema:"description=Instructions block appended to every prompt"`
	InstallHint      string   `yaml:"install_hint,omitempty" toml:"install_hint,omitempty" jsonschema:"description=Shown when the agent CLI cannot be found"`
}

type TmuxConfig struct {
	Binary       string `yaml:"binary,omitempty" toml:"binary,omitempty" jsonschema:"description=tmux executable (default: tmux)"`
	Socket       string `yaml:"socket,omitempty" toml:"socket,omitempty" jsonschema:"description=tmux -L socket name (TASKAGENT_TMUX_SOCKET takes precedence)"`
	CaptureLines int    `yaml:"capture_lines,omitempty" toml:"capture_lines,omitempty" jsonschema:"description=Scrollback lines captured per poll (default: 500),minimum=1"`
}

type ShellConfig struct {
	Path     string   `yaml:"path,omitempty" toml:"path,omitempty" jsonschema:"description=Shell executable (default: $SHELL or /bin/sh)"`
	Profiles []string `yaml:"profiles,omitempty" toml:"profiles,omitempty" jsonschema:"description=Profile scripts sourced before resolving tools and starting the agent"`
}

type SupervisorConfig struct {
	PollInterval string `yaml:"poll_interval,omitempty" toml:"poll_interval,omitempty" jsonschema:"description=Delay between output captures (default: 5s)"`
	WarmupDelay  string `yaml:"warmup_delay,omitempty" toml:"warmup_delay,omitempty" jsonschema:"description=Delay after spawning before the first poll (default: 3s)"`
	// PersistRetries bounds retries of a single store write.
	PersistRetries int `yaml:"persist_retries,omitempty" toml:"persist_retries,omitempty" jsonschema:"description=Retries for a failed store write (default: 3),minimum=0"`
}

type PersistenceConfig struct {
	Driver string `yaml:"driver,omitempty" toml:"driver,omitempty" jsonschema:"description=sqlite | file | memory (default: sqlite),enum=sqlite,enum=file,enum=memory"`
	Path   string `yaml:"path,omitempty" toml:"path,omitempty" jsonschema:"description=Database file (sqlite) or directory (file)"`
}

type DaemonConfig struct {
	Socket string `yaml:"socket,omitempty" toml:"socket,omitempty" jsonschema:"description=Unix socket the daemon listens on"`
}

// TerminalConfig describes how to open an external terminal attached to a
// session. {session} and {attach} are substituted in each argument.
type TerminalConfig struct {
	OpenCommand []string `yaml:"open_command,omitempty" toml:"open_command,omitempty" jsonschema:"description=Command used to open a terminal attached to a session"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Agent.Command == "" {
		c.Agent.Command = "claude"
	}
	if c.Agent.SkipPermissions == nil {
		skip := true
		c.Agent.SkipPermissions = &skip
	}
	if c.Agent.SessionPrefix == "" {
		c.Agent.SessionPrefix = "taskagent-"
	}
	if c.Agent.Instructions == "" {
		c.Agent.Instructions = DefaultInstructions
	}
	if c.Agent.InstallHint == "" && c.Agent.Command == "claude" {
		c.Agent.InstallHint = "Install from: https://claude.ai/claude-code"
	}

	if c.Tmux.Binary == "" {
		c.Tmux.Binary = "tmux"
	}
	if socket := os.Getenv("TASKAGENT_TMUX_SOCKET"); socket != "" {
		c.Tmux.Socket = socket
	}
	if c.Tmux.CaptureLines == 0 {
		c.Tmux.CaptureLines = 500
	}

	if c.Shell.Path == "" {
		c.Shell.Path = os.Getenv("SHELL")
		if c.Shell.Path == "" {
			c.Shell.Path = "/bin/sh"
		}
	}
	if c.Shell.Profiles == nil {
		c.Shell.Profiles = defaultProfiles(c.Shell.Path)
	}

	if c.Supervisor.PollInterval == "" {
		c.Supervisor.PollInterval = "5s"
	}
	if c.Supervisor.WarmupDelay == "" {
		c.Supervisor.WarmupDelay = "3s"
	}
	if c.Supervisor.PersistRetries == 0 {
		c.Supervisor.PersistRetries = 3
	}

	if c.Persistence.Driver == "" {
		c.Persistence.Driver = DriverSQLite
	}

	if len(c.Terminal.OpenCommand) == 0 {
		c.Terminal.OpenCommand = defaultOpenCommand()
	}
}

// defaultProfiles picks the startup files the login shell itself reads, so
// a strict sh never sources another shell's syntax.
func defaultProfiles(shell string) []string {
	switch filepath.Base(shell) {
	case "zsh":
		return []string{"~/.zprofile", "~/.zshrc"}
	case "bash":
		return []string{"~/.bash_profile", "~/.bashrc"}
	default:
		return []string{"~/.profile"}
	}
}

func defaultOpenCommand() []string {
	if runtime.GOOS == "darwin" {
		return []string{
			"osascript",
			"-e", `tell application "Terminal" to do script "{attach}"`,
			"-e", `tell application "Terminal" to activate`,
		}
	}
	return []string{"x-terminal-emulator", "-e", "sh", "-c", "{attach}"}
}

// AgentArgs returns the arguments passed to the agent CLI before the prompt.
func (c *Config) AgentArgs() []string {
	args := append([]string(nil), c.Agent.Args...)
	if c.Agent.SkipPermissions != nil && *c.Agent.SkipPermissions {
		args = append([]string{"--dangerously-skip-permissions"}, args...)
	}
	return args
}

// PollInterval parses supervisor.poll_interval.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Supervisor.PollInterval, 5*time.Second)
}

// WarmupDelay parses supervisor.warmup_delay.
func (c *Config) WarmupDelay() time.Duration {
	return parseDurationOr(c.Supervisor.WarmupDelay, 3*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// UnmarshalExtension decodes a top-level section that is not part of the core
// schema into target, which must be a pointer. A missing key leaves target
// untouched.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
