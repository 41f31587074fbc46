package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grovetools/taskagent/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("TASKAGENT_HOME", home)
	t.Setenv("TASKAGENT_TMUX_SOCKET", "")
	return home
}

func TestLoadFromBytesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadFromBytes([]byte(`
agent:
  working_directory: /tmp
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp", cfg.Agent.WorkingDirectory)
	assert.Equal(t, "claude", cfg.Agent.Command)
	assert.Equal(t, "taskagent-", cfg.Agent.SessionPrefix)
	assert.Equal(t, DefaultInstructions, cfg.Agent.Instructions)
	assert.Equal(t, []string{"--dangerously-skip-permissions"}, cfg.AgentArgs())
	assert.Equal(t, "tmux", cfg.Tmux.Binary)
	assert.Equal(t, 500, cfg.Tmux.CaptureLines)
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.Equal(t, 3*time.Second, cfg.WarmupDelay())
	assert.Equal(t, DriverSQLite, cfg.Persistence.Driver)
	assert.NotEmpty(t, cfg.Terminal.OpenCommand)
}

func TestSkipPermissionsDisabled(t *testing.T) {
	isolate(t)

	cfg, err := LoadFromBytes([]byte(`
agent:
  skip_permissions: false
  args: ["--model", "opus"]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"--model", "opus"}, cfg.AgentArgs())
}

func TestExtensions(t *testing.T) {
	isolate(t)

	cfg, err := LoadFromBytes([]byte(`
supervisor:
  poll_interval: 2s

logging:
  level: debug
  format:
    preset: json
`))
	require.NoError(t, err)
	require.Contains(t, cfg.Extensions, "logging")

	type formatCfg struct {
		Preset string `yaml:"preset"`
	}
	type loggingCfg struct {
		Level  string    `yaml:"level"`
		Format formatCfg `yaml:"format"`
	}

	var logCfg loggingCfg
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "debug", logCfg.Level)
	assert.Equal(t, "json", logCfg.Format.Preset)

	var missing loggingCfg
	require.NoError(t, cfg.UnmarshalExtension("nope", &missing))
	assert.Empty(t, missing.Level)

	assert.Equal(t, 2*time.Second, cfg.PollInterval())
}

func TestEnvExpansion(t *testing.T) {
	isolate(t)
	t.Setenv("TASKAGENT_TEST_DIR", "/srv/project")

	cfg, err := LoadFromBytes([]byte(`
agent:
  working_directory: ${TASKAGENT_TEST_DIR}
  prompt_prefix: ${TASKAGENT_UNSET_VAR:-be brief}
`))
	require.NoError(t, err)
	assert.Equal(t, "/srv/project", cfg.Agent.WorkingDirectory)
	assert.Equal(t, "be brief", cfg.Agent.PromptPrefix)
}

func TestValidationErrors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		yaml string
	}{
		{"bad duration", "supervisor:\n  poll_interval: soon\n"},
		{"negative duration", "supervisor:\n  warmup_delay: -1s\n"},
		{"unknown driver", "persistence:\n  driver: postgres\n"},
		{"unknown core key", "agent:\n  comand: claude\n"},
		{"bad prefix", "agent:\n  session_prefix: \"a.b\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid), "got %v", err)
		})
	}
}

func TestLoadFromLayering(t *testing.T) {
	home := isolate(t)

	globalDir := filepath.Join(home, "config")
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "taskagent.yml"), []byte(`
agent:
  command: claude
  prompt_prefix: global prefix
tmux:
  capture_lines: 300
`), 0644))

	project := t.TempDir()
	nested := filepath.Join(project, "sub", "dir")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "taskagent.yml"), []byte(`
agent:
  prompt_prefix: project prefix
`), 0644))

	cfg, err := LoadFrom(nested)
	require.NoError(t, err)
	assert.Equal(t, "project prefix", cfg.Agent.PromptPrefix)
	assert.Equal(t, 300, cfg.Tmux.CaptureLines)

	path, err := FindConfigFile(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, "taskagent.yml"), path)
}

func TestLoadTOML(t *testing.T) {
	isolate(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "taskagent.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[agent]
working_directory = "/work"

[tmux]
capture_lines = 120

[persistence]
driver = "file"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/work", cfg.Agent.WorkingDirectory)
	assert.Equal(t, 120, cfg.Tmux.CaptureLines)
	assert.Equal(t, DriverFile, cfg.Persistence.Driver)
}

func TestLoadOrDefault(t *testing.T) {
	isolate(t)

	_, err := LoadFrom(t.TempDir())
	assert.True(t, errors.Is(err, errors.ErrCodeConfigNotFound))

	cfg, err := LoadOrDefault(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.Agent.Command)
}

func TestResolveWorkingDir(t *testing.T) {
	isolate(t)
	cfg := Default()

	_, err := cfg.ResolveWorkingDir("")
	assert.True(t, errors.Is(err, errors.ErrCodeWorkingDirRequired))

	dir := t.TempDir()
	cfg.Agent.WorkingDirectory = dir
	got, err := cfg.ResolveWorkingDir("")
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	_, err = cfg.ResolveWorkingDir(filepath.Join(dir, "missing"))
	assert.True(t, errors.Is(err, errors.ErrCodeWorkingDirInvalid))

	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = cfg.ResolveWorkingDir(file)
	assert.True(t, errors.Is(err, errors.ErrCodeWorkingDirInvalid))
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"working_directory"`)
	assert.Contains(t, string(data), `"poll_interval"`)
	assert.NotContains(t, string(data), `"Extensions"`)
}
