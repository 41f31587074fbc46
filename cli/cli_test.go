package cli

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/pkg/agent"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandlerMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "tool missing shows hint",
			err:  errors.ToolMissing("claude", "Install from: https://claude.ai/claude-code"),
			want: []string{"claude was not found", "Install from: https://claude.ai/claude-code"},
		},
		{
			name: "session not found",
			err:  errors.SessionNotFound("t9"),
			want: []string{"No session for task 't9'", "taskagent status"},
		},
		{
			name: "daemon down",
			err:  errors.DaemonUnavailable("/tmp/x.sock", nil),
			want: []string{"daemon is not running", "taskagent daemon start"},
		},
		{
			name: "working dir",
			err:  errors.WorkingDirInvalid("/nope", stderrors.New("missing")),
			want: []string{"/nope is not usable"},
		},
		{
			name: "plain error",
			err:  stderrors.New("boom"),
			want: []string{"Error: boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			returned := NewErrorHandler(&buf, false).Handle(tt.err)
			assert.Equal(t, tt.err, returned)
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestErrorHandlerVerboseDetails(t *testing.T) {
	var buf bytes.Buffer
	NewErrorHandler(&buf, true).Handle(errors.SessionNotFound("t1"))
	assert.Contains(t, buf.String(), `"code": "SESSION_NOT_FOUND"`)
	assert.NoError(t, NewErrorHandler(&buf, true).Handle(nil))
}

func TestLoadConfigFromFlag(t *testing.T) {
	t.Setenv("TASKAGENT_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "taskagent.yml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  command: my-agent\n"), 0644))

	cmd := NewStandardCommand("taskagent", "test")
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--json"}))

	cfg, err := LoadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "my-agent", cfg.Agent.Command)
	assert.True(t, GetOptions(cmd).JSONOutput)
}

func TestVersionCommandJSON(t *testing.T) {
	root := NewStandardCommand("taskagent", "test")
	root.AddCommand(NewVersionCommand("taskagent"))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--json"})
	require.NoError(t, root.Execute())

	var info map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "dev", info["version"])
}

func TestStyledHelpListsCommandsAndFlags(t *testing.T) {
	root := NewStandardCommand("taskagent", "Supervise coding agents")
	root.AddCommand(&cobra.Command{Use: "launch", Short: "Launch an agent", Run: func(*cobra.Command, []string) {}})
	ApplyStyledHelpRecursive(root)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())

	help := out.String()
	assert.Contains(t, help, "TASKAGENT")
	assert.Contains(t, help, "launch")
	assert.Contains(t, help, "--config")
}

func TestWrapText(t *testing.T) {
	wrapped := wrapText("one two three four five", 9)
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), 9)
	}
	assert.Equal(t, "short\nlines", wrapText("short\nlines", 40))
}

func TestProgressReporterBoard(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressReporter(&buf)

	p.Apply(agent.Event{Type: agent.EventSessionUpdated, TaskID: "b", Session: &agent.Session{
		TaskID: "b", Status: agent.StatusEditing, EditedFiles: []string{"main.go"},
	}, At: time.Now()})
	p.Apply(agent.Event{Type: agent.EventSessionUpdated, TaskID: "a", Session: &agent.Session{
		TaskID: "a", Status: agent.StatusFailed, LastError: "agent session exited before making changes",
	}})

	frame := buf.String()
	assert.NotContains(t, frame, "\033[2J", "buffers are not terminals")
	last := frame[strings.LastIndex(frame, "Watching"):]
	assert.Contains(t, last, "Watching 2 agent session(s)")
	assert.Less(t, strings.Index(last, "[x] a"), strings.Index(last, "[~] b"))
	assert.Contains(t, last, "(1 file(s): main.go)")

	buf.Reset()
	p.Apply(agent.Event{Type: agent.EventSessionRemoved, TaskID: "a"})
	assert.Contains(t, buf.String(), "Watching 1 agent session(s)")
	assert.NotContains(t, buf.String(), "[x] a")
}

func TestRenderSessionTable(t *testing.T) {
	now := time.Now()
	out := RenderSessionTable([]agent.Session{
		{TaskID: "t1", SessionName: "taskagent-t1-ab12", Status: agent.StatusCompleted, StartedAt: now.Add(-90 * time.Second), EditedFiles: []string{"a.go", "b.go"}},
		{TaskID: "t2", SessionName: "taskagent-t2-cd34", Status: agent.StatusPending, StartedAt: now.Add(-2 * time.Hour)},
	}, now)

	assert.Contains(t, out, "TASK")
	assert.Contains(t, out, "taskagent-t1-ab12")
	assert.Contains(t, out, "[*]")
	assert.Contains(t, out, "1m")
	assert.Contains(t, out, "2h")
}

func TestRenderSessionDetail(t *testing.T) {
	done := time.Now()
	out := RenderSessionDetail(agent.Session{
		TaskID:      "t1",
		SessionName: "taskagent-t1-ab12",
		Status:      agent.StatusCompleted,
		CompletedAt: &done,
		EditedFiles: []string{"src/login.go"},
		Plan:        "1. Update login",
	})
	assert.Contains(t, out, "EDITED FILES")
	assert.Contains(t, out, "src/login.go")
	assert.Contains(t, out, "1. Update login")
	assert.Contains(t, out, "Finished:")
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "-", formatAge(-time.Second))
	assert.Equal(t, "42s", formatAge(42*time.Second))
	assert.Equal(t, "3d", formatAge(73*time.Hour))
}
