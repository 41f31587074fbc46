package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHomeOverride(t *testing.T) {
	root := t.TempDir()
	t.Setenv(HomeEnv, root)

	assert.Equal(t, filepath.Join(root, "config"), ConfigDir())
	assert.Equal(t, filepath.Join(root, "state"), StateDir())
	assert.Equal(t, filepath.Join(root, "run", "taskagentd.sock"), SocketPath())
	assert.Equal(t, filepath.Join(root, "state", "sessions.db"), DatabasePath())

	assert.NoError(t, EnsureDirs())
	assert.DirExists(t, LogDir())
}

func TestXDGFallback(t *testing.T) {
	t.Setenv(HomeEnv, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	t.Setenv("XDG_STATE_HOME", "/xdg/state")
	t.Setenv("XDG_RUNTIME_DIR", "")

	assert.Equal(t, "/xdg/config/taskagent", ConfigDir())
	assert.Equal(t, "/xdg/state/taskagent", StateDir())
	assert.Equal(t, "/xdg/state/taskagent/taskagentd.pid", PidFilePath())
	assert.Equal(t, StateDir(), RuntimeDir())
}
