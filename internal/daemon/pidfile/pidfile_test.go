package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "taskagentd.pid")

	f, err := Acquire(path)
	require.NoError(t, err)

	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	running, runningPID, err := IsRunning(path)
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), runningPID)

	_, err = Acquire(path)
	assert.Error(t, err, "second acquire must fail while the lock is held")

	require.NoError(t, f.Release())
	assert.NoFileExists(t, path)

	running, _, err = IsRunning(path)
	require.NoError(t, err)
	assert.False(t, running)

	f, err = Acquire(path)
	require.NoError(t, err)
	require.NoError(t, f.Release())
}

func TestIsProcessAlive(t *testing.T) {
	assert.True(t, IsProcessAlive(os.Getpid()))
	assert.False(t, IsProcessAlive(0))
	assert.False(t, IsProcessAlive(-1))
}
