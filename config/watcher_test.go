package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskagent.yml")
	require.NoError(t, os.WriteFile(path, []byte("agent: {}\n"), 0644))

	changes := make(chan string, 8)
	w, err := NewWatcher([]string{dir}, 50*time.Millisecond, quietEntry(), func(file string) {
		changes <- file
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("agent:\n  command: claude\n"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	select {
	case file := <-changes:
		assert.Equal(t, path, file)
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case file := <-changes:
		t.Fatalf("unexpected second notification for %s", file)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherRequiresADirectory(t *testing.T) {
	_, err := NewWatcher([]string{filepath.Join(t.TempDir(), "missing")}, 0, quietEntry(), nil)
	assert.Error(t, err)
}
