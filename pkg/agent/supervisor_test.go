package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/taskagent/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.sup.Launch(ctx, "t1", "fix the bug", "/work"))
	require.NoError(t, h.sup.Launch(ctx, "t1", "a different prompt", "/elsewhere"))

	assert.Equal(t, 1, h.launcher.spawnCount())
	sess, ok := h.sup.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, sess.Status)
	assert.Equal(t, "fix the bug", sess.Prompt)
	assert.Equal(t, "taskagent-t1", sess.SessionName)
	assert.Equal(t, "/work", sess.WorkingDir)

	rec, ok := h.persisted(t, "t1")
	require.True(t, ok)
	assert.Equal(t, "processing", rec.Status)
}

func TestConcurrentLaunchesSpawnOnce(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.sup.Launch(context.Background(), "t1", "prompt", "/work"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.launcher.spawnCount())
	assert.Len(t, h.sup.List(), 1)
}

func TestLaunchValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.sup.Launch(ctx, "t1", "prompt", "")
	assert.True(t, errors.Is(err, errors.ErrCodeWorkingDirRequired))

	err = h.sup.Launch(ctx, "  ", "prompt", "/work")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	assert.Zero(t, h.launcher.spawnCount())
	assert.False(t, h.sup.Has("t1"))
}

func TestLaunchSpawnFailureKeepsFailedSession(t *testing.T) {
	h := newHarness(t)
	h.launcher.spawnErr = errors.ToolMissing("claude", "Install from: https://claude.ai/claude-code")

	err := h.sup.Launch(context.Background(), "t1", "prompt", "/work")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeToolMissing))

	sess, ok := h.sup.Get("t1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, sess.Status)
	assert.Contains(t, sess.LastError, "claude is not installed")

	rec, ok := h.persisted(t, "t1")
	require.True(t, ok)
	assert.Equal(t, "failed", rec.Status)
}

func TestLaunchTaskBuildsPrompt(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.PromptBuilder = NewPromptBuilder("repo uses go 1.24", "plan first")
	})

	task := Task{ID: "t1", Description: "Fix login redirect"}
	require.NoError(t, h.sup.LaunchTask(context.Background(), task, "/work"))

	require.Equal(t, 1, h.launcher.spawnCount())
	prompt := h.launcher.spawns[0].prompt
	assert.Contains(t, prompt, "# Task\n\nFix login redirect")
	assert.Contains(t, prompt, "Additional context:\nrepo uses go 1.24")
	assert.Contains(t, prompt, "## Instructions\n\nplan first")
}

func TestPollingEditingThenCompletion(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Launch(context.Background(), "t1", "prompt", "/work"))

	h.capture.set("taskagent-t1", "● Update(src/main.go)\n  ⎿ Updated src/main.go\n")
	require.Eventually(t, func() bool { return h.status("t1") == StatusEditing }, waitFor, tickFor)

	sess, _ := h.sup.Get("t1")
	assert.Equal(t, []string{"src/main.go"}, sess.EditedFiles)
	assert.Nil(t, sess.CompletedAt)

	final := "● Update(src/main.go)\n● Write(src/util.go)\nWould you like to proceed?\n"
	h.capture.set("taskagent-t1", final)
	require.Eventually(t, func() bool { return h.status("t1") == StatusCompleted }, waitFor, tickFor)

	sess, _ = h.sup.Get("t1")
	assert.Equal(t, final, sess.Plan)
	assert.Equal(t, final, sess.Output)
	assert.Equal(t, []string{"src/main.go", "src/util.go"}, sess.EditedFiles)
	require.NotNil(t, sess.CompletedAt)

	rec, ok := h.persisted(t, "t1")
	require.True(t, ok)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, final, rec.Plan)
	assert.Equal(t, []string{"src/main.go", "src/util.go"}, rec.EditedFiles)
}

func TestEditedFilesNeverShrink(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Launch(context.Background(), "t1", "prompt", "/work"))

	h.capture.set("taskagent-t1", "Edit(a.go)\n")
	require.Eventually(t, func() bool { return h.status("t1") == StatusEditing }, waitFor, tickFor)

	// a.go scrolled out of the capture window.
	h.capture.set("taskagent-t1", "Edit(b.go)\n")
	require.Eventually(t, func() bool {
		sess, _ := h.sup.Get("t1")
		return len(sess.EditedFiles) == 2
	}, waitFor, tickFor)

	sess, _ := h.sup.Get("t1")
	assert.Equal(t, []string{"a.go", "b.go"}, sess.EditedFiles)
}

func TestProcessExitWithEditsCompletes(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Launch(context.Background(), "t1", "prompt", "/work"))

	h.capture.set("taskagent-t1", "Write(README.md)\n")
	require.Eventually(t, func() bool { return h.status("t1") == StatusEditing }, waitFor, tickFor)

	h.launcher.setAlive("taskagent-t1", false)
	require.Eventually(t, func() bool { return h.status("t1") == StatusCompleted }, waitFor, tickFor)

	sess, _ := h.sup.Get("t1")
	require.NotNil(t, sess.CompletedAt)
	assert.Empty(t, sess.Plan)

	rec, _ := h.persisted(t, "t1")
	assert.Equal(t, "completed", rec.Status)
}

func TestProcessExitWithoutEditsFails(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Launch(context.Background(), "t1", "prompt", "/work"))

	h.capture.set("taskagent-t1", "thinking...\n")
	h.launcher.setAlive("taskagent-t1", false)
	require.Eventually(t, func() bool { return h.status("t1") == StatusFailed }, waitFor, tickFor)

	sess, _ := h.sup.Get("t1")
	assert.Equal(t, "thinking...\n", sess.Output)
	assert.NotEmpty(t, sess.LastError)
	require.NotNil(t, sess.CompletedAt)

	rec, _ := h.persisted(t, "t1")
	assert.Equal(t, "failed", rec.Status)
}

func TestCaptureErrorsStillCheckLiveness(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Launch(context.Background(), "t1", "prompt", "/work"))

	h.capture.set("taskagent-t1", "Edit(a.go)\n")
	require.Eventually(t, func() bool { return h.status("t1") == StatusEditing }, waitFor, tickFor)

	h.capture.setErr(errors.CaptureFailure("taskagent-t1", assert.AnError))
	calls := h.capture.callCount()
	require.Eventually(t, func() bool { return h.capture.callCount() > calls+3 }, waitFor, tickFor)

	sess, _ := h.sup.Get("t1")
	assert.Equal(t, StatusEditing, sess.Status)
	assert.Equal(t, "Edit(a.go)\n", sess.Output)

	h.launcher.setAlive("taskagent-t1", false)
	require.Eventually(t, func() bool { return h.status("t1") == StatusCompleted }, waitFor, tickFor)
}

func TestStatusSequenceIsMonotonic(t *testing.T) {
	h := newHarness(t)
	events := h.sup.Subscribe()

	require.NoError(t, h.sup.Launch(context.Background(), "t1", "prompt", "/work"))
	h.capture.set("taskagent-t1", "Edit(a.go)\n")
	require.Eventually(t, func() bool { return h.status("t1") == StatusEditing }, waitFor, tickFor)
	h.capture.set("taskagent-t1", "Edit(a.go)\nShould I proceed?")
	require.Eventually(t, func() bool { return h.status("t1") == StatusCompleted }, waitFor, tickFor)

	var seen []Status
	for {
		select {
		case ev := <-events:
			require.Equal(t, EventSessionUpdated, ev.Type)
			if n := len(seen); n == 0 || seen[n-1] != ev.Session.Status {
				seen = append(seen, ev.Session.Status)
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, []Status{StatusPending, StatusProcessing, StatusEditing, StatusCompleted}, seen)

	// The loop has ended; the terminal state holds without a restart.
	calls := h.capture.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, h.capture.callCount())
	assert.Equal(t, StatusCompleted, h.status("t1"))
}

func TestPersistenceIsThrottled(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Launch(context.Background(), "t1", "prompt", "/work"))
	h.capture.set("taskagent-t1", "working on it\n")

	calls := h.capture.callCount()
	require.Eventually(t, func() bool { return h.capture.callCount() > calls+5 }, waitFor, tickFor)
	h.flush(t)
	baseline := h.store.upsertCount()

	calls = h.capture.callCount()
	require.Eventually(t, func() bool { return h.capture.callCount() > calls+5 }, waitFor, tickFor)
	h.flush(t)
	assert.Equal(t, baseline, h.store.upsertCount(), "unchanged ticks must not write")

	h.capture.set("taskagent-t1", "Edit(a.go)\n")
	require.Eventually(t, func() bool { return h.status("t1") == StatusEditing }, waitFor, tickFor)
	h.flush(t)
	assert.Equal(t, baseline+1, h.store.upsertCount())
}

func TestRestartResetsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sup.Launch(ctx, "t1", "first prompt", "/work"))

	h.capture.set("taskagent-t1", "Edit(a.go)\nready to implement")
	require.Eventually(t, func() bool { return h.status("t1") == StatusCompleted }, waitFor, tickFor)
	before, _ := h.sup.Get("t1")

	h.capture.set("taskagent-t1", "")
	require.NoError(t, h.sup.Restart(ctx, "t1", "second prompt", ""))

	after, ok := h.sup.Get("t1")
	require.True(t, ok)
	assert.Equal(t, before.TaskID, after.TaskID)
	assert.Equal(t, before.SessionName, after.SessionName)
	assert.True(t, after.StartedAt.After(before.StartedAt))
	assert.Equal(t, StatusProcessing, after.Status)
	assert.Equal(t, "second prompt", after.Prompt)
	assert.Equal(t, "/work", after.WorkingDir)
	assert.Empty(t, after.Output)
	assert.Empty(t, after.Plan)
	assert.Empty(t, after.EditedFiles)
	assert.Nil(t, after.CompletedAt)

	assert.Equal(t, 2, h.launcher.spawnCount())
	assert.Contains(t, h.launcher.killed(), "taskagent-t1")

	rec, _ := h.persisted(t, "t1")
	assert.Equal(t, "processing", rec.Status)
	assert.Equal(t, "second prompt", rec.Prompt)
	assert.Empty(t, rec.EditedFiles)
	assert.Nil(t, rec.CompletedAt)
}

func TestRestartUnknownTask(t *testing.T) {
	h := newHarness(t)
	err := h.sup.Restart(context.Background(), "nope", "prompt", "/work")
	assert.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))
	assert.Zero(t, h.launcher.spawnCount())
}

func TestStopTearsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sup.Launch(ctx, "t1", "prompt", "/work"))
	events := h.sup.Subscribe()

	require.NoError(t, h.sup.Stop(ctx, "t1"))

	assert.False(t, h.sup.Has("t1"))
	assert.Contains(t, h.launcher.killed(), "taskagent-t1")
	_, ok := h.persisted(t, "t1")
	assert.False(t, ok)

	for ev := range events {
		if ev.Type == EventSessionRemoved {
			assert.Equal(t, "t1", ev.TaskID)
			break
		}
	}

	calls := h.capture.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, h.capture.callCount(), "loop must not outlive stop")

	assert.True(t, errors.Is(h.sup.Stop(ctx, "t1"), errors.ErrCodeSessionNotFound))
}

func TestRemoveTerminalSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.launcher.spawnErr = errors.LaunchFailure("duplicate session")
	require.Error(t, h.sup.Launch(ctx, "t1", "prompt", "/work"))

	require.NoError(t, h.sup.Remove(ctx, "t1"))
	assert.False(t, h.sup.Has("t1"))
	_, ok := h.persisted(t, "t1")
	assert.False(t, ok)

	h.launcher.spawnErr = nil
	require.NoError(t, h.sup.Launch(ctx, "t1", "prompt", "/work"))
	assert.Equal(t, StatusProcessing, h.status("t1"))
}

// blockingCapture returns a completion marker only after its context is
// cancelled, simulating a capture that finishes after stop was requested.
type blockingCapture struct {
	entered chan struct{}
	once    sync.Once
}

func (b *blockingCapture) Capture(ctx context.Context, _ string) (string, error) {
	b.once.Do(func() { close(b.entered) })
	<-ctx.Done()
	return "Would you like to proceed?", nil
}

func TestLateResultAfterStopIsDiscarded(t *testing.T) {
	capture := &blockingCapture{entered: make(chan struct{})}
	h := newHarness(t, func(o *Options) { o.Capture = capture })
	ctx := context.Background()

	require.NoError(t, h.sup.Launch(ctx, "t1", "prompt", "/work"))
	<-capture.entered
	events := h.sup.Subscribe()

	require.NoError(t, h.sup.Stop(ctx, "t1"))

	_, ok := h.persisted(t, "t1")
	assert.False(t, ok)
	ev := <-events
	assert.Equal(t, EventSessionRemoved, ev.Type, "no completion event may precede removal")
}

func TestOpenExternally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.sup.OpenExternally(ctx, "t1")
	assert.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))

	require.NoError(t, h.sup.Launch(ctx, "t1", "prompt", "/work"))
	require.NoError(t, h.sup.OpenExternally(ctx, "t1"))
	assert.Equal(t, []string{"taskagent-t1"}, h.launcher.attached)
}

func TestSessionNamesAreDistinct(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := []string{"abc", "ABC", "a b", "a/b", "local_1"}
	for _, id := range ids {
		require.NoError(t, h.sup.Launch(ctx, id, "prompt", "/work"))
	}

	names := make(map[string]string)
	for _, sess := range h.sup.List() {
		if other, dup := names[sess.SessionName]; dup {
			t.Fatalf("tasks %q and %q share session %q", other, sess.TaskID, sess.SessionName)
		}
		names[sess.SessionName] = sess.TaskID
	}
	assert.Len(t, names, len(ids))
}

func TestCloseLeavesAgentsRunning(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Launch(context.Background(), "t1", "prompt", "/work"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.sup.Close(ctx))

	assert.Empty(t, h.launcher.killed())
	assert.True(t, h.launcher.IsAlive(ctx, "taskagent-t1"))

	rec, ok, err := h.store.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "processing", rec.Status)
}

func TestStopDuringWarmupAbortsLaunch(t *testing.T) {
	h := newHarness(t)
	h.launcher.warmup = time.Second
	ctx := context.Background()

	launched := make(chan error, 1)
	go func() { launched <- h.sup.Launch(ctx, "t1", "prompt", "/work") }()
	require.Eventually(t, func() bool { return h.launcher.spawnCount() == 1 }, waitFor, tickFor)

	start := time.Now()
	require.NoError(t, h.sup.Stop(ctx, "t1"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	err := <-launched
	assert.True(t, errors.Is(err, errors.ErrCodeLaunchFailed))
	assert.False(t, h.sup.Has("t1"))
	assert.Contains(t, h.launcher.killed(), "taskagent-t1")
	assert.False(t, h.launcher.IsAlive(ctx, "taskagent-t1"))

	_, ok := h.persisted(t, "t1")
	assert.False(t, ok)
}

func TestCloseDuringWarmupKillsFreshSession(t *testing.T) {
	h := newHarness(t)
	h.launcher.warmup = time.Second
	ctx := context.Background()

	launched := make(chan error, 1)
	go func() { launched <- h.sup.Launch(ctx, "t1", "prompt", "/work") }()
	require.Eventually(t, func() bool { return h.launcher.spawnCount() == 1 }, waitFor, tickFor)

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, h.sup.Close(closeCtx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	err := <-launched
	assert.True(t, errors.Is(err, errors.ErrCodeLaunchFailed))
	assert.Equal(t, StatusFailed, h.status("t1"))
	assert.Contains(t, h.launcher.killed(), "taskagent-t1")

	rec, ok, err := h.store.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "failed", rec.Status)

	start = time.Now()
	require.NoError(t, h.sup.Close(closeCtx))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLaunchAfterCloseIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sup.Launch(ctx, "t1", "prompt", "/work"))

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.sup.Close(closeCtx))

	err := h.sup.Launch(ctx, "t2", "prompt", "/work")
	assert.True(t, errors.Is(err, errors.ErrCodeDaemonUnavailable))
	err = h.sup.Restart(ctx, "t1", "again", "")
	assert.True(t, errors.Is(err, errors.ErrCodeDaemonUnavailable))
	assert.Equal(t, 1, h.launcher.spawnCount())
}

func TestFinalUpdatePrecedesRemoval(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		ctx := context.Background()
		events := h.sup.Subscribe()

		require.NoError(t, h.sup.Launch(ctx, "t1", "prompt", "/work"))
		h.capture.set("taskagent-t1", "Would you like to proceed?\n")
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, h.sup.Stop(ctx, "t1"))

		var last Event
	drain:
		for {
			select {
			case ev := <-events:
				last = ev
			default:
				break drain
			}
		}
		assert.Equal(t, EventSessionRemoved, last.Type)
	}
}
