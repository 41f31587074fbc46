package agent

import (
	"context"
	"testing"
	"time"

	"github.com/grovetools/taskagent/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, h *harness, recs ...store.Record) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, h.store.MemoryStore.Upsert(context.Background(), rec))
	}
}

func persistedRecord(taskID, status string, files ...string) store.Record {
	return store.Record{
		TaskID:      taskID,
		Status:      status,
		SessionName: "taskagent-" + taskID,
		Prompt:      "prompt for " + taskID,
		WorkingDir:  "/work",
		StartedAt:   time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC),
		EditedFiles: files,
	}
}

func TestRecoveryResumesLiveSessions(t *testing.T) {
	h := newHarness(t)
	seed(t, h,
		persistedRecord("live", "editing", "a.go"),
		persistedRecord("queued", "pending"),
	)
	h.launcher.setAlive("taskagent-live", true)
	h.launcher.setAlive("taskagent-queued", true)

	report, err := h.sup.RestoreFromPersistence(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"live", "queued"}, report.Resumed)
	assert.Empty(t, report.Completed)
	assert.Empty(t, report.Failed)

	sess, ok := h.sup.Get("live")
	require.True(t, ok)
	assert.Equal(t, StatusEditing, sess.Status)
	assert.Equal(t, []string{"a.go"}, sess.EditedFiles)
	assert.Equal(t, "/work", sess.WorkingDir)

	assert.Equal(t, StatusProcessing, h.status("queued"))
	rec, _ := h.persisted(t, "queued")
	assert.Equal(t, "processing", rec.Status)

	// The resumed loop drives the session forward.
	h.capture.set("taskagent-live", "Edit(a.go)\nlet me know if this works")
	require.Eventually(t, func() bool { return h.status("live") == StatusCompleted }, waitFor, tickFor)
	assert.Zero(t, h.launcher.spawnCount())
}

func TestRecoveryClosesOutDeadSessions(t *testing.T) {
	h := newHarness(t)
	earlier := time.Date(2026, 4, 30, 9, 0, 0, 0, time.UTC)
	withCompletion := persistedRecord("stamped", "processing")
	withCompletion.CompletedAt = &earlier

	seed(t, h,
		persistedRecord("edited", "editing", "main.go", "util.go"),
		persistedRecord("idle", "processing"),
		withCompletion,
	)

	report, err := h.sup.RestoreFromPersistence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"edited"}, report.Completed)
	assert.ElementsMatch(t, []string{"idle", "stamped"}, report.Failed)
	assert.Empty(t, report.Resumed)

	edited, ok := h.sup.Get("edited")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, edited.Status)
	require.NotNil(t, edited.CompletedAt)

	idle, _ := h.sup.Get("idle")
	assert.Equal(t, StatusFailed, idle.Status)
	require.NotNil(t, idle.CompletedAt)

	stamped, _ := h.sup.Get("stamped")
	assert.True(t, stamped.CompletedAt.Equal(earlier))

	rec, _ := h.persisted(t, "edited")
	assert.Equal(t, "completed", rec.Status)
	rec, _ = h.persisted(t, "idle")
	assert.Equal(t, "failed", rec.Status)

	unfinished, err := h.store.ListUnfinished(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestRecoverySkipsUnusableRecords(t *testing.T) {
	h := newHarness(t)
	noName := persistedRecord("noname", "processing")
	noName.SessionName = ""
	seed(t, h, noName, persistedRecord("weird", "thinking"))

	report, err := h.sup.RestoreFromPersistence(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"noname", "weird"}, report.Skipped)
	assert.False(t, h.sup.Has("noname"))
	assert.False(t, h.sup.Has("weird"))
}

func TestRecoveryRunsOnce(t *testing.T) {
	h := newHarness(t)
	seed(t, h, persistedRecord("t1", "processing"))

	first, err := h.sup.RestoreFromPersistence(context.Background())
	require.NoError(t, err)
	second, err := h.sup.RestoreFromPersistence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, h.sup.List(), 1)
}

func TestRecoveryDoesNotReplaceLaunchedSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Launch(context.Background(), "t1", "fresh prompt", "/work"))
	h.flush(t)

	seed(t, h, persistedRecord("t1", "editing", "stale.go"))
	report, err := NewRecovery(h.sup).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, report.Skipped)

	sess, _ := h.sup.Get("t1")
	assert.Equal(t, "fresh prompt", sess.Prompt)
	assert.Empty(t, sess.EditedFiles)
}

func TestRecoveryReportsOrphans(t *testing.T) {
	launcher := listingLauncher{fakeLauncher: newFakeLauncher()}
	launcher.sessions = []string{"taskagent-t1", "taskagent-ghost", "work"}
	launcher.setAlive("taskagent-t1", true)

	h := newHarness(t, func(o *Options) { o.Launcher = launcher })
	seed(t, h, persistedRecord("t1", "processing"))

	report, err := h.sup.RestoreFromPersistence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, report.Resumed)
	assert.Equal(t, []string{"taskagent-ghost"}, report.Orphans)
	assert.Empty(t, launcher.killed())
}
