package agent

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/taskagent/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type spawnCall struct {
	name   string
	dir    string
	prompt string
}

type fakeLauncher struct {
	mu       sync.Mutex
	alive    map[string]bool
	spawnErr error
	warmup   time.Duration
	spawns   []spawnCall
	kills    []string
	attached []string
	sessions []string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{alive: make(map[string]bool)}
}

func (f *fakeLauncher) Spawn(ctx context.Context, name, dir, prompt string) error {
	f.mu.Lock()
	f.spawns = append(f.spawns, spawnCall{name: name, dir: dir, prompt: prompt})
	if f.spawnErr != nil {
		err := f.spawnErr
		f.mu.Unlock()
		return err
	}
	f.alive[name] = true
	warmup := f.warmup
	f.mu.Unlock()

	if warmup > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(warmup):
		}
	}
	return nil
}

func (f *fakeLauncher) IsAlive(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[name]
}

func (f *fakeLauncher) Kill(_ context.Context, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills = append(f.kills, name)
	f.alive[name] = false
}

func (f *fakeLauncher) Attach(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, name)
	return nil
}

func (f *fakeLauncher) setAlive(name string, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[name] = alive
}

func (f *fakeLauncher) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawns)
}

func (f *fakeLauncher) killed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.kills...)
}

// listingLauncher also enumerates sessions.
type listingLauncher struct {
	*fakeLauncher
}

func (l listingLauncher) ListSessions(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.sessions...), nil
}

type fakeCapture struct {
	mu     sync.Mutex
	output map[string]string
	err    error
	calls  int
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{output: make(map[string]string)}
}

func (f *fakeCapture) Capture(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.output[name], nil
}

func (f *fakeCapture) set(name, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output[name] = output
}

func (f *fakeCapture) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCapture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingStore counts writes that reach the gateway.
type countingStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	upserts int
	failN   int
}

func (c *countingStore) Upsert(ctx context.Context, rec store.Record) error {
	c.mu.Lock()
	c.upserts++
	fail := c.failN > 0
	if fail {
		c.failN--
	}
	c.mu.Unlock()
	if fail {
		return context.DeadlineExceeded
	}
	return c.MemoryStore.Upsert(ctx, rec)
}

func (c *countingStore) upsertCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upserts
}

// clock advances one second per reading.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

type harness struct {
	sup      *Supervisor
	launcher *fakeLauncher
	capture  *fakeCapture
	store    *countingStore
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		launcher: newFakeLauncher(),
		capture:  newFakeCapture(),
		store:    &countingStore{MemoryStore: store.NewMemoryStore()},
	}
	opts := Options{
		Launcher:     h.launcher,
		Capture:      h.capture,
		Store:        h.store,
		PollInterval: 5 * time.Millisecond,
		Now:          newClock().Now,
		Logger:       quietLogger(),
	}
	for _, fn := range configure {
		fn(&opts)
	}
	h.sup = NewSupervisor(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.sup.Close(ctx)
	})
	return h
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.sup.Flush(ctx))
}

func (h *harness) status(taskID string) Status {
	sess, _ := h.sup.Get(taskID)
	return sess.Status
}

func (h *harness) persisted(t *testing.T, taskID string) (store.Record, bool) {
	t.Helper()
	h.flush(t)
	rec, ok, err := h.store.Get(context.Background(), taskID)
	require.NoError(t, err)
	return rec, ok
}

const (
	waitFor = 2 * time.Second
	tickFor = 2 * time.Millisecond
)
