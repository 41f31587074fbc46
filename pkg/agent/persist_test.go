package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/taskagent/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedStore records writes and holds the first one until released.
type gatedStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	writes  []string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedStore) hold() {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
}

func (g *gatedStore) Upsert(ctx context.Context, rec store.Record) error {
	g.hold()
	g.mu.Lock()
	g.writes = append(g.writes, "upsert "+rec.TaskID+" "+rec.Status)
	g.mu.Unlock()
	return g.MemoryStore.Upsert(ctx, rec)
}

func (g *gatedStore) Clear(ctx context.Context, taskID string) error {
	g.hold()
	g.mu.Lock()
	g.writes = append(g.writes, "clear "+taskID)
	g.mu.Unlock()
	return g.MemoryStore.Clear(ctx, taskID)
}

func flushPersister(t *testing.T, p *persister) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.close(ctx))
}

func TestPersisterCoalescesPerTask(t *testing.T) {
	gw := newGatedStore()
	p := newPersister(gw, 0, quietLogger())

	p.upsert(store.Record{TaskID: "t1", Status: "pending"})
	<-gw.entered

	p.upsert(store.Record{TaskID: "t1", Status: "processing"})
	p.upsert(store.Record{TaskID: "t2", Status: "pending"})
	p.upsert(store.Record{TaskID: "t1", Status: "editing"})
	p.upsert(store.Record{TaskID: "t3", Status: "processing"})
	p.clear("t3")
	close(gw.release)

	flushPersister(t, p)
	assert.Equal(t, []string{
		"upsert t1 pending",
		"upsert t1 editing",
		"upsert t2 pending",
		"clear t3",
	}, gw.writes)
}

func TestPersisterRetries(t *testing.T) {
	gw := &countingStore{MemoryStore: store.NewMemoryStore(), failN: 2}
	p := newPersister(gw, 3, quietLogger())
	p.backoff = time.Millisecond

	p.upsert(store.Record{TaskID: "t1", Status: "processing"})
	flushPersister(t, p)

	assert.Equal(t, 3, gw.upsertCount())
	_, ok, err := gw.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPersisterGivesUp(t *testing.T) {
	gw := &countingStore{MemoryStore: store.NewMemoryStore(), failN: 10}
	p := newPersister(gw, 1, quietLogger())
	p.backoff = time.Millisecond

	p.upsert(store.Record{TaskID: "t1", Status: "processing"})
	flushPersister(t, p)

	assert.Equal(t, 2, gw.upsertCount())
	_, ok, err := gw.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersisterFlushHonorsContext(t *testing.T) {
	gw := newGatedStore()
	p := newPersister(gw, 0, quietLogger())
	defer func() {
		close(gw.release)
		flushPersister(t, p)
	}()

	p.upsert(store.Record{TaskID: "t1", Status: "pending"})
	<-gw.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.flush(ctx), context.DeadlineExceeded)
}

func TestPersisterIgnoresWritesAfterClose(t *testing.T) {
	gw := store.NewMemoryStore()
	p := newPersister(gw, 0, quietLogger())
	flushPersister(t, p)

	p.upsert(store.Record{TaskID: "t1", Status: "processing"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.flush(ctx))
	require.NoError(t, p.close(ctx))

	_, ok, err := gw.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}
