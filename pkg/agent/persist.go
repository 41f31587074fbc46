package agent

import (
	"context"
	"sync"
	"time"

	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/pkg/store"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 10 * time.Second

type persistOp struct {
	clear bool
	rec   store.Record
}

// persister applies store writes on a single goroutine. Pending writes for
// the same task coalesce so only the latest one reaches the gateway, and
// tasks are written in the order they were first queued.
type persister struct {
	gw      store.Gateway
	retries int
	backoff time.Duration
	logger  *logrus.Entry

	mu      sync.Mutex
	pending map[string]persistOp
	order   []string
	busy    bool
	closed  bool
	isIdle  bool
	idle    chan struct{}
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	closing sync.Once
}

func newPersister(gw store.Gateway, retries int, logger *logrus.Entry) *persister {
	p := &persister{
		gw:      gw,
		retries: retries,
		backoff: 100 * time.Millisecond,
		logger:  logger,
		pending: make(map[string]persistOp),
		isIdle:  true,
		idle:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	close(p.idle)
	go p.run()
	return p
}

func (p *persister) upsert(rec store.Record) {
	p.enqueue(rec.TaskID, persistOp{rec: rec})
}

func (p *persister) clear(taskID string) {
	p.enqueue(taskID, persistOp{clear: true, rec: store.Record{TaskID: taskID}})
}

// enqueue is a no-op once the persister is closed.
func (p *persister) enqueue(taskID string, op persistOp) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.WithField("task", taskID).Warn("Session write after shutdown ignored")
		return
	}
	if _, queued := p.pending[taskID]; !queued {
		p.order = append(p.order, taskID)
	}
	p.pending[taskID] = op
	if p.isIdle {
		p.isIdle = false
		p.idle = make(chan struct{})
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		op, ok := p.next()
		if !ok {
			select {
			case <-p.wake:
				continue
			case <-p.stop:
				return
			}
		}
		p.write(op)

		p.mu.Lock()
		p.busy = false
		p.markIdleLocked()
		p.mu.Unlock()
	}
}

func (p *persister) next() (persistOp, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.order) == 0 {
		return persistOp{}, false
	}
	taskID := p.order[0]
	p.order = p.order[1:]
	op := p.pending[taskID]
	delete(p.pending, taskID)
	p.busy = true
	return op, true
}

func (p *persister) markIdleLocked() {
	if !p.isIdle && !p.busy && len(p.pending) == 0 {
		p.isIdle = true
		close(p.idle)
	}
}

func (p *persister) write(op persistOp) {
	var err error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.backoff * time.Duration(attempt)):
			case <-p.stop:
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if op.clear {
			err = p.gw.Clear(ctx, op.rec.TaskID)
		} else {
			err = p.gw.Upsert(ctx, op.rec)
		}
		cancel()
		if err == nil {
			return
		}
	}

	failure := errors.PersistenceFailure(op.rec.TaskID, err)
	p.logger.WithError(failure).WithField("task", op.rec.TaskID).Error("Dropping session write")
}

// flush waits for every queued write to be attempted.
func (p *persister) flush(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *persister) close(ctx context.Context) error {
	err := p.flush(ctx)

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.closing.Do(func() { close(p.stop) })
	<-p.done

	// Writes the stopped writer never picked up are dropped so flush
	// cannot wait on them.
	p.mu.Lock()
	if n := len(p.pending); n > 0 {
		p.logger.WithField("writes", n).Warn("Dropping session writes queued during shutdown")
	}
	p.pending = make(map[string]persistOp)
	p.order = nil
	p.busy = false
	p.markIdleLocked()
	p.mu.Unlock()
	return err
}
