package agent

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/logging"
	"github.com/grovetools/taskagent/pkg/store"
	"github.com/grovetools/taskagent/pkg/tmux"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultSessionPrefix  = "taskagent-"
	DefaultPersistRetries = 3
)

// Options wires a Supervisor. Launcher, Capture and Store are required.
type Options struct {
	Launcher       ProcessLauncher
	Capture        OutputCapture
	Classifier     CompletionClassifier
	Extractor      EditedFileExtractor
	Store          store.Gateway
	PromptBuilder  PromptBuilder
	SessionPrefix  string
	PollInterval   time.Duration
	PersistRetries int
	Now            func() time.Time
	Logger         *logrus.Entry
}

type entry struct {
	session *Session
	gen     int
	cancel  context.CancelFunc
	done    chan struct{}

	// spawnCancel aborts a spawn still warming up.
	spawnCancel context.CancelFunc

	lastPersistedStatus    Status
	lastPersistedFileCount int
}

// Supervisor owns the registry of agent sessions, one per task, and the
// polling loop that drives each active session to a terminal state.
type Supervisor struct {
	launcher      ProcessLauncher
	capture       OutputCapture
	classifier    CompletionClassifier
	extractor     EditedFileExtractor
	gateway       store.Gateway
	promptBuilder PromptBuilder
	prefix        string
	interval      time.Duration
	now           func() time.Time
	logger        *logrus.Entry

	mu      sync.RWMutex
	entries map[string]*entry

	opMu    sync.Mutex
	opLocks map[string]*sync.Mutex

	base       context.Context
	baseCancel context.CancelFunc
	closed     bool
	spawning   sync.WaitGroup

	persist *persister
	events  *broadcaster

	restoreOnce   sync.Once
	restoreReport RecoveryReport
	restoreErr    error
}

// NewSupervisor returns a Supervisor. Close must be called to stop its
// loops and flush pending writes.
func NewSupervisor(opts Options) *Supervisor {
	if opts.Classifier == nil {
		opts.Classifier = NewMarkerClassifier()
	}
	if opts.Extractor == nil {
		opts.Extractor = NewTokenExtractor()
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.PromptBuilder == nil {
		opts.PromptBuilder = NewPromptBuilder("", "")
	}
	if opts.SessionPrefix == "" {
		opts.SessionPrefix = DefaultSessionPrefix
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PersistRetries < 0 {
		opts.PersistRetries = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("supervisor")
	}

	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		launcher:      opts.Launcher,
		capture:       opts.Capture,
		classifier:    opts.Classifier,
		extractor:     opts.Extractor,
		gateway:       opts.Store,
		promptBuilder: opts.PromptBuilder,
		prefix:        opts.SessionPrefix,
		interval:      opts.PollInterval,
		now:           opts.Now,
		logger:        opts.Logger,
		entries:       make(map[string]*entry),
		opLocks:       make(map[string]*sync.Mutex),
		base:          base,
		baseCancel:    cancel,
		persist:       newPersister(opts.Store, opts.PersistRetries, opts.Logger),
		events:        newBroadcaster(),
	}
}

// SessionName returns the multiplexer session name used for taskID.
func (s *Supervisor) SessionName(taskID string) string {
	return tmux.SessionNameFor(s.prefix, taskID)
}

// Prefix is the session name prefix shared by every managed session.
func (s *Supervisor) Prefix() string {
	return s.prefix
}

func (s *Supervisor) lockTask(taskID string) func() {
	s.opMu.Lock()
	l, ok := s.opLocks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.opLocks[taskID] = l
	}
	s.opMu.Unlock()

	l.Lock()
	return l.Unlock
}

func validateTaskID(taskID string) error {
	if strings.TrimSpace(taskID) == "" || strings.ContainsAny(taskID, "\x00\r\n") {
		return errors.New(errors.ErrCodeInvalidInput, "task id must be a non-empty single line").
			WithDetail("taskId", taskID)
	}
	return nil
}

// LaunchTask renders the task's prompt and launches it.
func (s *Supervisor) LaunchTask(ctx context.Context, task Task, workingDir string) error {
	return s.Launch(ctx, task.ID, s.promptBuilder(task), workingDir)
}

// Launch starts an agent for taskID. It is a no-op when the task already has
// a session. A spawn failure leaves the session registered as failed and is
// returned to the caller.
func (s *Supervisor) Launch(ctx context.Context, taskID, prompt, workingDir string) error {
	if err := validateTaskID(taskID); err != nil {
		return err
	}
	if strings.TrimSpace(workingDir) == "" {
		return errors.WorkingDirRequired()
	}

	unlock := s.lockTask(taskID)
	defer unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ShuttingDown()
	}
	if _, exists := s.entries[taskID]; exists {
		s.mu.Unlock()
		s.logger.WithField("task", taskID).Debug("Session already exists, ignoring launch")
		return nil
	}
	e := &entry{
		session: &Session{
			TaskID:      taskID,
			SessionName: s.SessionName(taskID),
			Prompt:      prompt,
			WorkingDir:  workingDir,
			Status:      StatusPending,
			StartedAt:   s.now(),
			EditedFiles: []string{},
		},
		lastPersistedFileCount: -1,
	}
	s.entries[taskID] = e
	s.persistLocked(e, true)
	snap := e.session.clone()
	s.spawning.Add(1)
	s.mu.Unlock()
	defer s.spawning.Done()
	s.publish(EventSessionUpdated, snap)

	return s.spawn(ctx, e)
}

// spawn runs the spawn protocol for e's current fields and starts its loop.
// The caller holds the task lock and has registered with s.spawning. The
// spawn is aborted by ctx, by Close, and by Stop or Remove of the task; an
// aborted spawn kills whatever session it brought up.
func (s *Supervisor) spawn(ctx context.Context, e *entry) error {
	spawnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopOnClose := context.AfterFunc(s.base, cancel)
	defer stopOnClose()

	s.mu.Lock()
	name, dir, prompt, taskID := e.session.SessionName, e.session.WorkingDir, e.session.Prompt, e.session.TaskID
	e.spawnCancel = cancel
	s.mu.Unlock()

	log := s.logger.WithFields(logrus.Fields{"task": taskID, "session": name})
	err := s.launcher.Spawn(spawnCtx, name, dir, prompt)
	if spawnCtx.Err() != nil {
		s.launcher.Kill(context.Background(), name)
		if err == nil {
			err = errors.LaunchFailure("agent launch was cancelled")
		}
	}
	if _, typed := errors.As(err); err != nil && !typed {
		err = errors.Wrap(err, errors.ErrCodeLaunchFailed, "agent launch failed").
			WithDetail("session", name)
	}

	s.mu.Lock()
	e.spawnCancel = nil
	if s.entries[taskID] != e {
		s.mu.Unlock()
		return err
	}
	if err != nil {
		e.session.Status = StatusFailed
		e.session.LastError = err.Error()
		completed := s.now()
		e.session.CompletedAt = &completed
		log.WithError(err).Warn("Agent launch failed")
	} else {
		e.session.Status = StatusProcessing
		s.startLoopLocked(e)
		log.Info("Agent launched")
	}
	s.persistLocked(e, true)
	snap := e.session.clone()
	s.mu.Unlock()

	s.publish(EventSessionUpdated, snap)
	return err
}

// Restart stops the current run of taskID and launches it again in place
// with newPrompt. Empty arguments keep the previous prompt and directory.
func (s *Supervisor) Restart(ctx context.Context, taskID, newPrompt, workingDir string) error {
	unlock := s.lockTask(taskID)
	defer unlock()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errors.ShuttingDown()
	}
	current, ok := s.entries[taskID]
	if ok && workingDir == "" {
		workingDir = current.session.WorkingDir
	}
	if ok {
		s.spawning.Add(1)
	}
	s.mu.RUnlock()
	if !ok {
		return errors.SessionNotFound(taskID)
	}
	defer s.spawning.Done()
	if strings.TrimSpace(workingDir) == "" {
		return errors.WorkingDirRequired()
	}

	e, ok := s.haltLoop(taskID)
	if !ok {
		return errors.SessionNotFound(taskID)
	}

	s.mu.RLock()
	name := e.session.SessionName
	s.mu.RUnlock()
	s.launcher.Kill(ctx, name)

	s.mu.Lock()
	sess := e.session
	sess.WorkingDir = workingDir
	if newPrompt != "" {
		sess.Prompt = newPrompt
	}
	sess.StartedAt = s.now()
	sess.Status = StatusPending
	sess.Output = ""
	sess.Plan = ""
	sess.CompletedAt = nil
	sess.EditedFiles = []string{}
	sess.LastError = ""
	e.gen++
	s.persistLocked(e, true)
	snap := sess.clone()
	s.mu.Unlock()
	s.publish(EventSessionUpdated, snap)

	s.logger.WithField("task", taskID).Info("Restarting agent")
	return s.spawn(ctx, e)
}

// Stop cancels supervision of taskID, kills its process and forgets it,
// including its persisted record.
func (s *Supervisor) Stop(ctx context.Context, taskID string) error {
	return s.discard(ctx, taskID, "Stopped agent")
}

// Remove dismisses a session, normally one already in a terminal state. It
// performs the same teardown as Stop and is safe when the process is gone.
func (s *Supervisor) Remove(ctx context.Context, taskID string) error {
	return s.discard(ctx, taskID, "Removed agent session")
}

func (s *Supervisor) discard(ctx context.Context, taskID, msg string) error {
	// A launch still warming up holds the task lock; abort it first.
	s.mu.Lock()
	if e, ok := s.entries[taskID]; ok && e.spawnCancel != nil {
		e.spawnCancel()
	}
	s.mu.Unlock()

	unlock := s.lockTask(taskID)
	defer unlock()

	e, ok := s.haltLoop(taskID)
	if !ok {
		return errors.SessionNotFound(taskID)
	}

	s.mu.RLock()
	name := e.session.SessionName
	s.mu.RUnlock()
	s.launcher.Kill(ctx, name)

	s.mu.Lock()
	if s.entries[taskID] == e {
		delete(s.entries, taskID)
	}
	s.mu.Unlock()

	s.persist.clear(taskID)
	s.events.publish(Event{Type: EventSessionRemoved, TaskID: taskID, At: s.now()})
	s.logger.WithFields(logrus.Fields{"task": taskID, "session": name}).Info(msg)
	return nil
}

// haltLoop cancels the task's loop and waits for it to exit.
func (s *Supervisor) haltLoop(taskID string) (*entry, bool) {
	s.mu.Lock()
	e, ok := s.entries[taskID]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return e, true
}

// Get returns a snapshot of the task's session.
func (s *Supervisor) Get(taskID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[taskID]
	if !ok {
		return Session{}, false
	}
	return *e.session.clone(), true
}

func (s *Supervisor) Has(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[taskID]
	return ok
}

// List returns snapshots of every session ordered by start time.
func (s *Supervisor) List() []Session {
	s.mu.RLock()
	sessions := make([]Session, 0, len(s.entries))
	for _, e := range s.entries {
		sessions = append(sessions, *e.session.clone())
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].TaskID < sessions[j].TaskID
	})
	return sessions
}

// OpenExternally attaches a terminal to the task's running session.
func (s *Supervisor) OpenExternally(ctx context.Context, taskID string) error {
	sess, ok := s.Get(taskID)
	if !ok {
		return errors.SessionNotFound(taskID)
	}
	s.logger.WithFields(logrus.Fields{"task": taskID, "session": sess.SessionName}).Info("Opening terminal")
	return s.launcher.Attach(ctx, sess.SessionName)
}

// Subscribe returns a channel receiving every session event. Events are
// dropped for subscribers that fall behind.
func (s *Supervisor) Subscribe() chan Event {
	return s.events.subscribe()
}

func (s *Supervisor) Unsubscribe(ch chan Event) {
	s.events.unsubscribe(ch)
}

// Flush waits until queued persistence writes have been attempted.
func (s *Supervisor) Flush(ctx context.Context) error {
	return s.persist.flush(ctx)
}

// Close stops every polling loop and flushes persistence. Agent processes
// are left running so a later RestoreFromPersistence can resume them, except
// sessions still warming up, which are killed and marked failed. Launch and
// Restart fail once Close has been called.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.baseCancel()

	spawned := make(chan struct{})
	go func() {
		s.spawning.Wait()
		close(spawned)
	}()
	select {
	case <-spawned:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	var pending []chan struct{}
	for _, e := range s.entries {
		if e.done != nil {
			pending = append(pending, e.done)
		}
		e.cancel, e.done = nil, nil
	}
	s.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := s.persist.close(ctx)
	s.events.closeAll()
	return err
}

// persistLocked queues a write of e's session when forced, or when its
// status or edited-file count changed since the last write.
func (s *Supervisor) persistLocked(e *entry, force bool) {
	sess := e.session
	if !force && sess.Status == e.lastPersistedStatus && len(sess.EditedFiles) == e.lastPersistedFileCount {
		return
	}
	e.lastPersistedStatus = sess.Status
	e.lastPersistedFileCount = len(sess.EditedFiles)
	s.persist.upsert(sess.record(s.now()))
}

func (s *Supervisor) publish(t EventType, sess *Session) {
	s.events.publish(Event{Type: t, TaskID: sess.TaskID, Session: sess, At: s.now()})
}
