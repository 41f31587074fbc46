// Package engine wires the supervisor, its store and launcher, and the config
// watcher into the taskagent daemon.
package engine

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/taskagent/command"
	"github.com/grovetools/taskagent/config"
	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/logging"
	"github.com/grovetools/taskagent/pkg/agent"
	"github.com/grovetools/taskagent/pkg/daemon"
	"github.com/grovetools/taskagent/pkg/paths"
	"github.com/grovetools/taskagent/pkg/store"
	"github.com/grovetools/taskagent/pkg/tmux"
	"github.com/grovetools/taskagent/version"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Engine owns one Supervisor for the lifetime of the daemon.
type Engine struct {
	supervisor *agent.Supervisor
	gateway    store.Gateway
	logger     *logrus.Entry
	startDir   string
	startedAt  time.Time
	interval   time.Duration

	mu         sync.RWMutex
	cfg        *config.Config
	prompt     agent.PromptBuilder
	configFile string
	reloadedAt *time.Time
}

// New builds the store, tmux client and launcher from cfg. startDir is
// where config files are searched on reload.
func New(ctx context.Context, cfg *config.Config, startDir string) (*Engine, error) {
	gw, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	client, err := newTmuxClient(ctx, cfg)
	if err != nil {
		_ = gw.Close()
		return nil, err
	}

	launcher := agent.NewTmuxLauncher(client, cfg)
	sup := agent.NewSupervisor(agent.Options{
		Launcher:       launcher,
		Capture:        launcher,
		Store:          gw,
		PromptBuilder:  agent.NewPromptBuilder(cfg.Agent.PromptPrefix, cfg.Agent.Instructions),
		SessionPrefix:  cfg.Agent.SessionPrefix,
		PollInterval:   cfg.PollInterval(),
		PersistRetries: cfg.Supervisor.PersistRetries,
	})
	return NewWithSupervisor(cfg, sup, gw, startDir), nil
}

// NewWithSupervisor wraps an existing supervisor and gateway.
func NewWithSupervisor(cfg *config.Config, sup *agent.Supervisor, gw store.Gateway, startDir string) *Engine {
	e := &Engine{
		supervisor: sup,
		gateway:    gw,
		logger:     logging.NewLogger("engine"),
		startDir:   startDir,
		startedAt:  time.Now(),
		interval:   cfg.PollInterval(),
	}
	e.apply(cfg)
	if file, err := config.FindConfigFile(startDir); err == nil {
		e.configFile = file
	}
	return e
}

// newTmuxClient builds a client for the configured binary, resolving it
// through the login shell when it is not on the daemon's PATH.
func newTmuxClient(ctx context.Context, cfg *config.Config) (*tmux.Client, error) {
	opts := []tmux.Option{tmux.WithSocket(cfg.Tmux.Socket)}
	client, err := tmux.NewClient(append(opts, tmux.WithBinary(cfg.Tmux.Binary))...)
	if err == nil {
		return client, nil
	}

	path, resolveErr := agent.ResolveTool(ctx, command.NewSafeBuilder(), cfg.Shell.Path, cfg.Shell.Profiles, cfg.Tmux.Binary)
	if resolveErr != nil {
		return nil, errors.ToolMissing(cfg.Tmux.Binary, "Install with: brew install tmux (macOS) or your package manager")
	}
	return tmux.NewClient(append(opts, tmux.WithBinary(path))...)
}

func (e *Engine) apply(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.prompt = agent.NewPromptBuilder(cfg.Agent.PromptPrefix, cfg.Agent.Instructions)
}

// Start restores persisted sessions, watches config files and blocks until
// ctx is cancelled. Loops are then stopped and pending writes flushed; agent
// processes keep running.
func (e *Engine) Start(ctx context.Context) error {
	report, err := e.supervisor.RestoreFromPersistence(ctx)
	if err != nil {
		e.logger.WithError(err).Error("Failed to restore sessions")
	} else if n := len(report.Resumed) + len(report.Completed) + len(report.Failed); n > 0 {
		e.logger.WithField("restored", n).Info("Restored persisted sessions")
	}

	if w, err := config.NewWatcher(e.watchDirs(), 0, logging.NewLogger("config-watcher"), e.reload); err != nil {
		e.logger.WithError(err).Debug("Config watching disabled")
	} else {
		go w.Run(ctx)
	}

	<-ctx.Done()
	return e.shutdown()
}

func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := e.supervisor.Close(ctx)
	if closeErr := e.gateway.Close(); err == nil {
		err = closeErr
	}
	e.logger.Info("Engine stopped")
	return err
}

func (e *Engine) watchDirs() []string {
	seen := map[string]bool{}
	var dirs []string
	for _, dir := range []string{e.startDir, paths.ConfigDir()} {
		if dir != "" && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.configFile != "" {
		if dir := filepath.Dir(e.configFile); !seen[dir] {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// reload re-reads configuration. Only the default working directory and the
// prompt template take effect without a restart.
func (e *Engine) reload(file string) {
	cfg, err := config.LoadOrDefault(e.startDir)
	if err != nil {
		e.logger.WithError(err).WithField("file", file).Warn("Ignoring invalid config change")
		return
	}
	e.apply(cfg)

	now := time.Now()
	e.mu.Lock()
	e.configFile = file
	e.reloadedAt = &now
	e.mu.Unlock()
	e.logger.WithField("file", file).Info("Configuration reloaded")
}

// Reload applies cfg as if it had been read from disk.
func (e *Engine) Reload(cfg *config.Config) {
	e.apply(cfg)
}

// Supervisor returns the engine's supervisor.
func (e *Engine) Supervisor() *agent.Supervisor {
	return e.supervisor
}

// Config returns the active configuration.
func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// renderPrompt prefers an explicit prompt over a rendered description.
// A description rendered for a task with a live session quotes its output.
func (e *Engine) renderPrompt(taskID, prompt, description string) string {
	if strings.TrimSpace(prompt) != "" {
		return prompt
	}
	if strings.TrimSpace(description) == "" {
		return ""
	}
	e.mu.RLock()
	build := e.prompt
	e.mu.RUnlock()

	task := agent.Task{ID: taskID, Description: description}
	if sess, ok := e.supervisor.Get(taskID); ok {
		task.PriorOutput = sess.Output
	}
	return build(task)
}

// Launch resolves the working directory and prompt for req and launches
// the agent. The returned session reflects the state after the spawn,
// including a failed spawn.
func (e *Engine) Launch(ctx context.Context, req daemon.LaunchRequest) (*agent.Session, error) {
	if existing, ok := e.supervisor.Get(req.TaskID); ok {
		return &existing, nil
	}

	dir, err := e.Config().ResolveWorkingDir(req.WorkingDir)
	if err != nil {
		return nil, err
	}
	prompt := e.renderPrompt(req.TaskID, req.Prompt, req.Description)
	if prompt == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "a prompt or description is required").
			WithDetail("taskId", req.TaskID)
	}

	launchErr := e.supervisor.Launch(ctx, req.TaskID, prompt, dir)
	sess, ok := e.supervisor.Get(req.TaskID)
	if !ok {
		return nil, launchErr
	}
	return &sess, launchErr
}

// Restart relaunches req's task. Empty fields keep the session's values.
func (e *Engine) Restart(ctx context.Context, taskID string, req daemon.RestartRequest) (*agent.Session, error) {
	dir := ""
	if strings.TrimSpace(req.WorkingDir) != "" {
		checked, err := config.CheckWorkingDir(req.WorkingDir)
		if err != nil {
			return nil, err
		}
		dir = checked
	}
	prompt := e.renderPrompt(taskID, req.Prompt, req.Description)

	restartErr := e.supervisor.Restart(ctx, taskID, prompt, dir)
	sess, ok := e.supervisor.Get(taskID)
	if !ok {
		return nil, restartErr
	}
	return &sess, restartErr
}

// RunningConfig describes the active configuration for /api/config.
func (e *Engine) RunningConfig() *daemon.RunningConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &daemon.RunningConfig{
		Version:           version.GetInfo().Version,
		ConfigFile:        e.configFile,
		WorkingDirectory:  e.cfg.Agent.WorkingDirectory,
		SessionPrefix:     e.supervisor.Prefix(),
		PollInterval:      e.interval,
		PersistenceDriver: e.cfg.Persistence.Driver,
		TmuxSocket:        e.cfg.Tmux.Socket,
		StartedAt:         e.startedAt,
		ReloadedAt:        e.reloadedAt,
	}
}
