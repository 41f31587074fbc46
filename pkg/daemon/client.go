// Package daemon provides a client for the taskagent daemon (taskagentd).
// When the daemon is not running, read-only calls fall back to the
// persisted session records.
package daemon

import (
	"context"
	"time"

	"github.com/grovetools/taskagent/pkg/agent"
)

// Client defines the interface for interacting with the daemon.
// Both RemoteClient (socket API) and LocalClient (persisted state) implement it.
type Client interface {
	// Launch starts an agent for a task. Launching a task that already has a
	// session returns the existing session unchanged.
	Launch(ctx context.Context, req LaunchRequest) (*agent.Session, error)

	// Restart relaunches a task's agent. Empty request fields keep the
	// session's previous prompt and working directory.
	Restart(ctx context.Context, taskID string, req RestartRequest) (*agent.Session, error)

	// Stop kills the agent and forgets the session.
	Stop(ctx context.Context, taskID string) error

	// Remove forgets a session, typically one that already finished.
	Remove(ctx context.Context, taskID string) error

	// Open attaches an external terminal to the task's session.
	Open(ctx context.Context, taskID string) error

	Get(ctx context.Context, taskID string) (*agent.Session, error)
	List(ctx context.Context) ([]agent.Session, error)

	// Config returns the settings the daemon is running with.
	Config(ctx context.Context) (*RunningConfig, error)

	// Stream subscribes to session events over server-sent events.
	Stream(ctx context.Context) (<-chan agent.Event, error)

	// Watch subscribes to session events over a websocket.
	Watch(ctx context.Context) (<-chan agent.Event, error)

	// IsRunning returns true if the daemon is available and responding.
	IsRunning() bool

	// Close cleans up any resources used by the client.
	Close() error
}

// LaunchRequest is the body of POST /api/sessions. Prompt is used verbatim;
// otherwise Description is rendered with the daemon's prompt template.
type LaunchRequest struct {
	TaskID      string `json:"taskId"`
	Prompt      string `json:"prompt,omitempty"`
	Description string `json:"description,omitempty"`
	WorkingDir  string `json:"workingDir,omitempty"`
}

// RestartRequest is the body of POST /api/sessions/{id}/restart.
type RestartRequest struct {
	Prompt      string `json:"prompt,omitempty"`
	Description string `json:"description,omitempty"`
	WorkingDir  string `json:"workingDir,omitempty"`
}

// RunningConfig is served at /api/config so clients can verify what the
// daemon is running with.
type RunningConfig struct {
	Version           string        `json:"version"`
	ConfigFile        string        `json:"configFile,omitempty"`
	WorkingDirectory  string        `json:"workingDirectory,omitempty"`
	SessionPrefix     string        `json:"sessionPrefix"`
	PollInterval      time.Duration `json:"pollInterval"`
	PersistenceDriver string        `json:"persistenceDriver"`
	TmuxSocket        string        `json:"tmuxSocket,omitempty"`
	StartedAt         time.Time     `json:"startedAt"`
	ReloadedAt        *time.Time    `json:"reloadedAt,omitempty"`
}
