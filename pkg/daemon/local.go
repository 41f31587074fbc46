package daemon

import (
	"context"
	"sort"

	"github.com/grovetools/taskagent/errors"
	"github.com/grovetools/taskagent/pkg/agent"
	"github.com/grovetools/taskagent/pkg/paths"
	"github.com/grovetools/taskagent/pkg/store"
)

// LocalClient implements Client on top of the persisted session records.
// It is used when the daemon is not running: reads show the last state the
// daemon wrote, and every operation that needs a live supervisor fails with
// DAEMON_UNAVAILABLE.
type LocalClient struct {
	gateway store.Gateway
}

// NewLocalClient creates a LocalClient reading from gw.
func NewLocalClient(gw store.Gateway) *LocalClient {
	return &LocalClient{gateway: gw}
}

func (c *LocalClient) unavailable() error {
	return errors.DaemonUnavailable(paths.SocketPath(), nil)
}

func (c *LocalClient) Launch(ctx context.Context, req LaunchRequest) (*agent.Session, error) {
	return nil, c.unavailable()
}

func (c *LocalClient) Restart(ctx context.Context, taskID string, req RestartRequest) (*agent.Session, error) {
	return nil, c.unavailable()
}

func (c *LocalClient) Stop(ctx context.Context, taskID string) error {
	return c.unavailable()
}

func (c *LocalClient) Remove(ctx context.Context, taskID string) error {
	return c.unavailable()
}

func (c *LocalClient) Open(ctx context.Context, taskID string) error {
	return c.unavailable()
}

func (c *LocalClient) Get(ctx context.Context, taskID string) (*agent.Session, error) {
	rec, ok, err := c.gateway.Get(ctx, taskID)
	if err != nil {
		return nil, errors.PersistenceFailure(taskID, err)
	}
	if !ok {
		return nil, errors.SessionNotFound(taskID)
	}
	return agent.SessionFromRecord(rec), nil
}

func (c *LocalClient) List(ctx context.Context) ([]agent.Session, error) {
	records, err := c.gateway.List(ctx)
	if err != nil {
		return nil, errors.PersistenceFailure("*", err)
	}
	sessions := make([]agent.Session, 0, len(records))
	for _, rec := range records {
		sessions = append(sessions, *agent.SessionFromRecord(rec))
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].TaskID < sessions[j].TaskID
	})
	return sessions, nil
}

func (c *LocalClient) Config(ctx context.Context) (*RunningConfig, error) {
	return nil, c.unavailable()
}

func (c *LocalClient) Stream(ctx context.Context) (<-chan agent.Event, error) {
	return nil, c.unavailable()
}

func (c *LocalClient) Watch(ctx context.Context) (<-chan agent.Event, error) {
	return nil, c.unavailable()
}

// IsRunning always returns false for LocalClient.
func (c *LocalClient) IsRunning() bool {
	return false
}

func (c *LocalClient) Close() error {
	return c.gateway.Close()
}

var _ Client = (*LocalClient)(nil)
