// Package store persists agent session state so sessions can be recovered
// after the supervising process restarts.
package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/grovetools/taskagent/config"
	"github.com/grovetools/taskagent/pkg/paths"
)

// Status values that end a session's lifecycle.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is the persisted form of one task's agent session.
type Record struct {
	TaskID      string     `yaml:"task_id" json:"taskId"`
	Status      string     `yaml:"status" json:"status"`
	SessionName string     `yaml:"session_name" json:"sessionName"`
	Prompt      string     `yaml:"prompt" json:"prompt"`
	WorkingDir  string     `yaml:"working_dir,omitempty" json:"workingDir,omitempty"`
	Plan        string     `yaml:"plan,omitempty" json:"plan,omitempty"`
	StartedAt   time.Time  `yaml:"started_at" json:"startedAt"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completedAt,omitempty"`
	EditedFiles []string   `yaml:"edited_files,omitempty" json:"editedFiles,omitempty"`
	UpdatedAt   time.Time  `yaml:"updated_at" json:"updatedAt"`
}

// Unfinished reports whether the record still needs recovery.
func (r Record) Unfinished() bool {
	return r.Status != "" && r.Status != StatusCompleted && r.Status != StatusFailed
}

// Gateway reads and writes session records. Implementations must be safe
// for concurrent use.
type Gateway interface {
	// Upsert writes rec, replacing any record with the same TaskID.
	Upsert(ctx context.Context, rec Record) error
	// Clear removes every persisted field for taskID. Clearing an unknown
	// task is not an error.
	Clear(ctx context.Context, taskID string) error
	// Get returns the record for taskID.
	Get(ctx context.Context, taskID string) (Record, bool, error)
	// List returns all records ordered by TaskID.
	List(ctx context.Context) ([]Record, error)
	// ListUnfinished returns records whose status is set and not terminal.
	ListUnfinished(ctx context.Context) ([]Record, error)
	Close() error
}

// Open builds the gateway selected by cfg.Persistence.
func Open(cfg *config.Config) (Gateway, error) {
	switch cfg.Persistence.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverFile:
		path := cfg.Persistence.Path
		if path == "" {
			path = filepath.Join(paths.StateDir(), "sessions.yml")
		}
		return NewFileStore(config.ExpandHome(path))
	case config.DriverSQLite, "":
		path := cfg.Persistence.Path
		if path == "" {
			path = paths.DatabasePath()
		}
		return OpenSQLite(config.ExpandHome(path))
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Persistence.Driver)
	}
}

func cloneRecord(rec Record) Record {
	if rec.EditedFiles != nil {
		rec.EditedFiles = append([]string(nil), rec.EditedFiles...)
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		rec.CompletedAt = &t
	}
	return rec
}
