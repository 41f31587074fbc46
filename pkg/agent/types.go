// Package agent supervises coding-agent sessions running inside tmux. It
// owns the launch/poll/persist lifecycle of one session per task and the
// recovery of unfinished sessions after a restart.
package agent

import (
	"strings"
	"time"

	"github.com/grovetools/taskagent/pkg/store"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusEditing    Status = "editing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusEditing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends the lifecycle until a restart.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether a polling loop should be supervising s.
func (s Status) Active() bool {
	return s == StatusProcessing || s == StatusEditing
}

// Session is the in-memory state of one task's agent. Values returned by the
// Supervisor are snapshots; mutating them has no effect on the registry.
type Session struct {
	TaskID      string     `json:"taskId"`
	SessionName string     `json:"sessionName"`
	Prompt      string     `json:"prompt"`
	WorkingDir  string     `json:"workingDir,omitempty"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Output      string     `json:"output,omitempty"`
	Plan        string     `json:"plan,omitempty"`
	EditedFiles []string   `json:"editedFiles"`
	LastError   string     `json:"lastError,omitempty"`
}

func (s *Session) clone() *Session {
	c := *s
	c.EditedFiles = append([]string{}, s.EditedFiles...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *Session) record(now time.Time) store.Record {
	rec := store.Record{
		TaskID:      s.TaskID,
		Status:      string(s.Status),
		SessionName: s.SessionName,
		Prompt:      s.Prompt,
		WorkingDir:  s.WorkingDir,
		Plan:        s.Plan,
		StartedAt:   s.StartedAt,
		UpdatedAt:   now,
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		rec.CompletedAt = &t
	}
	if len(s.EditedFiles) > 0 {
		rec.EditedFiles = append([]string(nil), s.EditedFiles...)
	}
	return rec
}

// SessionFromRecord rebuilds a session from its persisted form. Output is
// not persisted and comes back empty.
func SessionFromRecord(rec store.Record) *Session {
	s := &Session{
		TaskID:      rec.TaskID,
		SessionName: rec.SessionName,
		Prompt:      rec.Prompt,
		WorkingDir:  rec.WorkingDir,
		Status:      Status(rec.Status),
		StartedAt:   rec.StartedAt,
		Plan:        rec.Plan,
		EditedFiles: append([]string{}, rec.EditedFiles...),
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// Task is the unit of work an agent is launched for. PriorOutput carries
// the transcript of a previous run when the task is relaunched.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	PriorOutput string `json:"priorOutput,omitempty"`
}

// maxPriorOutput bounds how much of a previous transcript is quoted back.
const maxPriorOutput = 2000

// PromptBuilder renders the initial prompt for a task.
type PromptBuilder func(Task) string

// NewPromptBuilder returns a builder that renders the task description,
// an optional context prefix and the standing instructions as markdown.
func NewPromptBuilder(prefix, instructions string) PromptBuilder {
	return func(task Task) string {
		var b strings.Builder
		b.WriteString("# Task\n\n")
		b.WriteString(strings.TrimSpace(task.Description))
		if p := strings.TrimSpace(prefix); p != "" {
			b.WriteString("\n\nAdditional context:\n")
			b.WriteString(p)
		}
		if out := strings.TrimSpace(task.PriorOutput); out != "" {
			if len(out) > maxPriorOutput {
				out = out[:maxPriorOutput]
			}
			b.WriteString("\n\nAgent output so far:\n")
			b.WriteString(out)
		}
		if in := strings.TrimSpace(instructions); in != "" {
			b.WriteString("\n\n## Instructions\n\n")
			b.WriteString(in)
		}
		return b.String()
	}
}
