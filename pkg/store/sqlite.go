package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const defaultBusyTimeout = 5 * time.Second

// SQLiteStore persists records in a single SQLite table.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Gateway = (*SQLiteStore)(nil)

type sessionRow struct {
	TaskID          string         `db:"task_id"`
	Status          string         `db:"status"`
	SessionName     string         `db:"session_name"`
	Prompt          string         `db:"prompt"`
	WorkingDir      string         `db:"working_dir"`
	Plan            string         `db:"plan"`
	StartedAt       time.Time      `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	EditedFilesJSON sql.NullString `db:"edited_files_json"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// OpenSQLite opens (creating if needed) the database at path with a single
// writer connection.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare database path: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path,
		int(defaultBusyTimeout/time.Millisecond),
	)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection: serializes writes and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_sessions (
		task_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		session_name TEXT NOT NULL,
		prompt TEXT NOT NULL DEFAULT '',
		working_dir TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		edited_files_json TEXT,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agent_sessions_unfinished
		ON agent_sessions(status)
		WHERE status NOT IN ('completed', 'failed');
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO agent_sessions (
			task_id, status, session_name, prompt, working_dir, plan,
			started_at, completed_at, edited_files_json, updated_at
		) VALUES (
			:task_id, :status, :session_name, :prompt, :working_dir, :plan,
			:started_at, :completed_at, :edited_files_json, :updated_at
		)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			session_name = excluded.session_name,
			prompt = excluded.prompt,
			working_dir = excluded.working_dir,
			plan = excluded.plan,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			edited_files_json = excluded.edited_files_json,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.TaskID, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_sessions WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("clear session %s: %w", taskID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, taskID string) (Record, bool, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM agent_sessions WHERE task_id = ?`, taskID)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get session %s: %w", taskID, err)
	}
	rec, err := fromRow(row)
	return rec, err == nil, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	return s.selectRecords(ctx, `SELECT * FROM agent_sessions ORDER BY task_id`)
}

func (s *SQLiteStore) ListUnfinished(ctx context.Context) ([]Record, error) {
	return s.selectRecords(ctx, `
		SELECT * FROM agent_sessions
		WHERE status <> '' AND status NOT IN ('completed', 'failed')
		ORDER BY task_id`)
}

func (s *SQLiteStore) selectRecords(ctx context.Context, query string) ([]Record, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toRow(rec Record) (sessionRow, error) {
	row := sessionRow{
		TaskID:      rec.TaskID,
		Status:      rec.Status,
		SessionName: rec.SessionName,
		Prompt:      rec.Prompt,
		WorkingDir:  rec.WorkingDir,
		Plan:        rec.Plan,
		StartedAt:   rec.StartedAt.UTC(),
		UpdatedAt:   rec.UpdatedAt.UTC(),
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	if rec.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: rec.CompletedAt.UTC(), Valid: true}
	}
	// An empty file set is stored as NULL.
	if len(rec.EditedFiles) > 0 {
		data, err := json.Marshal(rec.EditedFiles)
		if err != nil {
			return row, fmt.Errorf("encode edited files for %s: %w", rec.TaskID, err)
		}
		row.EditedFilesJSON = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

func fromRow(row sessionRow) (Record, error) {
	rec := Record{
		TaskID:      row.TaskID,
		Status:      row.Status,
		SessionName: row.SessionName,
		Prompt:      row.Prompt,
		WorkingDir:  row.WorkingDir,
		Plan:        row.Plan,
		StartedAt:   row.StartedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		rec.CompletedAt = &t
	}
	if row.EditedFilesJSON.Valid && row.EditedFilesJSON.String != "" {
		if err := json.Unmarshal([]byte(row.EditedFilesJSON.String), &rec.EditedFiles); err != nil {
			return rec, fmt.Errorf("decode edited files for %s: %w", row.TaskID, err)
		}
	}
	return rec, nil
}
