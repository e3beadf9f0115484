// Package store is the durable event log: triggers, responses, task
// updates, structured logs, and config key/value pairs, backed by a
// single-file embedded SQLite database (modernc.org/sqlite — pure Go, no
// cgo), grounded on the migration/WAL discipline in the Factory reference
// repo's internal/db/sqlite.go.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/re-cinq/devtrackd/internal/errs"
	_ "modernc.org/sqlite"
)

// TriggerType enumerates the kinds of TriggerEvent.
type TriggerType string

const (
	TriggerCommit TriggerType = "commit"
	TriggerTimer  TriggerType = "timer"
	TriggerManual TriggerType = "manual"
)

// LogLevel enumerates LogRecord severities.
type LogLevel string

const (
	LevelDebug   LogLevel = "debug"
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// Trigger is one row of the triggers table.
type Trigger struct {
	ID            int64
	Type          TriggerType
	Timestamp     time.Time
	Source        string
	RepoPath      string
	CommitHash    string
	CommitMessage string
	Author        string
	Data          string
	Processed     bool
}

// Response is one row of the responses table.
type Response struct {
	ID          int64
	TriggerID   int64
	Timestamp   time.Time
	Project     string
	TicketID    string
	Description string
	TimeSpent   string
	Status      string
	RawInput    string
}

// TaskUpdate is one row of the task_updates table.
type TaskUpdate struct {
	ID         int64
	ResponseID int64
	Timestamp  time.Time
	Project    string
	TicketID   string
	UpdateText string
	Status     string
	Synced     bool
	SyncedAt   *time.Time
	Platform   string
	Error      string
}

// Stats summarizes the store's row counts and file location.
type Stats struct {
	Triggers           int64
	Responses          int64
	TaskUpdates        int64
	UnsyncedTaskUpdates int64
	Logs               int64
	Path               string
}

// Store wraps the SQL connection. A single writer discipline (§5) is
// enforced by limiting the pool to one connection (see Open), so reads and
// writes alike are serialized on it.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the SQLite database at path, applying schema
// idempotently. Returns errs.ErrStoreUnavailable on I/O or schema error.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; modernc.org/sqlite serializes per-connection anyway

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enabling WAL: %v", errs.ErrStoreUnavailable, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enabling foreign keys: %v", errs.ErrStoreUnavailable, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: applying schema: %v", errs.ErrStoreUnavailable, err)
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertTrigger persists a new trigger and returns its assigned id.
func (s *Store) InsertTrigger(ctx context.Context, t Trigger) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO triggers (type, timestamp, source, repo_path, commit_hash, commit_message, author, data, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.Type), t.Timestamp, t.Source, t.RepoPath, t.CommitHash, t.CommitMessage, t.Author, t.Data, boolToInt(t.Processed))
	if err != nil {
		return 0, busyWrap(err)
	}
	return res.LastInsertId()
}

// InsertResponse persists a response tied to triggerID.
func (s *Store) InsertResponse(ctx context.Context, r Response) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (trigger_id, timestamp, project, ticket_id, description, time_spent, status, raw_input)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TriggerID, r.Timestamp, r.Project, r.TicketID, r.Description, r.TimeSpent, r.Status, r.RawInput)
	if err != nil {
		return 0, busyWrap(err)
	}
	return res.LastInsertId()
}

// InsertTaskUpdate persists a task update, optionally tied to a response.
// ResponseID == 0 stores NULL rather than a literal 0, since a task_update
// may arrive directly over IPC with no corresponding response row on file
// (spec.md §4.6, scenario S5) — response_id is a nullable FK for exactly
// that case.
func (s *Store) InsertTaskUpdate(ctx context.Context, u TaskUpdate) (int64, error) {
	var responseID sql.NullInt64
	if u.ResponseID != 0 {
		responseID = sql.NullInt64{Int64: u.ResponseID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_updates (response_id, timestamp, project, ticket_id, update_text, status, synced, platform, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		responseID, u.Timestamp, u.Project, u.TicketID, u.UpdateText, u.Status, boolToInt(u.Synced), u.Platform, u.Error)
	if err != nil {
		return 0, busyWrap(err)
	}
	return res.LastInsertId()
}

// InsertLog persists a structured log record. Never blocks other writes for
// more than a single short transaction (§4.2).
func (s *Store) InsertLog(ctx context.Context, level LogLevel, component, message, data string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (timestamp, level, component, message, data) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC(), string(level), component, message, data)
	if err != nil {
		return busyWrap(err)
	}
	return nil
}

// GetTriggerByID fetches a single trigger, or nil if not found.
func (s *Store) GetTriggerByID(ctx context.Context, id int64) (*Trigger, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, timestamp, source, repo_path, commit_hash, commit_message, author, data, processed
		FROM triggers WHERE id = ?`, id)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetRecentTriggers returns the most recent triggers, newest first.
func (s *Store) GetRecentTriggers(ctx context.Context, limit int) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, timestamp, source, repo_path, commit_hash, commit_message, author, data, processed
		FROM triggers ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetUnsyncedTaskUpdates returns all task updates with synced = false.
func (s *Store) GetUnsyncedTaskUpdates(ctx context.Context) ([]TaskUpdate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, response_id, timestamp, project, ticket_id, update_text, status, synced, synced_at, platform, error
		FROM task_updates WHERE synced = 0 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskUpdate
	for rows.Next() {
		u, err := scanTaskUpdate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// MarkTaskUpdateSynced sets synced = true and synced_at = at. Idempotent: a
// second call for an already-synced row is a no-op.
func (s *Store) MarkTaskUpdateSynced(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_updates SET synced = 1, synced_at = ? WHERE id = ? AND synced = 0`, at, id)
	return busyWrap(err)
}

// MarkTriggerProcessed flips a trigger's processed flag to true. It is set
// once, on receipt of the downstream response, and never reverted.
func (s *Store) MarkTriggerProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE triggers SET processed = 1 WHERE id = ?`, id)
	return busyWrap(err)
}

// GetConfig fetches a config value by key, or ("", false) if absent.
func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetConfig upserts a config key/value pair.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	return busyWrap(err)
}

// CleanOldRecords removes logs older than retentionDays, and triggers older
// than retentionDays that are already processed. Responses and task updates
// are retained unless their parent trigger is removed in the same
// transaction (spec §3): the responses of each removed trigger, and the task
// updates of those responses, are deleted first in that transaction, so the
// FK never dangles.
func (s *Store) CleanOldRecords(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	const oldProcessed = `SELECT id FROM triggers WHERE timestamp < ? AND processed = 1`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return busyWrap(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM logs WHERE timestamp < ?`, cutoff); err != nil {
		return busyWrap(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_updates WHERE response_id IN (SELECT id FROM responses WHERE trigger_id IN (`+oldProcessed+`))`, cutoff); err != nil {
		return busyWrap(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM responses WHERE trigger_id IN (`+oldProcessed+`)`, cutoff); err != nil {
		return busyWrap(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM triggers WHERE timestamp < ? AND processed = 1`, cutoff); err != nil {
		return busyWrap(err)
	}
	return busyWrap(tx.Commit())
}

// GetStats returns row counts across every table plus the store's file path.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{Path: s.path}
	queries := []struct {
		dest  *int64
		query string
	}{
		{&stats.Triggers, `SELECT COUNT(*) FROM triggers`},
		{&stats.Responses, `SELECT COUNT(*) FROM responses`},
		{&stats.TaskUpdates, `SELECT COUNT(*) FROM task_updates`},
		{&stats.UnsyncedTaskUpdates, `SELECT COUNT(*) FROM task_updates WHERE synced = 0`},
		{&stats.Logs, `SELECT COUNT(*) FROM logs`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return Stats{}, err
		}
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row scanner) (*Trigger, error) {
	var t Trigger
	var typ string
	var processed int
	if err := row.Scan(&t.ID, &typ, &t.Timestamp, &t.Source, &t.RepoPath, &t.CommitHash, &t.CommitMessage, &t.Author, &t.Data, &processed); err != nil {
		return nil, err
	}
	t.Type = TriggerType(typ)
	t.Processed = processed != 0
	return &t, nil
}

func scanTaskUpdate(row scanner) (*TaskUpdate, error) {
	var u TaskUpdate
	var responseID sql.NullInt64
	var synced int
	var syncedAt sql.NullTime
	if err := row.Scan(&u.ID, &responseID, &u.Timestamp, &u.Project, &u.TicketID, &u.UpdateText, &u.Status, &synced, &syncedAt, &u.Platform, &u.Error); err != nil {
		return nil, err
	}
	u.ResponseID = responseID.Int64
	u.Synced = synced != 0
	if syncedAt.Valid {
		u.SyncedAt = &syncedAt.Time
	}
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// busyWrap classifies a write failure as errs.ErrStoreBusy when the
// underlying error looks like lock contention — modernc.org/sqlite
// surfaces contention as "database is locked" / "SQLITE_BUSY" in the error
// text, there being no typed busy error exported by the driver. It only
// classifies: the failed write is not retried, here or by its callers.
func busyWrap(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") {
		return fmt.Errorf("%w: %v", errs.ErrStoreBusy, err)
	}
	return err
}
