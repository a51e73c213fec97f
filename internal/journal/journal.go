// Package journal persists the goal lifecycle to SQLite: submissions, state
// transitions, and terminal results. It feeds off the event bus, so nothing
// in the executor's hot path blocks on the database.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sextant-io/sextant/internal/events"
)

// ErrNotFound is returned when a goal ID has no journal row.
var ErrNotFound = errors.New("journal: goal not found")

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS goals (
	id               TEXT PRIMARY KEY,
	executor         TEXT NOT NULL DEFAULT '',
	action           TEXT NOT NULL DEFAULT '',
	vertex           INTEGER NOT NULL DEFAULT 0,
	edge             INTEGER NOT NULL DEFAULT 0,
	submitted_at     TEXT,
	status           TEXT,
	reason           TEXT,
	duration_seconds REAL NOT NULL DEFAULT 0,
	completed_at     TEXT
);
CREATE TABLE IF NOT EXISTS transitions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	executor   TEXT NOT NULL DEFAULT '',
	goal_id    TEXT NOT NULL DEFAULT '',
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	cause      TEXT NOT NULL DEFAULT '',
	at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_goals_submitted ON goals(submitted_at);
CREATE INDEX IF NOT EXISTS idx_transitions_goal ON transitions(goal_id);
`

// GoalRecord is one journaled goal with its terminal outcome, if any.
type GoalRecord struct {
	ID          string  `json:"id"`
	Executor    string  `json:"executor"`
	Action      string  `json:"action"`
	Vertex      int64   `json:"vertex,omitempty"`
	Edge        int64   `json:"edge,omitempty"`
	SubmittedAt string  `json:"submitted_at,omitempty"`
	Status      string  `json:"status,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	Duration    float64 `json:"duration_seconds,omitempty"`
	CompletedAt string  `json:"completed_at,omitempty"`
}

// TransitionRecord is one journaled state transition.
type TransitionRecord struct {
	Executor string `json:"executor"`
	GoalID   string `json:"goal_id,omitempty"`
	From     string `json:"from"`
	To       string `json:"to"`
	Cause    string `json:"cause"`
	At       string `json:"at"`
}

// Journal is a SQLite-backed goal history.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	unsub  func()
}

// Open opens or creates the journal database at path and runs migrations.
// The parent directory is created if it does not exist.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single pooled connection avoids busy errors
	// from the bus's concurrent handlers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	j := &Journal{db: db, logger: logger.With("component", "journal")}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var v int
	err := j.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := j.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Attach subscribes the journal to the bus. Events arriving before Attach
// are not recorded.
func (j *Journal) Attach(bus *events.Bus) {
	j.unsub = bus.Subscribe(j.handle,
		events.EventGoalReceived,
		events.EventStateChanged,
		events.EventResult,
	)
}

// Close detaches from the bus and closes the database.
func (j *Journal) Close() error {
	if j.unsub != nil {
		j.unsub()
	}
	return j.db.Close()
}

func (j *Journal) handle(ev events.Event) {
	var err error
	switch ev.Type {
	case events.EventGoalReceived:
		if p, ok := events.GetGoalReceivedPayload(ev); ok {
			err = j.RecordGoal(ev.Executor, p, ev.Timestamp)
		}
	case events.EventStateChanged:
		if p, ok := events.GetStateChangedPayload(ev); ok {
			err = j.RecordTransition(ev.Executor, p, ev.Timestamp)
		}
	case events.EventResult:
		if p, ok := events.GetResultPayload(ev); ok {
			err = j.RecordResult(ev.Executor, p, ev.Timestamp)
		}
	}
	if err != nil {
		j.logger.Warn("journal write failed", "event", ev.Type, "error", err)
	}
}

// RecordGoal journals a submitted goal. The bus delivers events on separate
// goroutines, so the result can land first; existing outcome columns are
// left untouched.
func (j *Journal) RecordGoal(executor string, p events.GoalReceivedPayload, at time.Time) error {
	_, err := j.db.Exec(`
		INSERT INTO goals (id, executor, action, vertex, edge, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			executor     = excluded.executor,
			action       = excluded.action,
			vertex       = excluded.vertex,
			edge         = excluded.edge,
			submitted_at = excluded.submitted_at`,
		p.GoalID, executor, p.Action, p.Vertex, p.Edge, at.UTC().Format(time.RFC3339))
	return err
}

// RecordResult journals a goal's terminal outcome.
func (j *Journal) RecordResult(executor string, p events.ResultPayload, at time.Time) error {
	_, err := j.db.Exec(`
		INSERT INTO goals (id, executor, action, status, reason, duration_seconds, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status           = excluded.status,
			reason           = excluded.reason,
			duration_seconds = excluded.duration_seconds,
			completed_at     = excluded.completed_at`,
		p.GoalID, executor, p.Action, p.Status, p.Reason, p.Duration, at.UTC().Format(time.RFC3339))
	return err
}

// RecordTransition journals a state change.
func (j *Journal) RecordTransition(executor string, p events.StateChangedPayload, at time.Time) error {
	_, err := j.db.Exec(`
		INSERT INTO transitions (executor, goal_id, from_state, to_state, cause, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		executor, p.GoalID, p.From, p.To, p.Cause, at.UTC().Format(time.RFC3339))
	return err
}

// Goal returns the journal row for one goal ID.
func (j *Journal) Goal(id string) (GoalRecord, error) {
	row := j.db.QueryRow(`
		SELECT id, executor, action, vertex, edge, submitted_at, status, reason, duration_seconds, completed_at
		FROM goals WHERE id = ?`, id)
	rec, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return GoalRecord{}, ErrNotFound
	}
	return rec, err
}

// RecentGoals returns the most recently submitted goals, newest first.
func (j *Journal) RecentGoals(limit int) ([]GoalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT id, executor, action, vertex, edge, submitted_at, status, reason, duration_seconds, completed_at
		FROM goals
		ORDER BY submitted_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GoalRecord
	for rows.Next() {
		rec, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Transitions returns a goal's state transitions in order.
func (j *Journal) Transitions(goalID string) ([]TransitionRecord, error) {
	rows, err := j.db.Query(`
		SELECT executor, goal_id, from_state, to_state, cause, at
		FROM transitions WHERE goal_id = ? ORDER BY id`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		if err := rows.Scan(&rec.Executor, &rec.GoalID, &rec.From, &rec.To, &rec.Cause, &rec.At); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (GoalRecord, error) {
	var rec GoalRecord
	var submitted, status, reason, completed sql.NullString
	err := row.Scan(&rec.ID, &rec.Executor, &rec.Action, &rec.Vertex, &rec.Edge,
		&submitted, &status, &reason, &rec.Duration, &completed)
	if err != nil {
		return GoalRecord{}, err
	}
	rec.SubmittedAt = nullStr(submitted)
	rec.Status = nullStr(status)
	rec.Reason = nullStr(reason)
	rec.CompletedAt = nullStr(completed)
	return rec, nil
}

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
