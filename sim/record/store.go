// Package record persists emitted events to SQLite so runs can be compared
// and plotted outside the simulator.
package record

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/SmartCGMS/core-sub004/sim/event"
)

//go:embed schema.sql
var schemaSQL string

// Store records events of simulation runs.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewRun registers a run and returns an emitter writing its events.
func (s *Store) NewRun(ctx context.Context, label string) (*Run, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, label, created_at) VALUES (?, ?, ?)`,
		id, label, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Run{store: s, id: id, ctx: ctx}, nil
}

// RunInfo describes a recorded run.
type RunInfo struct {
	ID        string
	Label     string
	CreatedAt string // RFC 3339, UTC
}

// Runs lists recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, label, created_at FROM runs ORDER BY created_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.ID, &r.Label, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns the recorded events of a run in emission order. An empty
// signal selects every event.
func (s *Store) Events(ctx context.Context, runID string, signal event.Signal) ([]event.Event, error) {
	query := `SELECT kind, signal, device_time, level, segment_id FROM signals WHERE run_id = ?`
	args := []any{runID}
	if signal != "" {
		query += ` AND signal = ?`
		args = append(args, string(signal))
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var (
			e         event.Event
			kind, sig string
			segment   int64
		)
		if err := rows.Scan(&kind, &sig, &e.DeviceTime, &e.Level, &segment); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = event.Kind(kind)
		e.Signal = event.Signal(sig)
		e.SegmentID = uint64(segment)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Run is an event.Emitter bound to one recorded run.
type Run struct {
	store *Store
	id    string
	ctx   context.Context
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Emit stores one event.
func (r *Run) Emit(e event.Event) error {
	_, err := r.store.db.ExecContext(r.ctx,
		`INSERT INTO signals (run_id, segment_id, kind, signal, device_time, level) VALUES (?, ?, ?, ?, ?, ?)`,
		r.id, int64(e.SegmentID), string(e.Kind), string(e.Signal), e.DeviceTime, e.Level)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
