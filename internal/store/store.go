// Package store persists the run history: one row per recording in a
// local SQLite database. History is advisory; callers must treat any
// failure here as non-fatal for the recording itself.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	script     TEXT NOT NULL,
	output     TEXT NOT NULL,
	exit_code  INTEGER NOT NULL,
	nodes      INTEGER NOT NULL,
	edges      INTEGER NOT NULL,
	events     INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	recorded_at DATETIME NOT NULL
)`

// Run is one history row.
type Run struct {
	ID         string
	Script     string
	Output     string
	ExitCode   int
	Nodes      int
	Edges      int
	Events     uint64
	Duration   time.Duration
	RecordedAt time.Time
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Only one writer at a time for SQLite.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one finished run.
func (s *Store) Append(r Run) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, script, output, exit_code, nodes, edges, events, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Script, r.Output, r.ExitCode, r.Nodes, r.Edges, r.Events,
		r.Duration.Milliseconds(), r.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: append run %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, script, output, exit_code, nodes, edges, events, duration_ms, recorded_at
		 FROM runs ORDER BY recorded_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var ms int64
		var at string
		if err := rows.Scan(&r.ID, &r.Script, &r.Output, &r.ExitCode,
			&r.Nodes, &r.Edges, &r.Events, &ms, &at); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			r.RecordedAt = t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read runs: %w", err)
	}
	return runs, nil
}
