// SPDX-License-Identifier: MIT

// Package audit persists admission decisions to SQLite for the demo's
// diagnostic endpoint, so an operator can see recent direct/queued/
// rejected outcomes without grepping logs.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"github.com/smartqueue/smartqueue/internal/log"
)

// Decision is one recorded admission outcome.
type Decision struct {
	ID         int64
	Path       string
	Outcome    string // "direct", "queued", "failed", "rejected:queue_full", "rejected:timeout"
	WaitMillis int64
	Timestamp  time.Time
}

// Store provides SQLite persistence for the admission decision log.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite-backed Store at dbPath and runs its schema
// migration. WAL mode and a busy timeout keep concurrent writers from
// immediately hitting "database is locked".
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		outcome TEXT NOT NULL,
		wait_millis INTEGER NOT NULL DEFAULT 0,
		ts TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts one decision row. Failures are logged, not returned:
// the audit trail is a diagnostic aid and must never affect the
// admission decision path it observes.
func (s *Store) Record(ctx context.Context, path, outcome string, wait time.Duration) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (path, outcome, wait_millis, ts) VALUES (?, ?, ?, ?)`,
		path, outcome, wait.Milliseconds(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		log.WithComponent("audit").Warn().Err(err).Msg("failed to record admission decision")
	}
}

// Recent returns the most recent n decisions, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, outcome, wait_millis, ts FROM decisions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("audit: query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Decision
	for rows.Next() {
		var d Decision
		var ts string
		if err := rows.Scan(&d.ID, &d.Path, &d.Outcome, &d.WaitMillis, &ts); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		d.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, d)
	}
	return out, rows.Err()
}
