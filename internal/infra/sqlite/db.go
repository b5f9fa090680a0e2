// Package sqlite provides the durable persistence layer for band: an
// operational companion to the in-memory profile/estimator state, using
// modernc.org/sqlite (pure Go, no cgo) so a single static binary still
// carries durable storage.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sqlite connection and the migrations applied to it.
type DB struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and applies
// every migration. path may be ":memory:" for a private in-process store,
// the pattern band's tests use.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY

	db := &DB{db: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	for _, stmt := range migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.db.Close()
}

func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS subgraph_profiles (
			subgraph_key   TEXT PRIMARY KEY,
			moving_avg_us  INTEGER NOT NULL,
			sample_count   INTEGER NOT NULL DEFAULT 0,
			updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS finished_jobs (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id          INTEGER NOT NULL,
			model_id        INTEGER NOT NULL,
			worker_id       INTEGER NOT NULL,
			subgraph_key    TEXT NOT NULL,
			status          INTEGER NOT NULL,
			invoke_time_us  INTEGER NOT NULL,
			end_time_us     INTEGER NOT NULL,
			recorded_at     TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_finished_jobs_job_id ON finished_jobs(job_id)`,
		`CREATE TABLE IF NOT EXISTS scheduler_snapshots (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			queue_depth     INTEGER NOT NULL DEFAULT 0,
			total_enqueued  INTEGER NOT NULL DEFAULT 0,
			total_completed INTEGER NOT NULL DEFAULT 0,
			total_stolen    INTEGER NOT NULL DEFAULT 0,
			total_slo_violated INTEGER NOT NULL DEFAULT 0,
			snapshot_at     TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
}
