// Package sqlite provides SQLite-based persistent storage for SynapseShield:
// model artifacts, score history and training runs.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/synapseshield/shield/internal/domain"
)

// Ensure interfaces are implemented
var (
	_ domain.ArtifactStore    = (*DB)(nil)
	_ domain.ScoreRecorder    = (*DB)(nil)
	_ domain.TrainingRecorder = (*DB)(nil)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Scaler and model artifacts
		`CREATE TABLE IF NOT EXISTS artifacts (
			key        TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			size_bytes INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		// Score history
		`CREATE TABLE IF NOT EXISTS scores (
			id                 TEXT PRIMARY KEY,
			device_id          TEXT NOT NULL,
			score              REAL NOT NULL,
			threshold          REAL NOT NULL,
			is_anomaly         BOOLEAN NOT NULL DEFAULT 0,
			recommended_action TEXT NOT NULL DEFAULT '',
			source             TEXT NOT NULL,
			created_at         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_device ON scores(device_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_anomaly ON scores(is_anomaly, created_at)`,

		// Training runs
		`CREATE TABLE IF NOT EXISTS training_runs (
			id          TEXT PRIMARY KEY,
			row_count   INTEGER NOT NULL,
			input_dim   INTEGER NOT NULL,
			epochs      INTEGER NOT NULL,
			batch_size  INTEGER NOT NULL,
			final_loss  REAL NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_finished ON training_runs(finished_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Node Info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a key-value pair in node_info.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
