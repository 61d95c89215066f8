package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := CheckLocalFilesystem(path); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_history (
  id           TEXT PRIMARY KEY,
  ticker       TEXT,
  topic        TEXT NOT NULL,
  goal         TEXT NOT NULL,
  sources      TEXT NOT NULL,
  metadata     TEXT,
  status       TEXT NOT NULL,
  exit_code    INTEGER,
  timed_out    INTEGER NOT NULL DEFAULT 0,
  error_kind   TEXT,
  last_error   TEXT,
  summary      TEXT,
  stdout       TEXT,
  stderr       TEXT,
  created_at   TEXT NOT NULL,
  started_at   TEXT,
  completed_at TEXT,
  duration_ms  INTEGER
);`,
		`CREATE INDEX IF NOT EXISTS job_history_completed_at_idx ON job_history(completed_at);`,
		`CREATE INDEX IF NOT EXISTS job_history_ticker_idx ON job_history(ticker);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
