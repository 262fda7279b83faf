// Package storage opens the SQLite database that backs job history.
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
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := checkLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Workers, the API and the watcher all record history; serialize writers.
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

// BootstrapSQLite creates tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_history (
  id              TEXT PRIMARY KEY,
  input_path      TEXT NOT NULL,
  target_format   TEXT NOT NULL,
  fingerprint     TEXT,
  options         JSON,
  priority        INTEGER NOT NULL DEFAULT 0,
  status          TEXT NOT NULL,
  output_paths    JSON,
  error_code      TEXT,
  error_message   TEXT,
  duration_ms     INTEGER NOT NULL DEFAULT 0,
  log_path        TEXT,
  created_at      TEXT NOT NULL,
  finished_at     TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS job_history_finished_at_idx ON job_history(finished_at);`,
		`CREATE INDEX IF NOT EXISTS job_history_fingerprint_idx ON job_history(fingerprint);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
