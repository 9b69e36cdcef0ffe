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

// OpenSQLite opens (and creates if needed) the worker's state database at
// path and ensures required tables exist. The path must be on a local
// filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := CheckLocal(path); err != nil {
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
	// One writer; the dispatch loop is serial anyway.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
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
		`CREATE TABLE IF NOT EXISTS drill_holes (
  image       TEXT PRIMARY KEY,
  holes       JSON NOT NULL DEFAULT '[]',
  updated_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS solder_masks (
  session     TEXT PRIMARY KEY,
  image       TEXT NOT NULL,
  updated_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS request_log (
  id           TEXT PRIMARY KEY,
  command      TEXT NOT NULL,
  success      INTEGER NOT NULL,
  duration_ms  REAL NOT NULL,
  error        TEXT,
  created_at   TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS request_log_created_at_idx ON request_log(created_at);`,
		`CREATE INDEX IF NOT EXISTS request_log_command_idx ON request_log(command, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
