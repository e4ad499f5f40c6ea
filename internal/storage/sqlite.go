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

// journalPragmas are applied to every connection before bootstrap. WAL lets
// the CLI read a journal while a session is writing it.
var journalPragmas = []string{
	"PRAGMA foreign_keys = ON;",
	"PRAGMA busy_timeout = 5000;",
	"PRAGMA journal_mode = WAL;",
}

// OpenSQLite opens the journal database at path, creating the file and its
// directory when missing, and bootstraps the schema.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := RequireLocalFilesystem(path, "journal"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range journalPragmas {
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
		`CREATE TABLE IF NOT EXISTS session (
  id          TEXT PRIMARY KEY,
  host        TEXT NOT NULL,
  port        INTEGER NOT NULL,
  pid         INTEGER NOT NULL,
  started_at  TEXT NOT NULL,
  ended_at    TEXT
);`,
		`CREATE TABLE IF NOT EXISTS result_log (
  id           TEXT PRIMARY KEY,
  session_id   TEXT NOT NULL REFERENCES session(id) ON DELETE CASCADE,
  command      TEXT NOT NULL,
  plugin_id    TEXT NOT NULL,
  plugin       TEXT NOT NULL,
  plugin_order REAL NOT NULL,
  instance_id  TEXT,
  instance     TEXT,
  success      INTEGER NOT NULL,
  error        TEXT,
  records      JSON NOT NULL DEFAULT '[]',
  duration_ms  REAL NOT NULL,
  created_at   TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS result_log_session_created_at_idx ON result_log(session_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS result_log_plugin_success_idx ON result_log(plugin, success);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
