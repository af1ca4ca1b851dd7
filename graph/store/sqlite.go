package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore is a Store backed by a single-file SQLite database.
//
// Good for development, single-process deployments and the CLI's default
// history file. WAL mode lets readers (the HTTP server listing runs) proceed
// while a run is writing.
//
// Schema:
//   - hive_runs: one row per run, inserted at start and updated at finish
//   - hive_messages: the message log, keyed by (run_id, seq)
type SQLiteStore struct {
	sqlStore
	path string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS hive_runs (
			run_id TEXT PRIMARY KEY,
			graph TEXT NOT NULL DEFAULT '',
			task TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			digest TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL DEFAULT 0,
			finished_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hive_runs_started ON hive_runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS hive_messages (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
	},
	createRun: `INSERT OR IGNORE INTO hive_runs (run_id, graph, task, status, error, digest, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	upsertRun: `INSERT INTO hive_runs (run_id, graph, task, status, error, digest, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			graph = excluded.graph,
			task = excluded.task,
			status = excluded.status,
			error = excluded.error,
			digest = excluded.digest,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
	insertMessage: `INSERT OR IGNORE INTO hive_messages (run_id, seq, source, content, status) VALUES (?, ?, ?, ?, ?)`,
}

// NewSQLiteStore opens (creating if needed) the database at path.
//
// Use ":memory:" for a throwaway database that lives until Close.
//
//	st, err := store.NewSQLiteStore("./hive.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		sqlStore: sqlStore{db: db, dialect: sqliteDialect},
		path:     path,
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}
