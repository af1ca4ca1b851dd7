package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL through a pgx connection pool.
// The pool handles concurrency, so PostgresStore only guards Close.
type PostgresStore struct {
	pool  *pgxpool.Pool
	owned bool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS hive_runs (
	run_id TEXT PRIMARY KEY,
	graph TEXT NOT NULL DEFAULT '',
	task TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	digest TEXT NOT NULL DEFAULT '',
	started_at BIGINT NOT NULL DEFAULT 0,
	finished_at BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_hive_runs_started ON hive_runs (started_at);
CREATE TABLE IF NOT EXISTS hive_messages (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	source TEXT NOT NULL,
	content TEXT NOT NULL,
	status TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);`

// NewPostgresStore opens a pool for connString and creates the schema.
// The returned store closes the pool on Close.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, owned: true}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromPool wraps an existing pool. Close leaves the pool open.
// Call EnsureSchema before first use if the tables may not exist.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create postgres schema: %w", err)
	}
	return nil
}

// CreateRun implements Store.
func (s *PostgresStore) CreateRun(ctx context.Context, run RunRecord) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO hive_runs (run_id, graph, task, status, error, digest, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO NOTHING`,
		run.RunID, run.Graph, run.Task, run.Status, run.Error, run.Digest,
		toNanos(run.StartedAt), toNanos(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunExists
	}
	return nil
}

// SaveRun implements Store.
func (s *PostgresStore) SaveRun(ctx context.Context, run RunRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hive_runs (run_id, graph, task, status, error, digest, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			graph = EXCLUDED.graph,
			task = EXCLUDED.task,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			digest = EXCLUDED.digest,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`,
		run.RunID, run.Graph, run.Task, run.Status, run.Error, run.Digest,
		toNanos(run.StartedAt), toNanos(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

// AppendMessages implements Store. The batch is sent in one transaction.
func (s *PostgresStore) AppendMessages(ctx context.Context, runID string, msgs []MessageRecord) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(`INSERT INTO hive_messages (run_id, seq, source, content, status)
			VALUES ($1, $2, $3, $4, $5) ON CONFLICT (run_id, seq) DO NOTHING`,
			runID, m.Seq, m.Source, m.Content, m.Status)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert messages of run %s: %w", runID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// LoadRun implements Store.
func (s *PostgresStore) LoadRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.pool.QueryRow(ctx, selectRun+` WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

// LoadMessages implements Store.
func (s *PostgresStore) LoadMessages(ctx context.Context, runID string) ([]MessageRecord, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM hive_runs WHERE run_id = $1)`, runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up run %s: %w", runID, err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx,
		`SELECT seq, source, content, status FROM hive_messages WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages of run %s: %w", runID, err)
	}
	defer rows.Close()

	out := []MessageRecord{}
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.Seq, &m.Source, &m.Content, &m.Status); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListRuns implements Store.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := selectRun + ` ORDER BY started_at DESC, run_id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Ping verifies the pool can reach the server.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}
