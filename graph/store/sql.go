package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// dialect holds the statements that differ between database/sql backends.
type dialect struct {
	name          string
	schema        []string
	createRun     string
	upsertRun     string
	insertMessage string
}

// sqlStore implements Store on top of database/sql. SQLiteStore and
// MySQLStore embed it with their own dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
}

// createTables creates the schema if it doesn't exist.
func (s *sqlStore) createTables(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *sqlStore) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// CreateRun implements Store. The dialect's insert ignores a conflicting
// run_id; zero affected rows means the ID was taken.
func (s *sqlStore) CreateRun(ctx context.Context, run RunRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.dialect.createRun,
		run.RunID, run.Graph, run.Task, run.Status, run.Error, run.Digest,
		toNanos(run.StartedAt), toNanos(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.RunID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.RunID, err)
	}
	if n == 0 {
		return ErrRunExists
	}
	return nil
}

// SaveRun implements Store.
func (s *sqlStore) SaveRun(ctx context.Context, run RunRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.dialect.upsertRun,
		run.RunID, run.Graph, run.Task, run.Status, run.Error, run.Digest,
		toNanos(run.StartedAt), toNanos(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

// AppendMessages implements Store. All messages are written in one
// transaction; existing (run_id, seq) rows are left untouched.
func (s *sqlStore) AppendMessages(ctx context.Context, runID string, msgs []MessageRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.dialect.insertMessage)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, runID, m.Seq, m.Source, m.Content, m.Status); err != nil {
			return fmt.Errorf("failed to insert message %d of run %s: %w", m.Seq, runID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

const selectRun = `SELECT run_id, graph, task, status, error, digest, started_at, finished_at FROM hive_runs`

// LoadRun implements Store.
func (s *sqlStore) LoadRun(ctx context.Context, runID string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return RunRecord{}, err
	}

	row := s.db.QueryRowContext(ctx, selectRun+` WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

// LoadMessages implements Store.
func (s *sqlStore) LoadMessages(ctx context.Context, runID string) ([]MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hive_runs WHERE run_id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up run %s: %w", runID, err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, source, content, status FROM hive_messages WHERE run_id = ? ORDER BY seq`, runID)
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
func (s *sqlStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := selectRun + ` ORDER BY started_at DESC, run_id ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// Close implements Store.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *sqlStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Stats returns connection pool statistics.
func (s *sqlStore) Stats() sql.DBStats {
	return s.db.Stats()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var run RunRecord
	var started, finished int64
	err := row.Scan(&run.RunID, &run.Graph, &run.Task, &run.Status, &run.Error, &run.Digest, &started, &finished)
	if err != nil {
		return RunRecord{}, err
	}
	run.StartedAt = fromNanos(started)
	run.FinishedAt = fromNanos(finished)
	return run, nil
}

// Timestamps are stored as Unix nanoseconds; 0 means unset.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
