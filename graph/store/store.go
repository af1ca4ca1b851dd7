// Package store persists run records and message logs produced by the engine.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested run ID does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRunExists is returned by CreateRun when the run ID is already taken.
	ErrRunExists = errors.New("run already exists")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// RunRecord is the persisted summary of one run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Graph      string    `json:"graph"`
	Task       string    `json:"task"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Finished reports whether the run has reached a final status.
func (r RunRecord) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// MessageRecord is one persisted log entry of a run.
type MessageRecord struct {
	Seq     int    `json:"seq"`
	Source  string `json:"source"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

// Store provides persistence for runs and their message logs.
//
// It enables:
//   - run history that outlives the process (GET /runs, hive run -store)
//   - replay checks, by comparing a stored Digest with a new run's
//   - inspection of partial logs while a run is still going
//
// The engine drives a store in a fixed order:
//  1. CreateRun with status "running" before any node executes; a taken
//     run ID stops the run here
//  2. AppendMessages once per committed round, with that round's messages
//  3. SaveRun with the final status, digest and error
//
// Store failures after step 1 never fail a run; the engine reports them as
// store_error events and keeps going.
//
// Implementations:
//   - MemStore: in-process maps, for tests and single-process tools
//   - SQLiteStore: embedded file database (modernc.org/sqlite, no cgo)
//   - MySQLStore: shared MySQL/Aurora database
//   - PostgresStore: shared PostgreSQL database via a pgx pool
//
// Open picks one from a DSN:
//
//	st, err := store.Open(ctx, "sqlite://hive.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//	engine, err := graph.New(g, graph.WithStore(st))
//
// All methods must be safe for concurrent use.
type Store interface {
	// CreateRun inserts a new run record. It returns ErrRunExists, and writes
	// nothing, when a record with the same RunID is already stored, so two
	// runs can never share one message log.
	CreateRun(ctx context.Context, run RunRecord) error

	// SaveRun inserts or replaces the run record keyed by RunID.
	SaveRun(ctx context.Context, run RunRecord) error

	// AppendMessages persists messages for runID. Appending a sequence number
	// that already exists for the run is a no-op, so a retried append never
	// duplicates log entries.
	AppendMessages(ctx context.Context, runID string, msgs []MessageRecord) error

	// LoadRun returns the run record or ErrNotFound.
	LoadRun(ctx context.Context, runID string) (RunRecord, error)

	// LoadMessages returns the run's messages in sequence order, or
	// ErrNotFound if the run was never saved.
	LoadMessages(ctx context.Context, runID string) ([]MessageRecord, error)

	// ListRuns returns up to limit runs, most recently started first.
	// A limit <= 0 returns every run.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Close releases resources held by the store.
	Close() error
}
