package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store.
//
// Intended for tests and short-lived processes; everything is lost when the
// process exits. Safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	runs     map[string]RunRecord
	messages map[string][]MessageRecord
	closed   bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:     make(map[string]RunRecord),
		messages: make(map[string][]MessageRecord),
	}
}

// CreateRun implements Store.
func (m *MemStore) CreateRun(_ context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.runs[run.RunID]; ok {
		return ErrRunExists
	}
	m.runs[run.RunID] = run
	return nil
}

// SaveRun implements Store.
func (m *MemStore) SaveRun(_ context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.runs[run.RunID] = run
	return nil
}

// AppendMessages implements Store.
func (m *MemStore) AppendMessages(_ context.Context, runID string, msgs []MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	existing := m.messages[runID]
	seen := make(map[int]bool, len(existing))
	for _, rec := range existing {
		seen[rec.Seq] = true
	}
	for _, rec := range msgs {
		if seen[rec.Seq] {
			continue
		}
		seen[rec.Seq] = true
		existing = append(existing, rec)
	}
	sort.SliceStable(existing, func(i, j int) bool { return existing[i].Seq < existing[j].Seq })
	m.messages[runID] = existing
	return nil
}

// LoadRun implements Store.
func (m *MemStore) LoadRun(_ context.Context, runID string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return RunRecord{}, ErrClosed
	}
	run, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return run, nil
}

// LoadMessages implements Store.
func (m *MemStore) LoadMessages(_ context.Context, runID string) ([]MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.runs[runID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]MessageRecord, len(m.messages[runID]))
	copy(out, m.messages[runID])
	return out, nil
}

// ListRuns implements Store.
func (m *MemStore) ListRuns(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements Store. Further calls return ErrClosed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
