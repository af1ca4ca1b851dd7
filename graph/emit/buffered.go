package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by run ID, and answers
// history queries. Used by tests, the HTTP server's event endpoint and
// debugging sessions.
//
// Nothing is evicted; call Clear once a run's history is no longer needed.
//
//	buf := emit.NewBufferedEmitter()
//	eng, _ := graph.New(g, graph.WithEmitter(buf))
//	res, _ := eng.Run(ctx, "task")
//	failures := buf.GetHistoryWithFilter(res.RunID, emit.HistoryFilter{Msg: "node_error"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter selects events from a run's history. Zero fields match
// everything; set fields are combined with AND.
type HistoryFilter struct {
	NodeID  string // exact node name
	Msg     string // exact event kind, e.g. "node_end"
	MinStep *int   // inclusive lower bound on the round
	MaxStep *int   // inclusive upper bound on the round
}

func (f HistoryFilter) matches(event Event) bool {
	if f.NodeID != "" && event.NodeID != f.NodeID {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinStep != nil && event.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && event.Step > *f.MaxStep {
		return false
	}
	return true
}

// NewBufferedEmitter returns an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit records event under its run ID.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of every event of runID in emission order.
// Unknown runs yield an empty, non-nil slice.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events of runID that match filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// Runs returns the IDs of every run with buffered events.
func (b *BufferedEmitter) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.events))
	for id := range b.events {
		ids = append(ids, id)
	}
	return ids
}

// Clear drops the events of runID, or of every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}
