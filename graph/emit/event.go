package emit

// Event is an observability event emitted while a graph runs.
//
// The engine emits these messages:
//   - run_start, run_end: once per run; Step is 0 and the final round
//   - round_start, round_end: around each round of concurrent invocations
//   - node_start, node_retry: per invocation attempt
//   - node_end, node_error, node_timeout: once per committed message
//   - store_error: a persistence call failed; the run continues
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Step is the round number (1-indexed). Zero for run_start.
	Step int

	// NodeID names the node. Empty for run- and round-level events.
	NodeID string

	// Msg is the event kind, e.g. "node_start".
	Msg string

	// Meta holds event-specific data. Common keys:
	//   - "seq": Log sequence number of the committed message
	//   - "attempt", "attempts": retry bookkeeping
	//   - "duration_ms": invocation or run latency
	//   - "error", "code": failure details
	//   - "status": final run status (run_end)
	Meta map[string]interface{}
}

// IsError reports whether the event describes a failure.
func (e Event) IsError() bool {
	switch e.Msg {
	case "node_error", "node_timeout", "store_error":
		return true
	case "run_end":
		_, ok := e.Meta["error"]
		return ok
	}
	return false
}
