package graph

import "strings"

// RunStatus is the completion status of a run.
type RunStatus string

const (
	// StatusCompleted means every invocation succeeded and the run ended
	// normally.
	StatusCompleted RunStatus = "completed"

	// StatusPartialFailure means the run ended normally but at least one
	// invocation failed.
	StatusPartialFailure RunStatus = "partial_failure"

	// StatusCycleLimitExceeded means the cycle cap or turn budget ended the
	// run while work was still ready.
	StatusCycleLimitExceeded RunStatus = "cycle_limit_exceeded"

	// StatusCancelled means the run's context was cancelled or the consumer
	// stopped reading the stream.
	StatusCancelled RunStatus = "cancelled"

	// StatusTimeout means a node invocation exceeded its timeout.
	StatusTimeout RunStatus = "timeout"

	// StatusRejected means the run never started because its run ID was
	// already recorded in the store.
	StatusRejected RunStatus = "rejected"
)

// Fatal reports whether the status ended the run early.
func (s RunStatus) Fatal() bool {
	switch s {
	case StatusCycleLimitExceeded, StatusCancelled, StatusTimeout, StatusRejected:
		return true
	default:
		return false
	}
}

// Result is the outcome of one run: its status, the committed Log and
// per-node bookkeeping. A Result is returned for every status, so callers can
// always inspect the messages accumulated so far.
type Result struct {
	// RunID identifies the run.
	RunID string

	// Status is the completion status.
	Status RunStatus

	// Task holds the seed messages the run started with.
	Task []Message

	// Messages is the committed Log in sequence order.
	Messages []Message

	// Failures counts failed invocations per node.
	Failures map[string]int

	// Invocations counts invocations per node.
	Invocations map[string]int

	// Err describes the status: nil for StatusCompleted, otherwise one of
	// *PartialFailureError, *CycleLimitError, *NodeTimeoutError, or an error
	// wrapping ErrCancelled.
	Err error

	terminals map[string]bool
}

// TerminalOutputs returns the messages produced by terminal nodes, in Log
// order.
func (r *Result) TerminalOutputs() []Message {
	var out []Message
	for _, m := range r.Messages {
		if r.terminals[m.Source] {
			out = append(out, m)
		}
	}
	return out
}

// Output joins the content of complete terminal messages with a blank line.
// Returns "" when no terminal produced a complete message.
func (r *Result) Output() string {
	var parts []string
	for _, m := range r.TerminalOutputs() {
		if !m.Failed() {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Digest returns a stable hex digest of the Log. Replays of a deterministic
// graph produce equal digests.
func (r *Result) Digest() string {
	return digestMessages(r.Messages)
}

// FailedNodes returns the names of nodes with at least one failed invocation,
// sorted.
func (r *Result) FailedNodes() []string {
	pf := PartialFailureError{Failures: r.Failures}
	return pf.Nodes()
}
