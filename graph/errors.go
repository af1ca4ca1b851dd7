// Package graph provides the graph-based multi-agent orchestration engine.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Build-time sentinels. The typed errors below unwrap to these, so callers
// can use errors.Is without caring about the offending node.
var (
	// ErrDuplicateNode indicates a node name was registered twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrUnknownNode indicates an edge referenced a node that was never added.
	ErrUnknownNode = errors.New("unknown node")

	// ErrDisconnectedGraph indicates a node is isolated or unreachable from
	// every entry node.
	ErrDisconnectedGraph = errors.New("disconnected graph")

	// ErrUnreachableTerminal indicates a terminal node cannot be reached from
	// some entry node.
	ErrUnreachableTerminal = errors.New("unreachable terminal")
)

// Run-time sentinels.
var (
	// ErrCycleLimitExceeded indicates the run hit the per-node invocation cap
	// or the total turn budget while work was still ready.
	ErrCycleLimitExceeded = errors.New("cycle limit exceeded")

	// ErrNodeTimeout indicates a node invocation exceeded its timeout.
	ErrNodeTimeout = errors.New("node timeout exceeded")

	// ErrPartialFailure indicates the run completed but at least one
	// invocation failed.
	ErrPartialFailure = errors.New("partial failure")

	// ErrCancelled indicates the run was cancelled before completion.
	ErrCancelled = errors.New("run cancelled")

	// ErrDuplicateRunID indicates the store already holds a run with the
	// requested run ID. The existing record and log are left untouched.
	ErrDuplicateRunID = errors.New("duplicate run ID")

	// ErrInvalidRetryPolicy indicates a RetryPolicy violates its constraints.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")
)

// EngineError represents a configuration or usage error from the builder or
// the engine.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// DuplicateNodeError is returned by AddNode when the name is taken.
type DuplicateNodeError struct {
	Node string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("DUPLICATE_NODE: node %q is already registered", e.Node)
}

func (e *DuplicateNodeError) Unwrap() error { return ErrDuplicateNode }

// UnknownNodeError is returned by AddEdge when an endpoint was not added.
type UnknownNodeError struct {
	Node string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("UNKNOWN_NODE: node %q has not been added", e.Node)
}

func (e *UnknownNodeError) Unwrap() error { return ErrUnknownNode }

// DisconnectedGraphError is returned by Build when a node is isolated or
// cannot be reached from any entry node.
type DisconnectedGraphError struct {
	Node   string
	Reason string
}

func (e *DisconnectedGraphError) Error() string {
	return fmt.Sprintf("DISCONNECTED_GRAPH: node %q %s", e.Node, e.Reason)
}

func (e *DisconnectedGraphError) Unwrap() error { return ErrDisconnectedGraph }

// UnreachableTerminalError is returned by Build when a terminal node cannot
// be reached from one of the entry nodes.
type UnreachableTerminalError struct {
	Terminal string
	Entry    string
}

func (e *UnreachableTerminalError) Error() string {
	return fmt.Sprintf("UNREACHABLE_TERMINAL: terminal %q is not reachable from entry %q", e.Terminal, e.Entry)
}

func (e *UnreachableTerminalError) Unwrap() error { return ErrUnreachableTerminal }

// CycleLimitError reports which limit ended the run.
type CycleLimitError struct {
	// Node is the node that would have exceeded the per-node cap. Empty when
	// the total turn budget was exhausted.
	Node string

	// Limit is the cap that was reached.
	Limit int
}

func (e *CycleLimitError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("CYCLE_LIMIT_EXCEEDED: turn budget of %d invocations exhausted", e.Limit)
	}
	return fmt.Sprintf("CYCLE_LIMIT_EXCEEDED: node %q reached its limit of %d invocations", e.Node, e.Limit)
}

func (e *CycleLimitError) Unwrap() error { return ErrCycleLimitExceeded }

// NodeTimeoutError reports a node invocation that ran past its deadline.
type NodeTimeoutError struct {
	Node    string
	Timeout string
}

func (e *NodeTimeoutError) Error() string {
	return fmt.Sprintf("NODE_TIMEOUT: node %s exceeded timeout of %s", e.Node, e.Timeout)
}

func (e *NodeTimeoutError) Unwrap() error { return ErrNodeTimeout }

// PartialFailureError summarizes the failed invocations of a completed run.
type PartialFailureError struct {
	// Failures maps node name to the number of failed invocations.
	Failures map[string]int
}

func (e *PartialFailureError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, e.Failures[name])
	}
	return "PARTIAL_FAILURE: failed invocations: " + strings.Join(parts, ", ")
}

func (e *PartialFailureError) Unwrap() error { return ErrPartialFailure }

// Nodes returns the names of the nodes that failed, sorted.
func (e *PartialFailureError) Nodes() []string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
