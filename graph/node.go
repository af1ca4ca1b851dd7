package graph

import (
	"context"
	"iter"
)

// Worker is the non-streaming capability behind a node.
//
// Invoke receives the node's visible messages in log order and returns the
// content of the node's response. Failures must be reported through the
// returned error; the engine records them as failed messages.
type Worker interface {
	Invoke(ctx context.Context, view []Message) (string, error)
}

// WorkerFunc adapts a plain function to the Worker interface.
//
// Example:
//
//	echo := graph.WorkerFunc(func(ctx context.Context, view []graph.Message) (string, error) {
//	    return view[len(view)-1].Content, nil
//	})
type WorkerFunc func(ctx context.Context, view []Message) (string, error)

// Invoke implements Worker.
func (f WorkerFunc) Invoke(ctx context.Context, view []Message) (string, error) {
	return f(ctx, view)
}

// StreamWorker is the streaming capability behind a node.
//
// InvokeStream yields response fragments in order. The node's committed
// message is the concatenation of all fragments. A non-nil error ends the
// invocation as a failure.
type StreamWorker interface {
	InvokeStream(ctx context.Context, view []Message) iter.Seq2[string, error]
}

// StreamWorkerFunc adapts a plain function to the StreamWorker interface.
type StreamWorkerFunc func(ctx context.Context, view []Message) iter.Seq2[string, error]

// InvokeStream implements StreamWorker.
func (f StreamWorkerFunc) InvokeStream(ctx context.Context, view []Message) iter.Seq2[string, error] {
	return f(ctx, view)
}

// Kind identifies which capability a node was registered with.
type Kind int

const (
	// KindWorker nodes return one message per invocation.
	KindWorker Kind = iota

	// KindStream nodes yield fragments that are forwarded to observers.
	KindStream

	// KindWorkflow nodes run a nested graph.
	KindWorkflow
)

func (k Kind) String() string {
	switch k {
	case KindWorker:
		return "worker"
	case KindStream:
		return "stream"
	case KindWorkflow:
		return "workflow"
	default:
		return "unknown"
	}
}

// Role declares how a node participates in run start and completion.
type Role int

const (
	// RoleInterior is the default; the builder derives entry and terminal
	// roles from the edge structure.
	RoleInterior Role = iota

	// RoleEntry marks a node that receives the initial task.
	RoleEntry

	// RoleTerminal marks a node whose output can complete the run.
	RoleTerminal
)

// Activation controls how many incoming edges must deliver before a node
// becomes ready.
type Activation int

const (
	// ActivationAll waits for every forward incoming edge to deliver.
	ActivationAll Activation = iota

	// ActivationAny fires as soon as any incoming edge delivers.
	ActivationAny
)

// Node is an addressable unit of work in a graph. Build one with NewNode,
// NewStreamNode or NewWorkflowNode.
type Node struct {
	name       string
	kind       Kind
	worker     Worker
	stream     StreamWorker
	workflow   *Workflow
	role       Role
	activation Activation
	filter     Filter
	policy     *NodePolicy
}

// NodeOption configures a Node at construction.
type NodeOption func(*Node)

// AsEntry marks the node as an entry node.
func AsEntry() NodeOption {
	return func(n *Node) { n.role = RoleEntry }
}

// AsTerminal marks the node as a terminal node.
func AsTerminal() NodeOption {
	return func(n *Node) { n.role = RoleTerminal }
}

// WithActivation sets the node's readiness rule.
func WithActivation(a Activation) NodeOption {
	return func(n *Node) { n.activation = a }
}

// WithNodeFilter sets the filter used for incoming edges that declare none.
func WithNodeFilter(f Filter) NodeOption {
	return func(n *Node) { n.filter = f }
}

// WithPolicy attaches a timeout and retry policy to the node.
func WithPolicy(p NodePolicy) NodeOption {
	return func(n *Node) {
		policy := p
		n.policy = &policy
	}
}

// NewNode registers a non-streaming worker under name.
func NewNode(name string, w Worker, opts ...NodeOption) Node {
	n := Node{name: name, kind: KindWorker, worker: w}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

// NewStreamNode registers a streaming worker under name.
func NewStreamNode(name string, w StreamWorker, opts ...NodeOption) Node {
	n := Node{name: name, kind: KindStream, stream: w}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

// NewWorkflowNode registers a nested workflow under name. The outer engine
// treats it like any other node.
func NewWorkflowNode(name string, wf *Workflow, opts ...NodeOption) Node {
	n := Node{name: name, kind: KindWorkflow, workflow: wf}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

// Name returns the node's unique name.
func (n Node) Name() string { return n.name }

// Kind returns the capability the node was registered with.
func (n Node) Kind() Kind { return n.kind }

// Role returns the role declared at construction.
func (n Node) Role() Role { return n.role }

// Policy returns the node policy, or nil when none was set.
func (n Node) Policy() *NodePolicy { return n.policy }

func (n Node) hasCapability() bool {
	switch n.kind {
	case KindWorker:
		return n.worker != nil
	case KindStream:
		return n.stream != nil
	case KindWorkflow:
		return n.workflow != nil
	default:
		return false
	}
}

// NodeError represents a failure raised while invoking a node.
type NodeError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// NodeID identifies which node produced this error.
	NodeID string

	// Cause is the underlying error that caused this NodeError.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *NodeError) Unwrap() error {
	return e.Cause
}
