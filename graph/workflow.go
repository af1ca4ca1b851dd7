package graph

import (
	"context"
	"fmt"
	"strings"
)

// Workflow wraps a Graph so it can run as a single node of an outer graph.
//
// The node's incoming view becomes the inner run's task. Messages from
// outside the inner graph are presented as user context, and the inner
// terminal outputs, in Log order, become the node's one message.
//
// Example:
//
//	inner, _ := graph.Chain(
//	    graph.NewNode("drafter", drafter),
//	    graph.NewNode("editor", editor),
//	    graph.NewNode("publisher", publisher),
//	)
//	wf, _ := graph.NewWorkflow(inner, graph.WithMaxNodeInvocations(3))
//	outer, _ := graph.Chain(
//	    graph.NewNode("researcher", researcher),
//	    graph.NewWorkflowNode("pipeline", wf),
//	)
type Workflow struct {
	engine       *Engine
	participants map[string]bool
}

// NewWorkflow creates a Workflow running g with the given engine options.
func NewWorkflow(g *Graph, opts ...Option) (*Workflow, error) {
	engine, err := New(g, opts...)
	if err != nil {
		return nil, err
	}
	participants := make(map[string]bool, len(g.nodes))
	for _, n := range g.nodes {
		participants[n.name] = true
	}
	return &Workflow{engine: engine, participants: participants}, nil
}

// Engine returns the engine used for inner runs.
func (w *Workflow) Engine() *Engine { return w.engine }

// Invoke runs the inner graph to completion with view as its task.
//
// An inner run that ends with CycleLimitExceeded, Timeout or Cancelled, or
// whose terminals produced no complete message, is an error. An inner
// PartialFailure with terminal output is a success.
func (w *Workflow) Invoke(ctx context.Context, view []Message) (string, error) {
	res, _ := w.engine.RunMessages(ctx, w.taskFrom(view))

	if res.Status.Fatal() {
		return "", fmt.Errorf("nested workflow ended with status %s: %w", res.Status, res.Err)
	}

	var parts []string
	for _, m := range res.TerminalOutputs() {
		if !m.Failed() {
			parts = append(parts, m.Content)
		}
	}
	if len(parts) == 0 {
		if res.Err != nil {
			return "", fmt.Errorf("nested workflow produced no terminal output: %w", res.Err)
		}
		return "", fmt.Errorf("nested workflow produced no terminal output")
	}
	return strings.Join(parts, "\n\n"), nil
}

// taskFrom converts the outer view into inner seed messages.
func (w *Workflow) taskFrom(view []Message) []Message {
	seeds := make([]Message, 0, len(view))
	for _, m := range view {
		if m.Source != UserSource && !w.participants[m.Source] {
			m = Message{
				Source:  UserSource,
				Content: fmt.Sprintf("Context from %s: %s", m.Source, m.Content),
				Status:  m.Status,
			}
		}
		m.Seq = 0
		seeds = append(seeds, m)
	}
	return seeds
}
