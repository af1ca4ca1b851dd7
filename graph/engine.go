package graph

import (
	"context"

	"github.com/google/uuid"
)

// Engine executes a validated Graph.
//
// An Engine holds no per-run state; one Engine can serve many concurrent
// runs. Each call to Run or Stream starts a fresh Log and run state.
//
// Example:
//
//	g, _ := graph.Chain(
//	    graph.NewNode("writer", writer),
//	    graph.NewNode("editor", editor),
//	)
//	engine, err := graph.New(g, graph.WithMaxNodeInvocations(3))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := engine.Run(ctx, "Write a haiku about rain")
//	if err != nil && !errors.Is(err, graph.ErrPartialFailure) {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Output())
type Engine struct {
	graph *Graph
	opts  Options
}

// New creates an Engine for g.
//
// Returns an *EngineError when g is nil or an option is invalid.
func New(g *Graph, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, &EngineError{Message: "graph cannot be nil", Code: "NIL_GRAPH"}
	}

	cfg := &engineConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	o := cfg.opts
	switch {
	case o.MaxNodeInvocations < 0:
		return nil, invalidOption("MaxNodeInvocations must be >= 1, got %d", o.MaxNodeInvocations)
	case o.MaxTurns < 0:
		return nil, invalidOption("MaxTurns must be >= 0, got %d", o.MaxTurns)
	case o.MaxConcurrency < 0:
		return nil, invalidOption("MaxConcurrency must be >= 0, got %d", o.MaxConcurrency)
	case o.NodeTimeout < 0:
		return nil, invalidOption("NodeTimeout must be >= 0, got %s", o.NodeTimeout)
	}
	if o.MaxNodeInvocations == 0 {
		o.MaxNodeInvocations = DefaultMaxNodeInvocations
	}

	return &Engine{graph: g, opts: o}, nil
}

// Graph returns the graph the engine executes.
func (e *Engine) Graph() *Graph { return e.graph }

// Options returns the effective engine options.
func (e *Engine) Options() Options { return e.opts }

// Run executes the graph with task as the single seed message and blocks
// until the run ends.
//
// The Result is always non-nil. The error is nil only for StatusCompleted;
// otherwise it equals Result.Err.
func (e *Engine) Run(ctx context.Context, task string, opts ...RunOption) (*Result, error) {
	res := e.Stream(ctx, task, opts...).Collect()
	return res, res.Err
}

// RunMessages is Run with caller-supplied seed messages.
func (e *Engine) RunMessages(ctx context.Context, seeds []Message, opts ...RunOption) (*Result, error) {
	res := e.StreamMessages(ctx, seeds, opts...).Collect()
	return res, res.Err
}

// Stream prepares a run whose events are consumed lazily. Nothing executes
// until the returned stream's Iter is ranged over.
func (e *Engine) Stream(ctx context.Context, task string, opts ...RunOption) *RunStream {
	return e.StreamMessages(ctx, []Message{TextMessage(UserSource, task)}, opts...)
}

// StreamMessages is Stream with caller-supplied seed messages. Seeds keep
// their Source and get Seq 0; an empty Status is treated as complete.
func (e *Engine) StreamMessages(ctx context.Context, seeds []Message, opts ...RunOption) *RunStream {
	var rc runConfig
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.runID == "" {
		rc.runID = uuid.NewString()
	}

	task := make([]Message, len(seeds))
	for i, m := range seeds {
		m.Seq = 0
		if m.Status == "" {
			m.Status = MessageComplete
		}
		task[i] = m
	}

	return &RunStream{
		engine: e,
		ctx:    ctx,
		runID:  rc.runID,
		seeds:  task,
		cfg:    rc,
	}
}
