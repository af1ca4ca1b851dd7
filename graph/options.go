package graph

import (
	"fmt"
	"time"

	"github.com/dshills/hivegraph/graph/emit"
	"github.com/dshills/hivegraph/graph/store"
)

// DefaultMaxNodeInvocations is the cycle cap used when none is configured.
const DefaultMaxNodeInvocations = 10

// Options configures Engine execution behavior.
//
// Zero values are valid; the Engine applies DefaultMaxNodeInvocations and
// leaves every other limit disabled.
type Options struct {
	// MaxNodeInvocations caps how many times any single node may be invoked
	// within one run. Exceeding it ends the run with CycleLimitExceeded.
	MaxNodeInvocations int

	// MaxTurns caps the total number of invocations in one run. 0 disables
	// the budget.
	MaxTurns int

	// MaxConcurrency bounds how many nodes of a round run at once. 0 runs
	// every ready node of a round concurrently.
	MaxConcurrency int

	// NodeTimeout is the default per-invocation timeout for nodes without
	// NodePolicy.Timeout. 0 disables it.
	NodeTimeout time.Duration

	// GraphName labels runs in the store and in emitted events.
	GraphName string

	// Emitter receives observability events. Nil disables emission.
	Emitter emit.Emitter

	// Metrics records Prometheus metrics. Nil disables metrics.
	Metrics *PrometheusMetrics

	// Store persists runs and their messages. Nil disables persistence.
	Store store.Store
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := graph.New(g,
//	    graph.WithMaxNodeInvocations(3),
//	    graph.WithMaxConcurrency(4),
//	    graph.WithNodeTimeout(30*time.Second),
//	    graph.WithEmitter(emit.NewLogEmitter(os.Stderr, false)),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts Options
}

// WithOptions replaces the whole Options struct. Later options still apply
// on top of it.
func WithOptions(o Options) Option {
	return func(cfg *engineConfig) error {
		cfg.opts = o
		return nil
	}
}

// WithMaxNodeInvocations sets the cycle cap.
//
// Feedback loops are meant for bounded refinement; single digits are a sane
// baseline.
func WithMaxNodeInvocations(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return invalidOption("MaxNodeInvocations must be >= 1, got %d", n)
		}
		cfg.opts.MaxNodeInvocations = n
		return nil
	}
}

// WithMaxTurns sets the total invocation budget of a run. 0 disables it.
func WithMaxTurns(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return invalidOption("MaxTurns must be >= 0, got %d", n)
		}
		cfg.opts.MaxTurns = n
		return nil
	}
}

// WithMaxConcurrency bounds the number of nodes executing at once.
func WithMaxConcurrency(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return invalidOption("MaxConcurrency must be >= 0, got %d", n)
		}
		cfg.opts.MaxConcurrency = n
		return nil
	}
}

// WithNodeTimeout sets the default per-invocation timeout.
func WithNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return invalidOption("NodeTimeout must be >= 0, got %s", d)
		}
		cfg.opts.NodeTimeout = d
		return nil
	}
}

// WithGraphName labels the engine's runs.
func WithGraphName(name string) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.GraphName = name
		return nil
	}
}

// WithEmitter sets the observability event receiver.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = m
		return nil
	}
}

// WithStore enables run persistence.
func WithStore(s store.Store) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Store = s
		return nil
	}
}

func invalidOption(format string, args ...interface{}) error {
	return &EngineError{Message: fmt.Sprintf(format, args...), Code: "INVALID_OPTION"}
}

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	runID     string
	overrides map[string]Filter
}

// WithRunID sets the run identifier instead of generating a UUID.
func WithRunID(id string) RunOption {
	return func(rc *runConfig) { rc.runID = id }
}

// WithFilterOverride substitutes the filter applied to every incoming edge of
// node for this run only.
func WithFilterOverride(node string, f Filter) RunOption {
	return func(rc *runConfig) {
		if rc.overrides == nil {
			rc.overrides = make(map[string]Filter)
		}
		rc.overrides[node] = f.clone()
	}
}
