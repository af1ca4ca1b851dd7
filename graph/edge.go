package graph

// Edge is a directed message-visibility link between two nodes.
//
// When the source node commits a message, the edge delivers it to the target
// unless When rejects it. The target's view through this edge is shaped by
// Filter.
type Edge struct {
	// From is the source node name.
	From string

	// To is the target node name.
	To string

	// Filter restricts what the target sees through this edge. The zero
	// value falls back to the target's node filter.
	Filter Filter

	// When is an optional delivery condition evaluated on the source's
	// committed message. Nil means always deliver.
	When Predicate

	// index is the registration order, used for deterministic scheduling.
	index int

	// cycle is set by Build for edges that close a cycle.
	cycle bool
}

// Index returns the edge's registration position.
func (e Edge) Index() int { return e.index }

// IsCycle reports whether Build classified the edge as a cycle (back) edge.
func (e Edge) IsCycle() bool { return e.cycle }

func (e Edge) hasFilter() bool { return !e.Filter.IsZero() }

// Predicate decides whether a committed message travels along an edge.
//
// Predicates should be pure. Common patterns:
//   - Loop exit: func(m Message) bool { return !strings.Contains(m.Content, "APPROVED") }
//   - Error route: func(m Message) bool { return m.Failed() }
type Predicate func(msg Message) bool

// EdgeOption configures an edge in AddEdge.
type EdgeOption func(*Edge)

// WithFilter sets the edge's message filter.
func WithFilter(f Filter) EdgeOption {
	return func(e *Edge) { e.Filter = f }
}

// When sets the edge's delivery condition.
func When(p Predicate) EdgeOption {
	return func(e *Edge) { e.When = p }
}

func (e Edge) delivers(msg Message) bool {
	return e.When == nil || e.When(msg)
}
