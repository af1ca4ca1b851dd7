// Package emit delivers engine observability events to pluggable backends:
// log lines, slog, in-memory history and OpenTelemetry spans.
package emit

// Emitter receives events from a running engine.
//
// Emit is called synchronously from the engine's commit loop and from worker
// goroutines (node_start, node_retry), so implementations must be safe for
// concurrent use and should return quickly. Emit must not panic.
type Emitter interface {
	Emit(event Event)
}

// MultiEmitter fans events out to several emitters in order.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter returns an emitter that forwards to every non-nil emitter.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards event to each wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

// Len returns the number of wrapped emitters.
func (m *MultiEmitter) Len() int {
	return len(m.emitters)
}
