package graph

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

// EventKind identifies what a stream Event carries.
type EventKind int

const (
	// EventFragment carries a partial chunk streamed by a node that is still
	// running. Fragments are never visible to other nodes.
	EventFragment EventKind = iota + 1

	// EventMessage carries a message just committed to the Log.
	EventMessage

	// EventDone is the last event of a run and carries the Result.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventFragment:
		return "fragment"
	case EventMessage:
		return "message"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one item of a run's observable stream.
type Event struct {
	Kind EventKind

	// NodeID is the producing node for fragment and message events.
	NodeID string

	// Fragment is set for EventFragment.
	Fragment string

	// Message is set for EventMessage.
	Message Message

	// Result is set for EventDone.
	Result *Result
}

// RunStream is the lazy event sequence of a single run.
//
// The run starts when Iter's sequence is first ranged over and is driven by
// the consumer: a consumer that stops ranging cancels the run. A RunStream
// is single-use; ranging over Iter a second time yields nothing.
//
// Example:
//
//	stream := engine.Stream(ctx, "Write a poem about autumn")
//	for ev := range stream.Iter() {
//	    switch ev.Kind {
//	    case graph.EventFragment:
//	        fmt.Print(ev.Fragment)
//	    case graph.EventMessage:
//	        fmt.Printf("\n[%s] done\n", ev.Message.Source)
//	    }
//	}
//	res := stream.Result()
type RunStream struct {
	engine  *Engine
	ctx     context.Context
	runID   string
	seeds   []Message
	cfg     runConfig
	started atomic.Bool

	mu     sync.Mutex
	result *Result
}

// RunID returns the identifier of the run.
func (s *RunStream) RunID() string { return s.runID }

// Iter returns the run's event sequence.
func (s *RunStream) Iter() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !s.started.CompareAndSwap(false, true) {
			return
		}
		r := newRun(s.engine, s.runID, s.seeds, s.cfg)
		res := r.execute(s.ctx, yield)
		s.setResult(res)
		if !r.consumerGone {
			yield(Event{Kind: EventDone, Result: res})
		}
	}
}

// Collect drains the stream and returns the Result. If the stream was
// already consumed, the stored Result is returned.
func (s *RunStream) Collect() *Result {
	for range s.Iter() {
	}
	return s.Result()
}

// Result returns the run's Result, or nil if the run has not finished.
func (s *RunStream) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *RunStream) setResult(res *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = res
}
