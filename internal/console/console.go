// Package console renders a run stream to a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dshills/hivegraph/graph"
	"github.com/dshills/hivegraph/graph/model"
)

type renderer struct {
	w         io.Writer
	costs     *model.CostTracker
	summary   bool
	streaming string
	start     time.Time
}

// Option configures Render.
type Option func(*renderer)

// WithCosts appends token usage and cost to the summary.
func WithCosts(ct *model.CostTracker) Option {
	return func(r *renderer) { r.costs = ct }
}

// WithoutSummary suppresses the closing summary block.
func WithoutSummary() Option {
	return func(r *renderer) { r.summary = false }
}

// Render drains stream, writing a header per speaking node, fragments as
// they arrive and whole messages for non-streaming nodes. It returns the
// run's result.
func Render(w io.Writer, stream *graph.RunStream, opts ...Option) *graph.Result {
	r := &renderer{w: w, summary: true, start: time.Now()}
	for _, opt := range opts {
		opt(r)
	}

	var res *graph.Result
	for ev := range stream.Iter() {
		switch ev.Kind {
		case graph.EventFragment:
			if r.streaming != ev.NodeID {
				r.endStream()
				r.header(ev.NodeID)
				r.streaming = ev.NodeID
			}
			fmt.Fprint(w, ev.Fragment)
		case graph.EventMessage:
			r.message(ev.Message)
		case graph.EventDone:
			res = ev.Result
		}
	}
	r.endStream()
	if res == nil {
		res = stream.Result()
	}
	if r.summary && res != nil {
		r.writeSummary(res)
	}
	return res
}

func (r *renderer) header(source string) {
	fmt.Fprintf(r.w, "---------- %s ----------\n", source)
}

func (r *renderer) endStream() {
	if r.streaming != "" {
		fmt.Fprintln(r.w)
		r.streaming = ""
	}
}

func (r *renderer) message(m graph.Message) {
	if r.streaming == m.Source && !m.Failed() {
		r.endStream()
		return
	}
	r.endStream()
	r.header(m.Source)
	if m.Failed() {
		fmt.Fprintf(r.w, "[failed] %s\n", m.Content)
		return
	}
	fmt.Fprintln(r.w, m.Content)
}

func (r *renderer) writeSummary(res *graph.Result) {
	fmt.Fprintln(r.w, strings.Repeat("-", 30))
	fmt.Fprintf(r.w, "Status: %s\n", res.Status)
	fmt.Fprintf(r.w, "Messages: %d\n", len(res.Messages))
	fmt.Fprintf(r.w, "Duration: %s\n", time.Since(r.start).Round(time.Millisecond))
	if failed := res.FailedNodes(); len(failed) > 0 {
		fmt.Fprintf(r.w, "Failed nodes: %s\n", strings.Join(failed, ", "))
	}
	if res.Err != nil && res.Status != graph.StatusPartialFailure {
		fmt.Fprintf(r.w, "Error: %v\n", res.Err)
	}
	if r.costs != nil {
		in, out := r.costs.TokenUsage()
		fmt.Fprintf(r.w, "Tokens: %d in / %d out\n", in, out)
		fmt.Fprintf(r.w, "Cost: $%.4f\n", r.costs.TotalCost())
	}
}
