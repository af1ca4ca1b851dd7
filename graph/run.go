package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/hivegraph/graph/emit"
	"github.com/dshills/hivegraph/graph/store"
)

const runningStatus = "running"

// fragmentBuffer bounds how far streaming workers may run ahead of the
// consumer before their sends block.
const fragmentBuffer = 64

// fragment is one streamed chunk on its way to the run's consumer.
type fragment struct {
	node string
	text string
}

// outcome is the result of one node invocation, retries included.
type outcome struct {
	content   string
	err       error
	fragments int
	attempts  int
	latency   time.Duration
	timedOut  bool
	cancelled bool
}

// run is the state of one execution. It is owned by the goroutine ranging
// over the stream; workers never see it.
type run struct {
	g         *Graph
	opts      Options
	runID     string
	seeds     []Message
	overrides map[string]Filter
	log       *Log

	// delivered is indexed by edge registration index and set when the
	// edge's source committed a message the edge admits. It is cleared when
	// the target is invoked.
	delivered []bool

	invocations []int
	produced    []bool
	failures    map[string]int
	round       int
	turns       int
	startedAt   time.Time

	consumerGone bool
	rejected     bool
}

func newRun(e *Engine, runID string, seeds []Message, cfg runConfig) *run {
	g := e.graph
	return &run{
		g:           g,
		opts:        e.opts,
		runID:       runID,
		seeds:       seeds,
		overrides:   cfg.overrides,
		log:         NewLog(),
		delivered:   make([]bool, len(g.edges)),
		invocations: make([]int, len(g.nodes)),
		produced:    make([]bool, len(g.nodes)),
		failures:    make(map[string]int),
	}
}

// execute drives the run to completion, yielding fragment and message
// events. It returns the final Result; the caller yields EventDone.
func (r *run) execute(parent context.Context, yield func(Event) bool) *Result {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	r.startedAt = time.Now()
	r.emit(0, "", "run_start", map[string]interface{}{
		"graph":     r.opts.GraphName,
		"entries":   r.g.Entries(),
		"terminals": r.g.Terminals(),
	})
	if err := r.createRun(ctx); err != nil {
		r.rejected = true
		return r.finish(ctx, StatusRejected, err)
	}

	items := r.initialItems()
	for {
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, StatusCancelled, cancelledError(ctx))
		}

		var err error
		items, err = r.admit(items)
		if err != nil {
			return r.finish(ctx, StatusCycleLimitExceeded, err)
		}

		r.round++
		r.clearIncoming(items)
		if r.opts.Metrics != nil {
			r.opts.Metrics.UpdateReadyNodes(len(items))
		}
		r.emit(r.round, "", "round_start", map[string]interface{}{
			"nodes": r.itemNames(items),
		})

		outs, ok := r.runRound(ctx, items, yield)
		if !ok {
			cancel()
			return r.finish(ctx, StatusCancelled, cancelledError(ctx))
		}

		timeoutErr := r.commit(ctx, items, outs, yield)
		if r.consumerGone {
			cancel()
			return r.finish(ctx, StatusCancelled, cancelledError(ctx))
		}
		if timeoutErr != nil {
			return r.finish(ctx, StatusTimeout, timeoutErr)
		}

		if r.complete() {
			break
		}
		items = r.readyItems()
		if len(items) == 0 {
			break
		}
	}

	if len(r.failures) > 0 {
		return r.finish(ctx, StatusPartialFailure, &PartialFailureError{Failures: r.failureCounts()})
	}
	return r.finish(ctx, StatusCompleted, nil)
}

func (r *run) initialItems() []readyItem {
	f := newFrontier()
	for _, i := range r.g.entries {
		f.push(readyItem{OrderKey: computeOrderKey(-1, i), node: i})
	}
	return f.drain()
}

// readyItems computes the next round from the delivered flags.
func (r *run) readyItems() []readyItem {
	f := newFrontier()
	for i, n := range r.g.nodes {
		var via []int
		forward, forwardDelivered, cycleDelivered := 0, 0, false
		for _, ei := range r.g.in[i] {
			e := r.g.edges[ei]
			if !e.cycle {
				forward++
			}
			if !r.delivered[ei] {
				continue
			}
			via = append(via, ei)
			if e.cycle {
				cycleDelivered = true
			} else {
				forwardDelivered++
			}
		}

		var ready bool
		switch n.activation {
		case ActivationAny:
			ready = len(via) > 0
		default:
			ready = cycleDelivered || (forward > 0 && forwardDelivered == forward)
		}
		if ready {
			f.push(readyItem{OrderKey: computeOrderKey(via[0], i), node: i, via: via})
		}
	}
	return f.drain()
}

// admit enforces the cycle cap and trims the round to the turn budget.
func (r *run) admit(items []readyItem) ([]readyItem, error) {
	limit := r.opts.MaxNodeInvocations
	for _, it := range items {
		if r.invocations[it.node] >= limit {
			return nil, &CycleLimitError{Node: r.g.nodes[it.node].name, Limit: limit}
		}
	}
	if r.opts.MaxTurns > 0 {
		remaining := r.opts.MaxTurns - r.turns
		if remaining <= 0 {
			return nil, &CycleLimitError{Limit: r.opts.MaxTurns}
		}
		if len(items) > remaining {
			items = items[:remaining]
		}
	}
	return items, nil
}

func (r *run) clearIncoming(items []readyItem) {
	for _, it := range items {
		for _, ei := range r.g.in[it.node] {
			r.delivered[ei] = false
		}
	}
}

// viewFor builds the messages a node sees: the union of what each delivering
// edge's effective filter admits from the committed thread.
func (r *run) viewFor(it readyItem, thread []Message) []Message {
	if len(it.via) == 0 {
		out := make([]Message, len(thread))
		copy(out, thread)
		return out
	}
	filters := make([]Filter, len(it.via))
	for k, ei := range it.via {
		filters[k] = r.effectiveFilter(ei)
	}
	return unionView(thread, filters)
}

// effectiveFilter resolves the filter for an incoming edge: per-run override
// of the target, then the edge's filter, then the target's node filter.
func (r *run) effectiveFilter(ei int) Filter {
	e := r.g.edges[ei]
	if f, ok := r.overrides[e.To]; ok {
		return f
	}
	if e.hasFilter() {
		return e.Filter
	}
	return r.g.nodes[r.g.index[e.To]].filter
}

// runRound invokes every item concurrently and forwards streamed fragments
// as they arrive. It returns false if the run was cancelled or the consumer
// stopped; in-flight invocations are then abandoned.
func (r *run) runRound(ctx context.Context, items []readyItem, yield func(Event) bool) ([]outcome, bool) {
	thread := make([]Message, 0, len(r.seeds)+r.log.Len())
	thread = append(thread, r.seeds...)
	thread = append(thread, r.log.Snapshot()...)

	views := make([][]Message, len(items))
	for k, it := range items {
		views[k] = r.viewFor(it, thread)
	}

	round := r.round
	outs := make([]outcome, len(items))
	frags := make(chan fragment, fragmentBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		var eg errgroup.Group
		if r.opts.MaxConcurrency > 0 {
			eg.SetLimit(r.opts.MaxConcurrency)
		}
		for k, it := range items {
			if ctx.Err() != nil {
				break
			}
			node := r.g.nodes[it.node]
			view := views[k]
			eg.Go(func() error {
				outs[k] = r.invoke(ctx, round, node, view, frags)
				return nil
			})
		}
		_ = eg.Wait()
	}()

	for {
		select {
		case f := <-frags:
			if !r.forward(f, yield) {
				return nil, false
			}
		case <-done:
			for {
				select {
				case f := <-frags:
					if !r.forward(f, yield) {
						return nil, false
					}
				default:
					return outs, ctx.Err() == nil
				}
			}
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (r *run) forward(f fragment, yield func(Event) bool) bool {
	if !yield(Event{Kind: EventFragment, NodeID: f.node, Fragment: f.text}) {
		r.consumerGone = true
		return false
	}
	return true
}

// invoke runs one node under its timeout and retry policy.
func (r *run) invoke(ctx context.Context, round int, node Node, view []Message, frags chan<- fragment) outcome {
	timeout := getNodeTimeout(node.policy, r.opts.NodeTimeout)
	rp := retryPolicyOf(node.policy)
	metrics := r.opts.Metrics

	start := time.Now()
	for attempt := 0; ; attempt++ {
		r.emit(round, node.name, "node_start", map[string]interface{}{
			"attempt":    attempt + 1,
			"view_size":  len(view),
			"node_kind":  node.kind.String(),
			"timeout_ms": timeout.Milliseconds(),
		})

		if metrics != nil {
			metrics.AddInflight(1)
		}
		out := invokeWithTimeout(ctx, node.name, timeout, func(callCtx context.Context) outcome {
			return call(callCtx, node, view, frags)
		})
		if metrics != nil {
			metrics.AddInflight(-1)
		}
		out.attempts = attempt + 1
		out.latency = time.Since(start)

		if out.err == nil || out.timedOut || out.cancelled || out.fragments > 0 {
			return out
		}
		if !rp.shouldRetry(attempt, out.err) {
			return out
		}

		delay := computeBackoff(attempt, rp.BaseDelay, rp.MaxDelay, nil)
		r.emit(round, node.name, "node_retry", map[string]interface{}{
			"attempt":  attempt + 1,
			"error":    out.err.Error(),
			"delay_ms": delay.Milliseconds(),
		})
		if metrics != nil {
			metrics.IncrementRetries(node.name, "error")
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return outcome{err: ctx.Err(), cancelled: true, attempts: attempt + 1}
		}
	}
}

// call dispatches to the node's capability. Panics become NODE_PANIC errors.
func call(ctx context.Context, node Node, view []Message, frags chan<- fragment) (out outcome) {
	sent := 0
	defer func() {
		if p := recover(); p != nil {
			out = outcome{
				err: &NodeError{
					Message: fmt.Sprintf("worker panicked: %v", p),
					Code:    "NODE_PANIC",
					NodeID:  node.name,
				},
				fragments: sent,
			}
		}
	}()

	switch node.kind {
	case KindStream:
		var sb strings.Builder
		for chunk, err := range node.stream.InvokeStream(ctx, view) {
			if err != nil {
				return outcome{content: sb.String(), err: err, fragments: sent}
			}
			if chunk == "" {
				continue
			}
			sb.WriteString(chunk)
			select {
			case frags <- fragment{node: node.name, text: chunk}:
				sent++
			case <-ctx.Done():
				return outcome{err: ctx.Err(), fragments: sent}
			}
		}
		if err := ctx.Err(); err != nil {
			return outcome{err: err, fragments: sent}
		}
		return outcome{content: sb.String(), fragments: sent}

	case KindWorkflow:
		content, err := node.workflow.Invoke(ctx, view)
		return outcome{content: content, err: err}

	default:
		content, err := node.worker.Invoke(ctx, view)
		return outcome{content: content, err: err}
	}
}

// commit appends the round's outcomes to the Log in ready order, delivers
// them along outgoing edges and yields them. It returns the first timeout
// error of the round, if any.
func (r *run) commit(ctx context.Context, items []readyItem, outs []outcome, yield func(Event) bool) error {
	before := r.log.Len()
	var timeoutErr error

	for k, it := range items {
		node := r.g.nodes[it.node]
		out := outs[k]

		status, content := MessageComplete, out.content
		if out.err != nil {
			status, content = MessageFailed, out.err.Error()
			r.failures[node.name]++
		}

		msg := r.log.Append(node.name, content, status)
		r.invocations[it.node]++
		r.turns++
		r.produced[it.node] = true
		for _, ei := range r.g.out[it.node] {
			if r.g.edges[ei].delivers(msg) {
				r.delivered[ei] = true
			}
		}

		r.observe(node, msg, out)
		if out.timedOut && timeoutErr == nil {
			timeoutErr = out.err
		}
		if !r.consumerGone && !yield(Event{Kind: EventMessage, NodeID: node.name, Message: msg}) {
			r.consumerGone = true
		}
	}

	committed := r.log.Since(before)
	records := make([]store.MessageRecord, len(committed))
	for i, msg := range committed {
		records[i] = store.MessageRecord{
			Seq:     msg.Seq,
			Source:  msg.Source,
			Content: msg.Content,
			Status:  string(msg.Status),
		}
	}
	r.appendMessages(ctx, records)
	r.emit(r.round, "", "round_end", map[string]interface{}{
		"committed": len(items),
		"log_size":  r.log.Len(),
	})
	return timeoutErr
}

// observe records metrics and events for one committed invocation.
func (r *run) observe(node Node, msg Message, out outcome) {
	status := "complete"
	switch {
	case out.timedOut:
		status = "timeout"
	case out.err != nil:
		status = "failed"
	}

	if m := r.opts.Metrics; m != nil {
		m.RecordInvocation(node.name, out.latency, status)
		if out.err != nil {
			m.IncrementFailures(node.name)
		}
	}

	meta := map[string]interface{}{
		"seq":         msg.Seq,
		"attempts":    out.attempts,
		"duration_ms": out.latency.Milliseconds(),
	}
	switch status {
	case "timeout":
		meta["error"] = out.err.Error()
		r.emit(r.round, node.name, "node_timeout", meta)
	case "failed":
		meta["error"] = out.err.Error()
		var nodeErr *NodeError
		if errors.As(out.err, &nodeErr) {
			meta["code"] = nodeErr.Code
		}
		r.emit(r.round, node.name, "node_error", meta)
	default:
		if out.fragments > 0 {
			meta["fragments"] = out.fragments
		}
		r.emit(r.round, node.name, "node_end", meta)
	}
}

// complete reports whether every terminal has produced output and no
// pending delivery can still change it. A pending cycle edge always keeps
// the run going; a pending forward edge does so when its target feeds a
// terminal, so a re-fired upstream node is always followed through.
func (r *run) complete() bool {
	for _, t := range r.g.terminals {
		if !r.produced[t] {
			return false
		}
	}
	for ei, e := range r.g.edges {
		if !r.delivered[ei] {
			continue
		}
		if e.cycle || r.g.feedsTerminal[r.g.index[e.To]] {
			return false
		}
	}
	return true
}

func (r *run) finish(ctx context.Context, status RunStatus, err error) *Result {
	invocations := make(map[string]int, len(r.g.nodes))
	for i, n := range r.g.nodes {
		if r.invocations[i] > 0 {
			invocations[n.name] = r.invocations[i]
		}
	}
	terminals := make(map[string]bool, len(r.g.terminals))
	for _, t := range r.g.terminals {
		terminals[r.g.nodes[t].name] = true
	}

	res := &Result{
		RunID:       r.runID,
		Status:      status,
		Task:        r.seeds,
		Messages:    r.log.Snapshot(),
		Failures:    r.failureCounts(),
		Invocations: invocations,
		Err:         err,
		terminals:   terminals,
	}

	if r.opts.Metrics != nil {
		r.opts.Metrics.UpdateReadyNodes(0)
		r.opts.Metrics.RecordRun(string(status))
	}
	meta := map[string]interface{}{
		"status":      string(status),
		"rounds":      r.round,
		"invocations": r.turns,
		"duration_ms": time.Since(r.startedAt).Milliseconds(),
	}
	if err != nil {
		meta["error"] = err.Error()
	}
	r.emit(r.round, "", "run_end", meta)
	if !r.rejected {
		r.saveRun(ctx, string(status), res, time.Now())
	}
	return res
}

func (r *run) failureCounts() map[string]int {
	out := make(map[string]int, len(r.failures))
	for k, v := range r.failures {
		out[k] = v
	}
	return out
}

func (r *run) itemNames(items []readyItem) []string {
	names := make([]string, len(items))
	for k, it := range items {
		names[k] = r.g.nodes[it.node].name
	}
	return names
}

func (r *run) emit(step int, nodeID, msg string, meta map[string]interface{}) {
	if r.opts.Emitter == nil {
		return
	}
	r.opts.Emitter.Emit(emit.Event{
		RunID:  r.runID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

// createRun claims the run ID in the store. Only a taken ID fails the run;
// other store failures are reported as store_error events.
func (r *run) createRun(ctx context.Context) error {
	if r.opts.Store == nil {
		return nil
	}
	err := r.opts.Store.CreateRun(context.WithoutCancel(ctx), r.record(runningStatus, nil, time.Time{}))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrRunExists):
		return fmt.Errorf("%w: %q: %w", ErrDuplicateRunID, r.runID, err)
	default:
		r.emit(0, "", "store_error", map[string]interface{}{"op": "create_run", "error": err.Error()})
		return nil
	}
}

// saveRun persists the run record. Store failures never fail the run; they
// are reported as store_error events.
func (r *run) saveRun(ctx context.Context, status string, res *Result, finishedAt time.Time) {
	if r.opts.Store == nil {
		return
	}
	if err := r.opts.Store.SaveRun(context.WithoutCancel(ctx), r.record(status, res, finishedAt)); err != nil {
		r.emit(r.round, "", "store_error", map[string]interface{}{"op": "save_run", "error": err.Error()})
	}
}

func (r *run) record(status string, res *Result, finishedAt time.Time) store.RunRecord {
	rec := store.RunRecord{
		RunID:      r.runID,
		Graph:      r.opts.GraphName,
		Task:       taskText(r.seeds),
		Status:     status,
		StartedAt:  r.startedAt,
		FinishedAt: finishedAt,
	}
	if res != nil {
		rec.Digest = res.Digest()
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
	}
	return rec
}

func (r *run) appendMessages(ctx context.Context, records []store.MessageRecord) {
	if r.opts.Store == nil || len(records) == 0 {
		return
	}
	if err := r.opts.Store.AppendMessages(context.WithoutCancel(ctx), r.runID, records); err != nil {
		r.emit(r.round, "", "store_error", map[string]interface{}{"op": "append_messages", "error": err.Error()})
	}
}

func taskText(seeds []Message) string {
	parts := make([]string, len(seeds))
	for i, m := range seeds {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}

// cancelledError wraps the context's error with ErrCancelled.
func cancelledError(ctx context.Context) error {
	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
