package emit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns engine events into OpenTelemetry spans.
//
// run_start opens a "hive.run" span that stays open until run_end; every
// other event of that run becomes a child span named after event.Msg.
// Completion events (node_end, node_error, node_timeout) carry duration_ms,
// so their spans are backdated to cover the invocation.
//
// Attributes are namespaced "hive.": hive.run_id, hive.step, hive.node_id,
// and hive.<key> for every Meta entry.
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	eng, _ := graph.New(g, graph.WithEmitter(emit.NewOTelEmitter(otel.Tracer("hive"))))
type OTelEmitter struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]runSpan
}

type runSpan struct {
	ctx  context.Context
	span trace.Span
}

// NewOTelEmitter returns an emitter that records spans with tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{
		tracer: tracer,
		runs:   make(map[string]runSpan),
	}
}

// Emit records event as a span.
func (o *OTelEmitter) Emit(event Event) {
	switch event.Msg {
	case "run_start":
		o.startRun(event)
	case "run_end":
		o.endRun(event)
	default:
		o.emitChild(event)
	}
}

func (o *OTelEmitter) startRun(event Event) {
	ctx, span := o.tracer.Start(context.Background(), "hive.run")
	setAttributes(span, event)

	o.mu.Lock()
	o.runs[event.RunID] = runSpan{ctx: ctx, span: span}
	o.mu.Unlock()
}

func (o *OTelEmitter) endRun(event Event) {
	o.mu.Lock()
	rs, ok := o.runs[event.RunID]
	delete(o.runs, event.RunID)
	o.mu.Unlock()

	if !ok {
		// run_start was missed; record the end as a standalone span.
		o.emitChild(event)
		return
	}
	setAttributes(rs.span, event)
	setErrorStatus(rs.span, event)
	rs.span.End()
}

func (o *OTelEmitter) emitChild(event Event) {
	parent := context.Background()
	o.mu.Lock()
	if rs, ok := o.runs[event.RunID]; ok {
		parent = rs.ctx
	}
	o.mu.Unlock()

	end := time.Now()
	start := end
	if d, ok := durationMS(event.Meta); ok {
		start = end.Add(-d)
	}

	_, span := o.tracer.Start(parent, event.Msg, trace.WithTimestamp(start))
	setAttributes(span, event)
	setErrorStatus(span, event)
	span.End(trace.WithTimestamp(end))
}

// OpenRuns returns the number of run spans not yet ended.
func (o *OTelEmitter) OpenRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

// Flush forces the global tracer provider to export pending spans, if it
// supports flushing. Call before process exit.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func setAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("hive.run_id", event.RunID),
		attribute.Int("hive.step", event.Step),
	)
	if event.NodeID != "" {
		span.SetAttributes(attribute.String("hive.node_id", event.NodeID))
	}
	for key, value := range event.Meta {
		span.SetAttributes(metaAttribute("hive."+key, value))
	}
}

func setErrorStatus(span trace.Span, event Event) {
	if !event.IsError() {
		return
	}
	msg, _ := event.Meta["error"].(string)
	if msg == "" {
		msg = event.Msg
	}
	span.SetStatus(codes.Error, msg)
	span.RecordError(errors.New(msg))
}

func metaAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

func durationMS(meta map[string]interface{}) (time.Duration, bool) {
	switch v := meta["duration_ms"].(type) {
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	}
	return 0, false
}
