package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter forwards events to a *slog.Logger. Failure events are logged at
// Error, retries at Warn, everything else at the configured base level.
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	eng, _ := graph.New(g, graph.WithEmitter(emit.NewSlogEmitter(logger, slog.LevelDebug)))
type SlogEmitter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogEmitter returns an emitter writing to logger (slog.Default if nil).
func NewSlogEmitter(logger *slog.Logger, level slog.Level) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger, level: level}
}

// Emit logs event with its fields as attributes. Meta keys are sorted so the
// output is stable.
func (s *SlogEmitter) Emit(event Event) {
	level := s.level
	switch {
	case event.IsError():
		level = slog.LevelError
	case event.Msg == "node_retry":
		level = slog.LevelWarn
	}

	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 3+len(event.Meta))
	attrs = append(attrs,
		slog.String("run_id", event.RunID),
		slog.Int("step", event.Step),
	)
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	s.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}
