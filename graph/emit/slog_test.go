package emit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestSlogEmitter_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewSlogEmitter(logger, slog.LevelDebug)

	s.Emit(Event{RunID: "r", Step: 1, NodeID: "writer", Msg: "node_end", Meta: map[string]interface{}{"seq": 1}})
	s.Emit(Event{RunID: "r", Step: 1, NodeID: "writer", Msg: "node_retry", Meta: map[string]interface{}{"error": "flaky"}})
	s.Emit(Event{RunID: "r", Step: 1, NodeID: "writer", Msg: "node_error", Meta: map[string]interface{}{"error": "down"}})

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("expected 3 records, got %d", len(lines))
	}
	wantLevels := []string{"DEBUG", "WARN", "ERROR"}
	for i, want := range wantLevels {
		if lines[i]["level"] != want {
			t.Errorf("record %d level = %v, want %s", i, lines[i]["level"], want)
		}
	}
	if lines[0]["msg"] != "node_end" || lines[0]["run_id"] != "r" || lines[0]["node_id"] != "writer" {
		t.Errorf("unexpected record %+v", lines[0])
	}
	if lines[0]["seq"] != float64(1) {
		t.Errorf("meta attribute missing: %+v", lines[0])
	}
}

func TestSlogEmitter_RespectsHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := NewSlogEmitter(logger, slog.LevelDebug)

	s.Emit(Event{RunID: "r", Msg: "node_start"})
	if buf.Len() != 0 {
		t.Errorf("debug event should be dropped by an info handler, got %q", buf.String())
	}

	s.Emit(Event{RunID: "r", Msg: "store_error", Meta: map[string]interface{}{"op": "save_run"}})
	if !strings.Contains(buf.String(), "store_error") || !strings.Contains(buf.String(), "op=save_run") {
		t.Errorf("expected store_error record, got %q", buf.String())
	}
}
