package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestLogEmitter_Text(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, false)

	l.Emit(Event{RunID: "run-1", Step: 2, NodeID: "critic", Msg: "node_end", Meta: map[string]interface{}{"seq": 4}})
	l.Emit(Event{RunID: "run-1", Step: 2, Msg: "round_end"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if lines[0] != `[node_end] runID=run-1 step=2 nodeID=critic meta={"seq":4}` {
		t.Errorf("unexpected node line %q", lines[0])
	}
	if lines[1] != `[round_end] runID=run-1 step=2` {
		t.Errorf("unexpected round line %q", lines[1])
	}
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	l.Emit(Event{RunID: "run-1", Step: 1, NodeID: "writer", Msg: "node_error", Meta: map[string]interface{}{"error": "boom"}})

	var decoded struct {
		RunID  string                 `json:"runID"`
		Step   int                    `json:"step"`
		NodeID string                 `json:"nodeID"`
		Msg    string                 `json:"msg"`
		Meta   map[string]interface{} `json:"meta"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if decoded.RunID != "run-1" || decoded.NodeID != "writer" || decoded.Msg != "node_error" || decoded.Step != 1 {
		t.Errorf("unexpected decoded event %+v", decoded)
	}
	if decoded.Meta["error"] != "boom" {
		t.Errorf("meta lost: %+v", decoded.Meta)
	}
}

func TestLogEmitter_UnmarshalableMeta(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	l.Emit(Event{RunID: "r", Msg: "x", Meta: map[string]interface{}{"ch": make(chan int)}})
	if !strings.Contains(buf.String(), "failed to marshal event") {
		t.Errorf("expected marshal error line, got %q", buf.String())
	}
}

func TestLogEmitter_ConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogEmitter(&buf, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Emit(Event{RunID: "run", NodeID: "n", Msg: "node_start"})
		}()
	}
	wg.Wait()

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !json.Valid([]byte(line)) {
			t.Fatalf("corrupted line %q", line)
		}
	}
}
