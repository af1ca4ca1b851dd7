package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing one line per event to a writer.
//
// Two output modes are supported:
//   - Text mode: the event message in brackets followed by key=value pairs,
//     for reading in a terminal
//   - JSON mode: one JSON object per line (JSON Lines), for log shippers
//     and jq
//
// Text output:
//
//	[node_end] runID=3f2a step=2 nodeID=critic meta={"attempts":1,"seq":4}
//
// JSON output:
//
//	{"runID":"3f2a","step":2,"nodeID":"critic","msg":"node_end","meta":{"attempts":1,"seq":4}}
//
// Run-level events (run_start, round_start, run_end) carry no node ID; the
// field is left out in both modes.
//
// Usage:
//
//	// Human-readable events on stderr
//	engine, _ := graph.New(g, graph.WithEmitter(emit.NewLogEmitter(os.Stderr, false)))
//
//	// Machine-readable events appended to a file
//	f, err := os.OpenFile("events.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//	engine, _ := graph.New(g, graph.WithEmitter(emit.NewLogEmitter(f, true)))
//
// A LogEmitter is safe for concurrent use; lines from parallel nodes never
// interleave. Write errors are dropped so a broken log sink cannot fail a
// run.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter returns a LogEmitter.
//
// Parameters:
//   - writer: destination of the lines; os.Stdout when nil
//   - jsonMode: true for JSON Lines, false for text
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes event as a single line. Lines from concurrent callers never
// interleave.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID  string                 `json:"runID"`
		Step   int                    `json:"step"`
		NodeID string                 `json:"nodeID,omitempty"`
		Msg    string                 `json:"msg"`
		Meta   map[string]interface{} `json:"meta,omitempty"`
	}{
		RunID:  event.RunID,
		Step:   event.Step,
		NodeID: event.NodeID,
		Msg:    event.Msg,
		Meta:   event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":%q}\n", "failed to marshal event: "+err.Error())
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] runID=%s step=%d", event.Msg, event.RunID, event.Step)
	if event.NodeID != "" {
		fmt.Fprintf(l.writer, " nodeID=%s", event.NodeID)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
