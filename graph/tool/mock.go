package tool

import (
	"context"
	"sync"

	"github.com/dshills/hivegraph/graph/model"
)

// MockTool is a scripted Tool for tests.
//
// It lets agent and factory tests drive tool rounds without touching the
// network. A MockTool offers:
//   - a fixed name, description and input schema for the model's tool list
//   - a response script consumed in order
//   - error injection
//   - a record of every input it was called with
//
// A scripted lookup:
//
//	weather := &tool.MockTool{
//	    ToolName: "get_weather",
//	    Responses: []map[string]interface{}{
//	        {"forecast": "sunny"},
//	        {"forecast": "rain"},
//	    },
//	}
//	a, _ := agent.New("forecaster", chat, agent.WithTools(weather), agent.WithReflection(2))
//
// A failing tool, whose error the agent reports back as the tool result:
//
//	broken := &tool.MockTool{ToolName: "get_weather", Err: errors.New("station offline")}
//
// MockTool is safe for concurrent use. Read Calls only after the calls under
// test have returned.
type MockTool struct {
	// ToolName is returned in Spec and must match the name the model calls.
	ToolName string

	// Description and Schema are passed to the model unchanged.
	Description string
	Schema      map[string]interface{}

	// Responses are returned one per call. Once they run out the last entry
	// repeats; with none, Call returns an empty result.
	Responses []map[string]interface{}

	// Err, when set, is returned instead of a response.
	Err error

	// Calls holds the input of every call in order, failed ones included.
	Calls []map[string]interface{}

	mu   sync.Mutex
	next int // index of the next response
}

// Spec implements Tool.
func (m *MockTool) Spec() model.ToolSpec {
	return model.ToolSpec{Name: m.ToolName, Description: m.Description, Schema: m.Schema}
}

// Call implements Tool.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, input)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]interface{}{}, nil
	}
	idx := m.next
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.next++
	}
	return m.Responses[idx], nil
}

// CallCount returns the number of recorded calls.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears recorded calls and rewinds Responses.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.next = 0
}
