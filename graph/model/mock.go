package model

import (
	"context"
	"strings"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests and offline runs.
//
// The "mock" provider in a workflow file builds one from the agent's
// responses list, so whole graphs can be exercised without API keys. A
// MockChatModel offers:
//   - a response script consumed in order, text or tool calls
//   - word-by-word streaming through ChatStream
//   - error injection
//   - a record of every request
//
// A scripted conversation:
//
//	mock := &model.MockChatModel{
//	    Responses: []model.ChatOut{
//	        {Text: "first draft"},
//	        {Text: "revised draft"},
//	    },
//	}
//	out, err := mock.Chat(ctx, msgs, nil)
//	// "first draft", then "revised draft" for every later call
//
// A provider outage, classified as transient by IsTransient:
//
//	mock := &model.MockChatModel{Err: errors.New("503 service unavailable")}
//
// MockChatModel is safe for concurrent use, but its script is one cursor:
// give each agent its own instance.
type MockChatModel struct {
	// Responses are returned one per call. Once they run out the last entry
	// repeats; with none, calls return an empty ChatOut.
	Responses []ChatOut

	// Err, when set, is returned instead of a response.
	Err error

	// Name is reported by ModelName; defaults to "mock".
	Name string

	// Calls holds every request in order. Read it after the calls under
	// test have returned.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int // index of the next response
}

// MockChatCall records one invocation.
type MockChatCall struct {
	Messages []Message
	Tools    []ToolSpec
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockChatCall{Messages: messages, Tools: tools})
	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// ChatStream implements StreamingChatModel by replaying the scripted text
// word by word.
func (m *MockChatModel) ChatStream(ctx context.Context, messages []Message, tools []ToolSpec, onDelta func(string)) (ChatOut, error) {
	out, err := m.Chat(ctx, messages, tools)
	if err != nil {
		return out, err
	}
	for _, chunk := range strings.SplitAfter(out.Text, " ") {
		if ctx.Err() != nil {
			return ChatOut{}, ctx.Err()
		}
		if chunk != "" && onDelta != nil {
			onDelta(chunk)
		}
	}
	return out, nil
}

// Provider implements Describer.
func (m *MockChatModel) Provider() string { return "mock" }

// ModelName implements Describer.
func (m *MockChatModel) ModelName() string {
	if m.Name == "" {
		return "mock"
	}
	return m.Name
}

// Reset clears the call history and rewinds the responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of Chat calls so far.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
