// Package model defines the provider-neutral chat contract that agents use to
// talk to LLMs, plus a mock and a cost tracker. Provider adapters live in the
// openai, anthropic and google subpackages.
package model

import (
	"context"
	"errors"
	"strings"
)

// ChatModel is a chat-completion provider.
//
// Implementations convert Messages and ToolSpecs to the provider's wire
// format, respect ctx cancellation, and report token usage in ChatOut.Usage
// when the provider returns it.
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "You are a poet."},
//	    {Role: model.RoleUser, Content: "Write a haiku about autumn."},
//	}, nil)
type ChatModel interface {
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// StreamingChatModel is a ChatModel that can deliver text incrementally.
//
// ChatStream calls onDelta with each text fragment as it arrives and returns
// the complete response once the stream ends. The concatenation of all deltas
// equals ChatOut.Text.
type StreamingChatModel interface {
	ChatModel
	ChatStream(ctx context.Context, messages []Message, tools []ToolSpec, onDelta func(string)) (ChatOut, error)
}

// Standard roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	// RoleTool carries a tool result back to the model.
	RoleTool = "tool"
)

// Message is one turn of an LLM conversation.
type Message struct {
	Role    string
	Content string

	// Name is the tool name on RoleTool messages.
	Name string

	// ToolCallID links a RoleTool result to the ToolCall it answers.
	ToolCallID string

	// ToolCalls are the calls requested by a RoleAssistant message.
	ToolCalls []ToolCall
}

// ToolSpec describes a tool the model may call. Schema is a JSON Schema
// object describing the input.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	// ID is the provider-assigned call ID; empty for providers without one.
	ID    string
	Name  string
	Input map[string]interface{}
}

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// ChatOut is a model response: text, tool calls, or both.
type ChatOut struct {
	Text         string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string
}

// Describer is implemented by models that can name themselves. Agents use it
// to attribute cost.
type Describer interface {
	Provider() string
	ModelName() string
}

// Describe returns the provider and model name of m, or "unknown" for models
// that don't implement Describer.
func Describe(m ChatModel) (provider, name string) {
	if d, ok := m.(Describer); ok {
		return d.Provider(), d.ModelName()
	}
	return "unknown", "unknown"
}

// SplitSystem separates system messages from the conversation, joining them
// with a blank line. Used by providers that take the system prompt as a
// separate parameter.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// IsTransient reports whether err looks like a temporary provider failure
// (rate limit, overload, network) worth retrying. Context cancellation is
// never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"429", "rate limit", "rate_limit", "too many requests", "resource_exhausted",
		"500", "502", "503", "504", "overloaded", "unavailable",
		"timeout", "connection reset", "connection refused", "temporary",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
