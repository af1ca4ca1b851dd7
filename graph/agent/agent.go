// Package agent provides an LLM-backed worker for graph nodes.
//
// An Agent turns the node's visible messages into a chat history, calls its
// ChatModel and returns the reply as the node's message. It implements both
// graph.Worker and graph.StreamWorker, so the same agent can back a plain or
// a streaming node:
//
//	writer, err := agent.New("writer", chat,
//	    agent.WithInstructions("You write short poems."),
//	    agent.WithCostTracker(costs),
//	)
//	b.AddNode(graph.NewStreamNode("writer", writer, graph.WithPolicy(agent.DefaultPolicy())))
//
// When tools are attached and the model requests tool calls, the agent runs
// them and, by default, returns a summary of the tool results as its message.
// WithReflection feeds the results back to the model instead until it
// answers in text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/hivegraph/graph"
	"github.com/dshills/hivegraph/graph/model"
	"github.com/dshills/hivegraph/graph/tool"
)

// DefaultInstructions is the system prompt used when none is configured.
const DefaultInstructions = "You are a helpful assistant."

// ErrToolRounds is returned when a reflecting agent keeps requesting tools
// past its round limit.
var ErrToolRounds = errors.New("tool round limit exceeded")

// errStopped signals that the stream consumer stopped reading.
var errStopped = errors.New("stream consumer stopped")

// Agent is a named chat participant backed by a model.ChatModel.
// It is safe for concurrent use if its model and tools are.
type Agent struct {
	name          string
	chat          model.ChatModel
	instructions  string
	tools         *tool.Registry
	reflect       bool
	maxToolRounds int
	toolTimeout   time.Duration
	maxHistory    int
	costs         *model.CostTracker
	logger        *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent) error

// WithInstructions sets the system prompt.
func WithInstructions(text string) Option {
	return func(a *Agent) error {
		a.instructions = text
		return nil
	}
}

// WithTools exposes tools to the model. Names must be unique.
func WithTools(tools ...tool.Tool) Option {
	return func(a *Agent) error {
		reg, err := tool.NewRegistry(tools...)
		if err != nil {
			return err
		}
		a.tools = reg
		return nil
	}
}

// WithReflection makes the agent send tool results back to the model and
// return the model's eventual text answer. maxRounds bounds the number of
// tool rounds; values below 1 mean 5.
func WithReflection(maxRounds int) Option {
	return func(a *Agent) error {
		if maxRounds < 1 {
			maxRounds = 5
		}
		a.reflect = true
		a.maxToolRounds = maxRounds
		return nil
	}
}

// WithToolTimeout bounds each tool call. Zero disables the bound.
func WithToolTimeout(d time.Duration) Option {
	return func(a *Agent) error {
		if d < 0 {
			return fmt.Errorf("tool timeout must be >= 0, got %s", d)
		}
		a.toolTimeout = d
		return nil
	}
}

// WithMaxHistory keeps only the most recent n visible messages. Zero keeps
// all of them.
func WithMaxHistory(n int) Option {
	return func(a *Agent) error {
		if n < 0 {
			return fmt.Errorf("max history must be >= 0, got %d", n)
		}
		a.maxHistory = n
		return nil
	}
}

// WithCostTracker records token usage of every model call.
func WithCostTracker(ct *model.CostTracker) Option {
	return func(a *Agent) error {
		a.costs = ct
		return nil
	}
}

// WithLogger sets the logger used for tool-call diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) error {
		if l != nil {
			a.logger = l
		}
		return nil
	}
}

// New returns an agent named name. The name identifies the agent's own
// messages in the views it receives, so it should match the node name.
func New(name string, chat model.ChatModel, opts ...Option) (*Agent, error) {
	if name == "" {
		return nil, errors.New("agent name must not be empty")
	}
	if chat == nil {
		return nil, fmt.Errorf("agent %s: chat model is nil", name)
	}
	a := &Agent{
		name:          name,
		chat:          chat,
		instructions:  DefaultInstructions,
		maxToolRounds: 1,
		toolTimeout:   15 * time.Second,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
	}
	return a, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Tools returns the names of the attached tools.
func (a *Agent) Tools() []string { return a.tools.Names() }

// Invoke implements graph.Worker.
func (a *Agent) Invoke(ctx context.Context, view []graph.Message) (string, error) {
	var sb strings.Builder
	err := a.run(ctx, view, false, func(s string) bool {
		sb.WriteString(s)
		return true
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// InvokeStream implements graph.StreamWorker. Models that implement
// model.StreamingChatModel stream token deltas; others yield each reply as a
// single fragment. The concatenated fragments equal what Invoke returns.
func (a *Agent) InvokeStream(ctx context.Context, view []graph.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		err := a.run(ctx, view, true, func(s string) bool {
			if stopped {
				return false
			}
			if !yield(s, nil) {
				stopped = true
				cancel()
				return false
			}
			return true
		})
		if err != nil && !stopped && !errors.Is(err, errStopped) {
			yield("", err)
		}
	}
}

// run drives the conversation and passes every piece of the final message to
// emit. Separate model turns are joined by a blank line.
func (a *Agent) run(ctx context.Context, view []graph.Message, stream bool, emit func(string) bool) error {
	msgs := a.buildMessages(view)
	specs := a.tools.Specs()

	started, newTurn := false, true
	write := func(s string) bool {
		if s == "" {
			return true
		}
		if newTurn && started {
			if !emit("\n\n") {
				return false
			}
		}
		newTurn, started = false, true
		return emit(s)
	}

	for round := 0; ; round++ {
		newTurn = true
		out, err := a.complete(ctx, msgs, specs, stream, write)
		if err != nil {
			return err
		}

		if len(out.ToolCalls) == 0 {
			return nil
		}
		if a.tools.Len() == 0 {
			return fmt.Errorf("agent %s: model requested tools but none are configured", a.name)
		}
		// round counts the tool rounds already fed back to the model.
		if a.reflect && round >= a.maxToolRounds {
			return fmt.Errorf("agent %s: %w (%d)", a.name, ErrToolRounds, a.maxToolRounds)
		}

		results := a.runTools(ctx, out.ToolCalls)
		if err := ctx.Err(); err != nil {
			return err
		}

		if !a.reflect {
			newTurn = true
			if !write(summarize(results)) {
				return errStopped
			}
			return nil
		}
		next := make([]model.Message, 0, len(msgs)+1+len(results))
		next = append(next, msgs...)
		next = append(next, model.Message{Role: model.RoleAssistant, Content: out.Text, ToolCalls: out.ToolCalls})
		for _, r := range results {
			next = append(next, model.Message{Role: model.RoleTool, Name: r.call.Name, ToolCallID: r.call.ID, Content: r.content})
		}
		msgs = next
	}
}

// complete performs one model call and records its usage. Non-streaming
// calls emit the full text once the call returns.
func (a *Agent) complete(ctx context.Context, msgs []model.Message, specs []model.ToolSpec, stream bool, emit func(string) bool) (model.ChatOut, error) {
	var (
		out model.ChatOut
		err error
	)
	if sm, ok := a.chat.(model.StreamingChatModel); ok && stream {
		stopped := false
		out, err = sm.ChatStream(ctx, msgs, specs, func(delta string) {
			if !stopped && !emit(delta) {
				stopped = true
			}
		})
		if stopped {
			return model.ChatOut{}, errStopped
		}
	} else {
		out, err = a.chat.Chat(ctx, msgs, specs)
		if err == nil && !emit(out.Text) {
			return model.ChatOut{}, errStopped
		}
	}
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("agent %s: %w", a.name, err)
	}

	if a.costs != nil {
		_, modelName := model.Describe(a.chat)
		a.costs.Record(modelName, a.name, out.Usage)
	}
	return out, nil
}

// buildMessages maps a node view onto a chat history. The agent's own
// messages become assistant turns; everything else is a user turn, labelled
// with its source unless it came from the task. Failed messages are skipped.
func (a *Agent) buildMessages(view []graph.Message) []model.Message {
	visible := make([]graph.Message, 0, len(view))
	for _, m := range view {
		if !m.Failed() {
			visible = append(visible, m)
		}
	}
	if a.maxHistory > 0 && len(visible) > a.maxHistory {
		visible = visible[len(visible)-a.maxHistory:]
	}

	msgs := make([]model.Message, 0, len(visible)+1)
	if a.instructions != "" {
		msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: a.instructions})
	}
	for _, m := range visible {
		switch m.Source {
		case a.name:
			msgs = append(msgs, model.Message{Role: model.RoleAssistant, Content: m.Content})
		case graph.UserSource:
			msgs = append(msgs, model.Message{Role: model.RoleUser, Content: m.Content})
		default:
			msgs = append(msgs, model.Message{
				Role:    model.RoleUser,
				Name:    m.Source,
				Content: m.Source + ": " + m.Content,
			})
		}
	}
	return msgs
}

type toolResult struct {
	call    model.ToolCall
	content string
	failed  bool
}

// runTools executes calls sequentially in the order the model listed them.
// Failures become error content rather than aborting the invocation.
func (a *Agent) runTools(ctx context.Context, calls []model.ToolCall) []toolResult {
	results := make([]toolResult, 0, len(calls))
	for _, call := range calls {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if a.toolTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, a.toolTimeout)
		}
		start := time.Now()
		content, err := a.tools.Invoke(callCtx, call)
		cancel()

		r := toolResult{call: call, content: content}
		if err != nil {
			r.content = tool.FormatError(err)
			r.failed = true
		}
		a.logger.LogAttrs(ctx, slog.LevelDebug, "tool call",
			slog.String("agent", a.name),
			slog.String("tool", call.Name),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("failed", r.failed),
		)
		results = append(results, r)
	}
	return results
}

// summarize joins tool results one per line.
func summarize(results []toolResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.content
	}
	return strings.Join(parts, "\n")
}

// DefaultPolicy retries transient model failures (rate limits, 5xx,
// timeouts) up to three attempts.
func DefaultPolicy() graph.NodePolicy {
	return graph.NodePolicy{
		RetryPolicy: &graph.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    8 * time.Second,
			Retryable:   model.IsTransient,
		},
	}
}
