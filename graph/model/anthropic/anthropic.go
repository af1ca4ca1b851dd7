// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/hivegraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = "claude-3-5-haiku-latest"

// defaultMaxTokens is required by the Messages API.
const defaultMaxTokens = 4096

// ChatModel implements model.StreamingChatModel over anthropic-sdk-go.
//
// System messages are lifted into the request's system parameter; tool
// results are sent as tool_result blocks in a user turn.
type ChatModel struct {
	client    *anthropic.Client
	modelName string
	settings  model.Settings
}

// NewChatModel creates a ChatModel. An empty apiKey falls back to the
// ANTHROPIC_API_KEY environment variable read by the SDK.
func NewChatModel(apiKey, modelName string, opts ...model.Option) *ChatModel {
	settings := model.ApplyOptions(opts...)

	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	if settings.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(settings.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)
	return NewChatModelFromClient(&client, modelName, opts...)
}

// NewChatModelFromClient wraps an existing client.
func NewChatModelFromClient(client *anthropic.Client, modelName string, opts ...model.Option) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &ChatModel{
		client:    client,
		modelName: modelName,
		settings:  model.ApplyOptions(opts...),
	}
}

// Provider implements model.Describer.
func (m *ChatModel) Provider() string { return "anthropic" }

// ModelName implements model.Describer.
func (m *ChatModel) ModelName() string { return m.modelName }

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	resp, err := m.client.Messages.New(ctx, m.buildParams(messages, tools))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic messages: %w", err)
	}
	return convertResponse(resp), nil
}

// ChatStream implements model.StreamingChatModel.
func (m *ChatModel) ChatStream(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onDelta func(string)) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	stream := m.client.Messages.NewStreaming(ctx, m.buildParams(messages, tools))
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return model.ChatOut{}, fmt.Errorf("anthropic streaming: %w", err)
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" && onDelta != nil {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic streaming: %w", err)
	}
	return convertResponse(&message), nil
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) anthropic.MessageNewParams {
	system, conversation := model.SplitSystem(messages)

	maxTokens := int64(defaultMaxTokens)
	if m.settings.MaxTokens > 0 {
		maxTokens = int64(m.settings.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: maxTokens,
		Messages:  convertMessages(conversation),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if m.settings.Temperature != nil {
		params.Temperature = anthropic.Float(*m.settings.Temperature)
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params
}

// convertMessages maps the conversation to alternating user/assistant turns.
// Consecutive tool results are merged into one user turn.
func convertMessages(messages []model.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleTool:
			isError := strings.HasPrefix(msg.Content, "error:")
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isError))
		case model.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Input
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}
	flush()
	return out
}

func convertTools(tools []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if props, ok := t.Schema["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredFields(t.Schema["required"])

		out[i] = anthropic.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" {
			out[i].OfTool.Description = anthropic.String(t.Description)
		}
	}
	return out
}

func requiredFields(v interface{}) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func convertResponse(resp *anthropic.Message) model.ChatOut {
	out := model.ChatOut{
		FinishReason: string(resp.StopReason),
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			input := map[string]interface{}{}
			if len(tu.Input) > 0 {
				if err := json.Unmarshal(tu.Input, &input); err != nil {
					input = map[string]interface{}{"_raw": string(tu.Input)}
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: tu.ID, Name: tu.Name, Input: input})
		}
	}
	out.Text = text.String()
	return out
}
