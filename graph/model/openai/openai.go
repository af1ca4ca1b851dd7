// Package openai adapts the OpenAI Chat Completions API (and compatible
// servers such as Ollama) to model.ChatModel.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dshills/hivegraph/graph/model"
)

// DefaultModel is used when NewChatModel is given an empty model name.
const DefaultModel = openai.ChatModelGPT4oMini

// ChatModel implements model.StreamingChatModel over the official openai-go
// client. The client retries transient HTTP failures itself.
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"), "gpt-4o")
//
// For Ollama or another compatible server:
//
//	m := openai.NewChatModel("ollama", "llama3.2", model.WithBaseURL("http://localhost:11434/v1"))
type ChatModel struct {
	client    *openai.Client
	modelName string
	settings  model.Settings
}

// NewChatModel creates a ChatModel. An empty apiKey falls back to the
// OPENAI_API_KEY environment variable read by the SDK.
func NewChatModel(apiKey, modelName string, opts ...model.Option) *ChatModel {
	settings := model.ApplyOptions(opts...)

	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	if settings.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(settings.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return NewChatModelFromClient(&client, modelName, opts...)
}

// NewChatModelFromClient wraps an existing client.
func NewChatModelFromClient(client *openai.Client, modelName string, opts ...model.Option) *ChatModel {
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
func (m *ChatModel) Provider() string { return "openai" }

// ModelName implements model.Describer.
func (m *ChatModel) ModelName() string { return m.modelName }

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	resp, err := m.client.Chat.Completions.New(ctx, m.buildParams(messages, tools))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.ChatOut{}, fmt.Errorf("openai chat completion: no choices returned")
	}

	choice := resp.Choices[0]
	out := model.ChatOut{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: model.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: parseArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

// pendingCall aggregates streamed tool call deltas by index.
type pendingCall struct{ id, name, args string }

// ChatStream implements model.StreamingChatModel.
func (m *ChatModel) ChatStream(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onDelta func(string)) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	params := m.buildParams(messages, tools)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		out  model.ChatOut
		text strings.Builder
		agg  = map[int64]*pendingCall{}
	)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			out.Usage = model.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}
		}
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				if onDelta != nil {
					onDelta(ch.Delta.Content)
				}
			}
			for _, tc := range ch.Delta.ToolCalls {
				pc, ok := agg[tc.Index]
				if !ok {
					pc = &pendingCall{}
					agg[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args += tc.Function.Arguments
			}
			if ch.FinishReason != "" {
				out.FinishReason = string(ch.FinishReason)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return model.ChatOut{}, fmt.Errorf("openai streaming: %w", err)
	}

	out.Text = text.String()
	indexes := make([]int64, 0, len(agg))
	for i := range agg {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
	for _, i := range indexes {
		pc := agg[i]
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: pc.id, Name: pc.name, Input: parseArguments(pc.args)})
	}
	return out, nil
}

func (m *ChatModel) buildParams(messages []model.Message, tools []model.ToolSpec) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    m.modelName,
		Messages: convertMessages(messages),
	}
	if m.settings.Temperature != nil {
		params.Temperature = openai.Float(*m.settings.Temperature)
	}
	if m.settings.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(m.settings.MaxTokens))
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: encodeArguments(tc.Input),
					},
				}
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case model.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertTools(tools []model.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		schema := t.Schema
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schema,
			},
		}
	}
	return out
}

func encodeArguments(input map[string]interface{}) string {
	if input == nil {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// parseArguments decodes a JSON arguments string. Malformed arguments are
// kept under the "_raw" key so the tool can report them.
func parseArguments(args string) map[string]interface{} {
	if strings.TrimSpace(args) == "" {
		return map[string]interface{}{}
	}
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		return map[string]interface{}{"_raw": args}
	}
	return input
}
