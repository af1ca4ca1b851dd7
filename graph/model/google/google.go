// Package google provides a ChatModel adapter for Google's Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dshills/hivegraph/graph/model"
)

// DefaultModel is used when NewChatModel receives an empty model name.
const DefaultModel = "gemini-2.5-flash"

// request is one provider-neutral Gemini call: the final turn goes in Send,
// everything before it in History.
type request struct {
	System   string
	History  []*genai.Content
	Send     []genai.Part
	Tools    []*genai.Tool
	Settings model.Settings
}

// generator performs Gemini calls. sdkGenerator is the production
// implementation; tests substitute a fake.
type generator interface {
	generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error)
	stream(ctx context.Context, req request, fn func(*genai.GenerateContentResponse)) error
	close() error
}

// ChatModel implements model.StreamingChatModel for Gemini.
//
// Blocked content surfaces as *SafetyFilterError:
//
//	out, err := m.Chat(ctx, messages, nil)
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("content blocked: %s", safetyErr.Category())
//	}
//
// Call Close when the model is no longer needed.
type ChatModel struct {
	modelName string
	settings  model.Settings
	gen       generator
}

// NewChatModel dials the Gemini API. An empty modelName selects DefaultModel.
func NewChatModel(ctx context.Context, apiKey, modelName string, opts ...model.Option) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	settings := model.ApplyOptions(opts...)

	clientOpts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if settings.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(settings.BaseURL))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &ChatModel{
		modelName: modelName,
		settings:  settings,
		gen:       &sdkGenerator{client: client, modelName: modelName},
	}, nil
}

// Provider implements model.Describer.
func (m *ChatModel) Provider() string { return "google" }

// ModelName implements model.Describer.
func (m *ChatModel) ModelName() string { return m.modelName }

// Close releases the underlying client.
func (m *ChatModel) Close() error {
	return m.gen.close()
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	req, err := m.buildRequest(messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	resp, err := m.gen.generate(ctx, req)
	if err != nil {
		return model.ChatOut{}, wrapError(err)
	}
	return convertResponse(resp)
}

// ChatStream implements model.StreamingChatModel. Text parts are forwarded to
// onDelta as each chunk arrives; function calls and usage are collected from
// the chunks and returned in the final ChatOut.
func (m *ChatModel) ChatStream(ctx context.Context, messages []model.Message, tools []model.ToolSpec, onDelta func(string)) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	req, err := m.buildRequest(messages, tools)
	if err != nil {
		return model.ChatOut{}, err
	}

	var out model.ChatOut
	var text strings.Builder
	var chunkErr error
	err = m.gen.stream(ctx, req, func(resp *genai.GenerateContentResponse) {
		if chunkErr != nil {
			return
		}
		chunk, err := convertResponse(resp)
		if err != nil {
			chunkErr = err
			return
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if onDelta != nil {
				onDelta(chunk.Text)
			}
		}
		out.ToolCalls = append(out.ToolCalls, chunk.ToolCalls...)
		if chunk.FinishReason != "" {
			out.FinishReason = chunk.FinishReason
		}
		// Gemini reports cumulative usage on each chunk.
		if chunk.Usage.Total() > 0 {
			out.Usage = chunk.Usage
		}
	})
	if err != nil {
		return model.ChatOut{}, wrapError(err)
	}
	if chunkErr != nil {
		return model.ChatOut{}, chunkErr
	}

	out.Text = text.String()
	for i := range out.ToolCalls {
		out.ToolCalls[i].ID = fmt.Sprintf("call_%d", i)
	}
	return out, nil
}

func (m *ChatModel) buildRequest(messages []model.Message, tools []model.ToolSpec) (request, error) {
	system, rest := model.SplitSystem(messages)
	contents := convertMessages(rest)
	if len(contents) == 0 {
		return request{}, errors.New("google: at least one non-system message is required")
	}
	last := contents[len(contents)-1]
	return request{
		System:   system,
		History:  contents[:len(contents)-1],
		Send:     last.Parts,
		Tools:    convertTools(tools),
		Settings: m.settings,
	}, nil
}

// sdkGenerator drives the genai client through a ChatSession so earlier
// turns are sent as history.
type sdkGenerator struct {
	client    *genai.Client
	modelName string
}

func (g *sdkGenerator) session(req request) *genai.ChatSession {
	gm := g.client.GenerativeModel(g.modelName)
	if req.System != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if len(req.Tools) > 0 {
		gm.Tools = req.Tools
	}
	if req.Settings.Temperature != nil {
		gm.SetTemperature(float32(*req.Settings.Temperature))
	}
	if req.Settings.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.Settings.MaxTokens))
	}
	cs := gm.StartChat()
	cs.History = req.History
	return cs
}

func (g *sdkGenerator) generate(ctx context.Context, req request) (*genai.GenerateContentResponse, error) {
	return g.session(req).SendMessage(ctx, req.Send...)
}

func (g *sdkGenerator) stream(ctx context.Context, req request, fn func(*genai.GenerateContentResponse)) error {
	iter := g.session(req).SendMessageStream(ctx, req.Send...)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(resp)
	}
}

func (g *sdkGenerator) close() error {
	return g.client.Close()
}

// convertMessages maps roles onto Gemini's "user" and "model". Tool results
// are sent as FunctionResponse parts in a user turn; consecutive results are
// merged into one turn.
func convertMessages(messages []model.Message) []*genai.Content {
	var out []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleAssistant:
			c := &genai.Content{Role: "model"}
			if msg.Content != "" {
				c.Parts = append(c.Parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				c.Parts = append(c.Parts, genai.FunctionCall{Name: tc.Name, Args: tc.Input})
			}
			if len(c.Parts) > 0 {
				out = append(out, c)
			}
		case model.RoleTool:
			part := genai.FunctionResponse{
				Name:     msg.Name,
				Response: map[string]any{"content": msg.Content},
			}
			if n := len(out); n > 0 && out[n-1].Role == "user" && isFunctionResponses(out[n-1]) {
				out[n-1].Parts = append(out[n-1].Parts, part)
				continue
			}
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{part}})
		default:
			if msg.Content == "" {
				continue
			}
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	return out
}

func isFunctionResponses(c *genai.Content) bool {
	for _, p := range c.Parts {
		if _, ok := p.(genai.FunctionResponse); !ok {
			return false
		}
	}
	return true
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// convertSchema translates a JSON Schema map into genai.Schema, recursing
// through properties and array items.
func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{Type: genai.TypeObject}
	if typ, ok := schema["type"].(string); ok {
		out.Type = convertType(typ)
	}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]interface{}); ok {
				out.Properties[name] = convertSchema(sub)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = convertSchema(items)
	}
	out.Required = stringList(schema["required"])
	out.Enum = stringList(schema["enum"])
	return out
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func convertType(typ string) genai.Type {
	switch typ {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

// convertResponse reads the first candidate. Gemini function calls carry no
// ID, so positional IDs are assigned.
func convertResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	var out model.ChatOut
	if resp == nil {
		return out, nil
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return model.ChatOut{}, &SafetyFilterError{reason: fb.BlockReason.String(), category: blockedCategory(fb.SafetyRatings)}
	}
	if len(resp.Candidates) == 0 {
		return out, nil
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return model.ChatOut{}, &SafetyFilterError{reason: cand.FinishReason.String(), category: blockedCategory(cand.SafetyRatings)}
	}
	if cand.FinishReason != genai.FinishReasonUnspecified {
		out.FinishReason = cand.FinishReason.String()
	}
	if cand.Content == nil {
		return out, nil
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:    fmt.Sprintf("call_%d", len(out.ToolCalls)),
				Name:  p.Name,
				Input: p.Args,
			})
		}
	}
	out.Text = text.String()
	return out, nil
}

func blockedCategory(ratings []*genai.SafetyRating) string {
	for _, r := range ratings {
		if r != nil && r.Blocked {
			return r.Category.String()
		}
	}
	return "unspecified"
}

// wrapError converts the SDK's BlockedError into a SafetyFilterError and
// labels everything else as a Google API failure.
func wrapError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		if blocked.PromptFeedback != nil {
			return &SafetyFilterError{reason: blocked.PromptFeedback.BlockReason.String(), category: blockedCategory(blocked.PromptFeedback.SafetyRatings)}
		}
		if blocked.Candidate != nil {
			return &SafetyFilterError{reason: blocked.Candidate.FinishReason.String(), category: blockedCategory(blocked.Candidate.SafetyRatings)}
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("google API error: %w", err)
}

// SafetyFilterError reports content blocked by Gemini's safety filters.
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the harm category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
