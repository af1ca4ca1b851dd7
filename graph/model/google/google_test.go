package google

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/dshills/hivegraph/graph/model"
)

type fakeGenerator struct {
	responses []*genai.GenerateContentResponse
	err       error
	requests  []request
	closed    bool
}

func (f *fakeGenerator) generate(_ context.Context, req request) (*genai.GenerateContentResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.responses[0], nil
}

func (f *fakeGenerator) stream(_ context.Context, req request, fn func(*genai.GenerateContentResponse)) error {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return f.err
	}
	for _, r := range f.responses {
		fn(r)
	}
	return nil
}

func (f *fakeGenerator) close() error {
	f.closed = true
	return nil
}

func textResponse(text string, in, out int32) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(text)}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: in, CandidatesTokenCount: out},
	}
}

func newFakeModel(gen *fakeGenerator, opts ...model.Option) *ChatModel {
	return &ChatModel{modelName: "gemini-test", settings: model.ApplyOptions(opts...), gen: gen}
}

func TestChatModel_Chat(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{textResponse("Paris", 9, 1)}}
	m := newFakeModel(gen, model.WithTemperature(0.2))

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "Be brief."},
		{Role: model.RoleUser, Content: "Capital of France?"},
		{Role: model.RoleAssistant, Content: "Which France?"},
		{Role: model.RoleUser, Content: "The country."},
	}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out.Text != "Paris" || out.Usage.InputTokens != 9 || out.Usage.OutputTokens != 1 {
		t.Errorf("unexpected output %+v", out)
	}

	req := gen.requests[0]
	if req.System != "Be brief." {
		t.Errorf("system = %q", req.System)
	}
	if len(req.History) != 2 || req.History[1].Role != "model" {
		t.Errorf("unexpected history %+v", req.History)
	}
	if len(req.Send) != 1 || req.Send[0] != genai.Text("The country.") {
		t.Errorf("unexpected final turn %+v", req.Send)
	}
	if req.Settings.Temperature == nil || *req.Settings.Temperature != 0.2 {
		t.Errorf("settings not forwarded: %+v", req.Settings)
	}
}

func TestChatModel_FunctionCalls(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{
				genai.FunctionCall{Name: "search", Args: map[string]any{"q": "go"}},
				genai.FunctionCall{Name: "search", Args: map[string]any{"q": "rust"}},
			}},
		}},
	}}}
	m := newFakeModel(gen)

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleUser, Content: "compare"},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "call_0", Name: "lookup", Input: map[string]interface{}{"k": "v"}}}},
		{Role: model.RoleTool, Name: "lookup", ToolCallID: "call_0", Content: "found"},
	}, []model.ToolSpec{{Name: "search", Schema: map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"q": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"q"},
	}}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(out.ToolCalls) != 2 || out.ToolCalls[1].ID != "call_1" || out.ToolCalls[1].Input["q"] != "rust" {
		t.Errorf("unexpected tool calls %+v", out.ToolCalls)
	}

	req := gen.requests[0]
	resp, ok := req.Send[0].(genai.FunctionResponse)
	if !ok || resp.Name != "lookup" || resp.Response["content"] != "found" {
		t.Errorf("tool result not sent as function response: %+v", req.Send)
	}
	decl := req.Tools[0].FunctionDeclarations[0]
	if decl.Parameters.Properties["q"].Type != genai.TypeString || decl.Parameters.Required[0] != "q" {
		t.Errorf("schema not converted: %+v", decl.Parameters)
	}
}

func TestChatModel_ChatStream(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{
		{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text("Crisp ")}}}}},
		textResponse("air", 4, 2),
	}}
	m := newFakeModel(gen)

	var deltas []string
	out, err := m.ChatStream(context.Background(), []model.Message{{Role: model.RoleUser, Content: "autumn"}}, nil,
		func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	if strings.Join(deltas, "|") != "Crisp |air" || out.Text != "Crisp air" {
		t.Errorf("deltas %q text %q", deltas, out.Text)
	}
	if out.Usage.Total() != 6 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestChatModel_SafetyFilter(t *testing.T) {
	gen := &fakeGenerator{responses: []*genai.GenerateContentResponse{{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonSafety,
			SafetyRatings: []*genai.SafetyRating{
				{Category: genai.HarmCategoryHarassment},
				{Category: genai.HarmCategoryDangerousContent, Blocked: true},
			},
		}},
	}}}
	m := newFakeModel(gen)

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
	var safetyErr *SafetyFilterError
	if !errors.As(err, &safetyErr) {
		t.Fatalf("expected SafetyFilterError, got %v", err)
	}
	if safetyErr.Category() != genai.HarmCategoryDangerousContent.String() {
		t.Errorf("category = %q", safetyErr.Category())
	}
	if model.IsTransient(err) {
		t.Error("safety blocks must not be retried")
	}
}

func TestChatModel_Errors(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("googleapi: Error 503: unavailable")}
	m := newFakeModel(gen)

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil)
	if err == nil || !model.IsTransient(err) {
		t.Errorf("expected transient wrapped error, got %v", err)
	}

	if _, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleSystem, Content: "only system"}}, nil); err == nil {
		t.Error("expected error without a user turn")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "x"}}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if err := m.Close(); err != nil || !gen.closed {
		t.Errorf("Close err %v closed %v", err, gen.closed)
	}
}

func TestNewChatModel_RequiresKey(t *testing.T) {
	if _, err := NewChatModel(context.Background(), "", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestConvertSchema_Nested(t *testing.T) {
	s := convertSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tags": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string", "enum": []string{"a", "b"}},
			},
		},
	})
	tags := s.Properties["tags"]
	if tags.Type != genai.TypeArray || tags.Items.Type != genai.TypeString || len(tags.Items.Enum) != 2 {
		t.Errorf("unexpected nested schema %+v", tags)
	}
}
