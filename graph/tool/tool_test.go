package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dshills/hivegraph/graph/model"
)

func TestNewRegistry(t *testing.T) {
	a := &MockTool{ToolName: "a"}
	b := &MockTool{ToolName: "b"}

	tests := []struct {
		name    string
		tools   []Tool
		wantErr string
	}{
		{name: "valid", tools: []Tool{b, a}},
		{name: "empty", tools: nil},
		{name: "duplicate", tools: []Tool{a, &MockTool{ToolName: "a"}}, wantErr: "duplicate tool"},
		{name: "unnamed", tools: []Tool{&MockTool{}}, wantErr: "must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.tools...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if r.Len() != len(tt.tools) {
				t.Errorf("Len() = %d", r.Len())
			}
		})
	}
}

func TestRegistry_SpecsAndNames(t *testing.T) {
	r, err := NewRegistry(&MockTool{ToolName: "zeta", Description: "last"}, &MockTool{ToolName: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	specs := r.Specs()
	if len(specs) != 2 || specs[0].Name != "zeta" || specs[0].Description != "last" {
		t.Errorf("specs must keep registration order: %+v", specs)
	}
	if got := strings.Join(r.Names(), ","); got != "alpha,zeta" {
		t.Errorf("Names() = %s", got)
	}

	var nilReg *Registry
	if nilReg.Len() != 0 || nilReg.Specs() != nil {
		t.Error("nil registry must be empty")
	}
}

func TestRegistry_Invoke(t *testing.T) {
	weather := &MockTool{ToolName: "weather", Responses: []map[string]interface{}{{"forecast": "sunny"}}}
	broken := &MockTool{ToolName: "broken", Err: errors.New("backend down")}
	r, err := NewRegistry(weather, broken)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	out, err := r.Invoke(ctx, model.ToolCall{Name: "weather", Input: map[string]interface{}{"city": "Oslo"}})
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"forecast":"sunny"}` {
		t.Errorf("output = %s", out)
	}
	if weather.Calls[0]["city"] != "Oslo" {
		t.Errorf("input not forwarded: %+v", weather.Calls)
	}

	if _, err := r.Invoke(ctx, model.ToolCall{Name: "missing"}); err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("expected unknown tool error, got %v", err)
	}

	_, err = r.Invoke(ctx, model.ToolCall{Name: "broken"})
	if err == nil || FormatError(err) != "error: tool broken: backend down" {
		t.Errorf("unexpected failure formatting: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := r.Invoke(cancelled, model.ToolCall{Name: "weather"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFuncTool(t *testing.T) {
	ft := NewFuncTool("add", "Adds numbers", map[string]interface{}{"type": "object"},
		func(_ context.Context, in map[string]interface{}) (map[string]interface{}, error) {
			a, _ := in["a"].(float64)
			b, _ := in["b"].(float64)
			return map[string]interface{}{"sum": a + b}, nil
		})

	if spec := ft.Spec(); spec.Name != "add" || spec.Description != "Adds numbers" {
		t.Errorf("unexpected spec %+v", spec)
	}
	out, err := ft.Call(context.Background(), map[string]interface{}{"a": 2.0, "b": 3.0})
	if err != nil || out["sum"] != 5.0 {
		t.Errorf("Call() = %v, %v", out, err)
	}
}

func TestMockTool(t *testing.T) {
	m := &MockTool{ToolName: "seq", Responses: []map[string]interface{}{{"n": 1}, {"n": 2}}}
	ctx := context.Background()

	for _, want := range []int{1, 2, 2} {
		out, err := m.Call(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if out["n"] != want {
			t.Errorf("got %v, want %d", out["n"], want)
		}
	}
	if m.CallCount() != 3 {
		t.Errorf("CallCount() = %d", m.CallCount())
	}
	m.Reset()
	if out, _ := m.Call(ctx, nil); m.CallCount() != 1 || out["n"] != 1 {
		t.Errorf("Reset did not rewind: %v", out)
	}

	empty := &MockTool{ToolName: "empty"}
	if out, err := empty.Call(ctx, nil); err != nil || len(out) != 0 {
		t.Errorf("empty mock returned %v, %v", out, err)
	}
}

func TestHTTPTool_Requests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"method": r.Method,
			"auth":   r.Header.Get("Authorization"),
			"body":   string(body),
		})
	}))
	defer srv.Close()

	h := NewHTTPTool()
	if h.Spec().Name != "http_request" {
		t.Errorf("Spec().Name = %q", h.Spec().Name)
	}

	tests := []struct {
		name  string
		input map[string]interface{}
		want  map[string]string
	}{
		{
			name:  "default GET",
			input: map[string]interface{}{"url": srv.URL},
			want:  map[string]string{"method": "GET", "auth": "", "body": ""},
		},
		{
			name: "POST with headers",
			input: map[string]interface{}{
				"url":     srv.URL,
				"method":  "post",
				"headers": map[string]interface{}{"Authorization": "Bearer t"},
				"body":    `{"q":1}`,
			},
			want: map[string]string{"method": "POST", "auth": "Bearer t", "body": `{"q":1}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := h.Call(context.Background(), tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if out["status_code"] != http.StatusOK {
				t.Errorf("status_code = %v", out["status_code"])
			}
			var echoed map[string]string
			if err := json.Unmarshal([]byte(out["body"].(string)), &echoed); err != nil {
				t.Fatal(err)
			}
			for k, v := range tt.want {
				if echoed[k] != v {
					t.Errorf("%s = %q, want %q", k, echoed[k], v)
				}
			}
			headers := out["headers"].(map[string]interface{})
			if multi, ok := headers["X-Multi"].([]string); !ok || len(multi) != 2 {
				t.Errorf("multi-valued header = %v", headers["X-Multi"])
			}
		})
	}
}

func TestHTTPTool_Validation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()
	ctx := context.Background()

	tests := []struct {
		name    string
		tool    *HTTPTool
		input   map[string]interface{}
		wantErr string
	}{
		{name: "missing url", tool: NewHTTPTool(), input: map[string]interface{}{}, wantErr: "url parameter required"},
		{name: "bad scheme", tool: NewHTTPTool(), input: map[string]interface{}{"url": "ftp://example.com"}, wantErr: "invalid url"},
		{name: "bad method", tool: NewHTTPTool(), input: map[string]interface{}{"url": srv.URL, "method": "DELETE"}, wantErr: "unsupported HTTP method"},
		{name: "host not allowed", tool: NewHTTPTool(WithAllowedHosts("api.example.com")), input: map[string]interface{}{"url": srv.URL}, wantErr: "not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tool.Call(ctx, tt.input)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("truncates body", func(t *testing.T) {
		out, err := NewHTTPTool(WithMaxBodyBytes(10)).Call(ctx, map[string]interface{}{"url": srv.URL})
		if err != nil {
			t.Fatal(err)
		}
		if len(out["body"].(string)) != 10 || out["truncated"] != true {
			t.Errorf("body %q truncated %v", out["body"], out["truncated"])
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := NewHTTPTool().Call(cancelled, map[string]interface{}{"url": srv.URL}); err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}
