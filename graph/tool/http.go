package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dshills/hivegraph/graph/model"
)

const defaultMaxBodyBytes = 1 << 20

// HTTPTool lets a model issue GET and POST requests.
//
// Input:
//   - url: target URL (required)
//   - method: "GET" or "POST" (default "GET")
//   - headers: optional string map
//   - body: optional request body
//
// Output carries status_code, headers and body. Response bodies are cut at
// the configured limit and flagged with "truncated".
type HTTPTool struct {
	client       *http.Client
	allowedHosts map[string]bool
	maxBodyBytes int64
}

// HTTPOption configures an HTTPTool.
type HTTPOption func(*HTTPTool)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPTool) { h.client = c }
}

// WithAllowedHosts restricts requests to the listed hosts (host or
// host:port as it appears in the URL). No hosts means no restriction.
func WithAllowedHosts(hosts ...string) HTTPOption {
	return func(h *HTTPTool) {
		h.allowedHosts = make(map[string]bool, len(hosts))
		for _, host := range hosts {
			h.allowedHosts[strings.ToLower(host)] = true
		}
	}
}

// WithMaxBodyBytes caps how much of the response body is returned.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(h *HTTPTool) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHTTPTool returns an HTTPTool. Timeouts come from the call's context.
func NewHTTPTool(opts ...HTTPOption) *HTTPTool {
	h := &HTTPTool{client: &http.Client{}, maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Spec implements Tool.
func (h *HTTPTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        "http_request",
		Description: "Perform an HTTP GET or POST request and return the status, headers and body.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url":     map[string]interface{}{"type": "string", "description": "Absolute http or https URL"},
				"method":  map[string]interface{}{"type": "string", "enum": []string{"GET", "POST"}},
				"headers": map[string]interface{}{"type": "object"},
				"body":    map[string]interface{}{"type": "string"},
			},
			"required": []string{"url"},
		},
	}
}

// Call implements Tool.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	rawURL, ok := input["url"].(string)
	if !ok || rawURL == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	if len(h.allowedHosts) > 0 && !h.allowedHosts[strings.ToLower(u.Host)] {
		return nil, fmt.Errorf("host %s is not allowed", u.Host)
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	var body io.Reader
	if s, ok := input["body"].(string); ok && s != "" {
		body = strings.NewReader(s)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	truncated := int64(len(data)) > h.maxBodyBytes
	if truncated {
		data = data[:h.maxBodyBytes]
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for k, vals := range resp.Header {
		if len(vals) == 1 {
			respHeaders[k] = vals[0]
		} else {
			respHeaders[k] = vals
		}
	}
	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(data),
		"truncated":   truncated,
	}, nil
}
