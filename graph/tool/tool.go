// Package tool defines executable tools that agents expose to a chat model.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dshills/hivegraph/graph/model"
)

// Tool is an action a model can request through a tool call.
//
// Spec describes the tool to the model; its Name must be unique within a
// Registry. Call receives the decoded arguments of the tool call (nil for
// parameterless tools) and must respect ctx cancellation.
type Tool interface {
	Spec() model.ToolSpec
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Registry is an immutable, name-indexed set of tools.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry returns a registry of tools, rejecting empty or duplicate
// names. Specs are reported in registration order.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Spec().Name
		if name == "" {
			return nil, fmt.Errorf("tool name must not be empty")
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Specs returns the specs to advertise to a model.
func (r *Registry) Specs() []model.ToolSpec {
	if r == nil {
		return nil
	}
	specs := make([]model.ToolSpec, len(r.order))
	for i, name := range r.order {
		specs[i] = r.tools[name].Spec()
	}
	return specs
}

// Invoke runs the tool named by call and returns its output encoded as JSON.
// Unknown tools and tool failures are returned as errors; FormatError turns
// them into content a model can read.
func (r *Registry) Invoke(ctx context.Context, call model.ToolCall) (string, error) {
	t, ok := r.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out, err := t.Call(ctx, call.Input)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", call.Name, err)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("tool %s: failed to encode output: %w", call.Name, err)
	}
	return string(data), nil
}

// FormatError renders a tool failure as tool-result content. Adapters that
// support an explicit error flag recognise the "error: " prefix.
func FormatError(err error) string {
	return "error: " + err.Error()
}
