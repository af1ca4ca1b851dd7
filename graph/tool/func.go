package tool

import (
	"context"

	"github.com/dshills/hivegraph/graph/model"
)

// Func adapts a plain function to the Tool interface.
type Func func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

// FuncTool is a Tool backed by a Func.
//
//	weather := tool.NewFuncTool("get_weather", "Current weather for a city",
//	    map[string]interface{}{
//	        "type":       "object",
//	        "properties": map[string]interface{}{"city": map[string]interface{}{"type": "string"}},
//	        "required":   []string{"city"},
//	    },
//	    func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
//	        return map[string]interface{}{"forecast": "sunny"}, nil
//	    })
type FuncTool struct {
	spec model.ToolSpec
	fn   Func
}

// NewFuncTool returns a tool with the given spec fields and implementation.
func NewFuncTool(name, description string, schema map[string]interface{}, fn Func) *FuncTool {
	return &FuncTool{
		spec: model.ToolSpec{Name: name, Description: description, Schema: schema},
		fn:   fn,
	}
}

// Spec implements Tool.
func (f *FuncTool) Spec() model.ToolSpec { return f.spec }

// Call implements Tool.
func (f *FuncTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f.fn(ctx, input)
}
