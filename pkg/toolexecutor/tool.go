package toolexecutor

import (
	"context"
	"time"
)

// Tool is a named, described, schema-typed capability
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the argument object
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// TimeoutTool is implemented by tools that need a tighter timeout than the
// registry default
type TimeoutTool interface {
	Timeout() time.Duration
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// ToolDefinition adapts a plain function into a Tool
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Timeout     time.Duration  `json:"-"`
	Handler     ToolHandler    `json:"-"`
}

func (d ToolDefinition) asTool() Tool {
	return definitionTool{def: d}
}

type definitionTool struct {
	def ToolDefinition
}

func (t definitionTool) Name() string               { return t.def.Name }
func (t definitionTool) Description() string        { return t.def.Description }
func (t definitionTool) Parameters() map[string]any { return t.def.Parameters }
func (t definitionTool) Timeout() time.Duration     { return t.def.Timeout }

func (t definitionTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.def.Handler(ctx, args)
}
