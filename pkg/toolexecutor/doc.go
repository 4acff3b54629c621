// Package toolexecutor registers and executes the tools an agent may call.
//
// Invariants:
// - Tool names are unique and match ^[a-zA-Z0-9_-]{1,64}$.
// - Arguments are validated against the tool's JSON schema before execution.
// - Execute never returns a Go error: every failure is reported in
//   schema.ToolResult.Error.
// - Every execution runs under a timeout and recovers from handler panics.
//
// Usage:
//
//	reg := toolexecutor.NewRegistry()
//	_ = reg.RegisterDefinition(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters: map[string]any{
//			"type":       "object",
//			"properties": map[string]any{"text": map[string]any{"type": "string"}},
//			"required":   []string{"text"},
//		},
//		Handler: func(ctx context.Context, args map[string]any) (string, error) {
//			return args["text"].(string), nil
//		},
//	})
//	result := reg.Execute(ctx, schema.ToolCallRequest{CallID: "call_1", Name: "echo", Arguments: map[string]any{"text": "hi"}})
package toolexecutor
