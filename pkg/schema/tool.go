package schema

import (
	"encoding/json"
	"fmt"
)

// ToolCallRequest is a completed tool invocation produced by a provider.
// Arguments holds the decoded argument object; RawArguments keeps the raw
// JSON text when the request was built without decoding.
type ToolCallRequest struct {
	CallID       string         `json:"call_id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	RawArguments string         `json:"raw_arguments,omitempty"`
}

// EncodeArguments returns the JSON text of the call arguments
func (r ToolCallRequest) EncodeArguments() (string, error) {
	if r.Arguments == nil {
		if r.RawArguments != "" {
			return r.RawArguments, nil
		}
		return "{}", nil
	}

	data, err := json.Marshal(r.Arguments)
	if err != nil {
		return "", fmt.Errorf("failed to serialize arguments for tool %s: %w", r.Name, err)
	}
	return string(data), nil
}

// ToolResult is the outcome of a tool execution. Only one of Content or
// Error is written back to the transcript.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Failed reports whether the execution produced an error
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// ToolDescriptor is the static description of a tool advertised to providers
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
