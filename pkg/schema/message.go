// Package schema holds the conversation data model shared by memory, tools,
// completion providers and the session layer.
//
// Messages use the chat-completions JSON shape so a persisted transcript can be
// replayed to a provider without conversion.
package schema

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is the transcript form of a tool invocation requested by the model
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the function name and its JSON-encoded arguments
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single role-tagged transcript entry.
//
// Assistant messages carry either Content or ToolCalls; Content is omitted
// when ToolCalls is present. Tool messages reference the assistant tool call
// they answer through ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// SystemMessage creates a system prompt message
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates a plain assistant reply
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// AssistantToolCallMessage creates an assistant message requesting a single
// tool call. Arguments are encoded back to their JSON string form.
func AssistantToolCallMessage(req ToolCallRequest) (Message, error) {
	args, err := req.EncodeArguments()
	if err != nil {
		return Message{}, err
	}

	return Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{{
			ID:   req.CallID,
			Type: "function",
			Function: ToolCallFunction{
				Name:      req.Name,
				Arguments: args,
			},
		}},
	}, nil
}

// ToolMessage creates the transcript entry answering a tool call
func ToolMessage(callID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		Name:       name,
	}
}

// HasToolCalls reports whether the message requests tool invocations
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Validate checks the per-message invariants
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser:
		if m.Content == "" {
			return fmt.Errorf("%s message has empty content", m.Role)
		}
		if m.HasToolCalls() {
			return fmt.Errorf("%s message cannot carry tool calls", m.Role)
		}
	case RoleAssistant:
		if m.HasToolCalls() && m.Content != "" {
			return fmt.Errorf("assistant message carries both content and tool calls")
		}
		if !m.HasToolCalls() && m.Content == "" {
			return fmt.Errorf("assistant message carries neither content nor tool calls")
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == "" || tc.Function.Name == "" {
				return fmt.Errorf("assistant tool call is missing id or name")
			}
		}
	case RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool message is missing tool_call_id")
		}
	default:
		return fmt.Errorf("unknown role: %q", m.Role)
	}
	return nil
}

// ValidateTranscript checks the ordering invariants of a full transcript:
// exactly one system message at index 0 and every tool message answering a
// tool call made by an earlier assistant message.
func ValidateTranscript(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("transcript is empty")
	}
	if messages[0].Role != RoleSystem {
		return fmt.Errorf("transcript must start with a system message, got %q", messages[0].Role)
	}

	pending := map[string]bool{}
	for i, msg := range messages {
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if i > 0 && msg.Role == RoleSystem {
			return fmt.Errorf("message %d: duplicate system message", i)
		}
		for _, tc := range msg.ToolCalls {
			pending[tc.ID] = true
		}
		if msg.Role == RoleTool {
			if !pending[msg.ToolCallID] {
				return fmt.Errorf("message %d: tool result %q has no matching tool call", i, msg.ToolCallID)
			}
			delete(pending, msg.ToolCallID)
		}
	}
	return nil
}

// EncodeMessages serializes each message as its own JSON document, the shape
// used by list-oriented stores.
func EncodeMessages(messages []Message) ([]string, error) {
	out := make([]string, 0, len(messages))
	for i, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message %d: %w", i, err)
		}
		out = append(out, string(data))
	}
	return out, nil
}

// DecodeMessages is the inverse of EncodeMessages
func DecodeMessages(raw []string) ([]Message, error) {
	out := make([]Message, 0, len(raw))
	for i, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message %d: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}
