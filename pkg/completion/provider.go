package completion

import (
	"context"

	"github.com/harun/confer/pkg/schema"
)

// Normalized finish reasons
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// EventKind identifies the kind of a provider event
type EventKind string

const (
	EventContent EventKind = "content"
	EventFinish  EventKind = "finish"
	EventError   EventKind = "error"
)

// Event is one item of a provider stream
type Event struct {
	Kind EventKind

	// Text is set on content events.
	Text string

	// FinishReason is set on finish events.
	FinishReason string

	// ToolCall is set on finish events with FinishReason == FinishToolCalls.
	ToolCall *schema.ToolCallRequest

	// Err and UserMessage are set on error events.
	Err         error
	UserMessage string
}

// Provider streams one completion for a conversation snapshot.
// Implementations must close the returned channel when done and must report
// failures as a single error Event.
type Provider interface {
	Name() string
	Stream(ctx context.Context, messages []schema.Message, tools []schema.ToolDescriptor) <-chan Event
}

// Request is what a backend needs to open a stream
type Request struct {
	Messages []schema.Message
	Tools    []schema.ToolDescriptor
}

// ToolCallDelta is a fragment of a streamed tool call
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk is one raw item read from a backend stream
type Chunk struct {
	Content      string
	ToolCall     *ToolCallDelta
	FinishReason string
}

// ChunkStream iterates over the chunks of an open backend stream
type ChunkStream interface {
	Next() bool
	Current() Chunk
	Err() error
	Close() error
}

// Backend opens streaming completions against a concrete vendor API
type Backend interface {
	Name() string
	Open(ctx context.Context, req Request) (ChunkStream, error)
}
