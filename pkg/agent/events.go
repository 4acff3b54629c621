package agent

import "errors"

// EventType identifies an agent event
type EventType string

const (
	EventMessage EventType = "message"
	EventError   EventType = "error"
	EventDone    EventType = "done"
)

// Event is emitted to the caller during a turn
type Event struct {
	Type EventType `json:"type"`

	// Text is set on message events
	Text string `json:"text,omitempty"`

	// Error is the internal description, UserMessage the sentence shown to the user
	Error       string `json:"error,omitempty"`
	UserMessage string `json:"user_message,omitempty"`

	// FinishReason is set on done events
	FinishReason string `json:"finish_reason,omitempty"`
}

// User-facing messages produced by the loop itself
const (
	MsgDepthExceeded = "The conversation became too long. Please start a new one."
	MsgUnexpected    = "An unexpected error occurred while processing your request."
	MsgGeneric       = "An error occurred while processing your request."
	MsgTurnBusy      = "Please wait for the current answer to finish."

	toolFailedPrefix = "Tool execution failed: "
	toolNoContent    = "(Tool executed successfully but returned no content)"
)

var (
	// ErrDepthExceeded ends a turn that used up its rounds
	ErrDepthExceeded = errors.New("conversation depth exceeded")

	// ErrTurnInProgress is reported when Chat is called while a turn is running
	ErrTurnInProgress = errors.New("turn already in progress")

	// ErrStreamEnded is reported when a provider stream closes without a terminal event
	ErrStreamEnded = errors.New("provider stream ended without a terminal event")

	// ErrMissingToolCall is reported when a tool_calls finish carries no call
	ErrMissingToolCall = errors.New("tool_calls finish without a tool call")
)

func toolErrorNotice(name string) string {
	return "I encountered an error trying to use the `" + name + "` tool. I'll try to answer without it."
}

func toolEmptyNotice(name string) string {
	return "I used the `" + name + "` tool but didn't find specific details. Let me see what I can suggest based on our conversation..."
}
