package memory

import (
	"fmt"

	"github.com/harun/confer/pkg/schema"
)

// Conversation is the ordered transcript an agent sends to its completion
// provider. It is owned by a single agent turn at a time and is not safe for
// concurrent use.
type Conversation struct {
	messages []schema.Message
}

// NewConversation creates an empty conversation
func NewConversation() *Conversation {
	return &Conversation{}
}

// InitializeSystemPrompt inserts the system prompt at index 0 unless a system
// message is already there. An existing system message is never overwritten.
func (c *Conversation) InitializeSystemPrompt(prompt string) {
	if len(c.messages) > 0 && c.messages[0].Role == schema.RoleSystem {
		return
	}
	c.messages = append([]schema.Message{schema.SystemMessage(prompt)}, c.messages...)
}

// LoadHistory appends prior turns in order, skipping system messages so the
// seeded prompt is not duplicated.
func (c *Conversation) LoadHistory(history []schema.Message) {
	for _, msg := range history {
		if msg.Role == schema.RoleSystem {
			continue
		}
		c.messages = append(c.messages, msg)
	}
}

// Append adds a message to the end of the transcript
func (c *Conversation) Append(msg schema.Message) error {
	if msg.Role == schema.RoleSystem {
		return fmt.Errorf("system messages are only set through InitializeSystemPrompt")
	}
	c.messages = append(c.messages, msg)
	return nil
}

// Messages returns a copy of the transcript as it is at call time
func (c *Conversation) Messages() []schema.Message {
	out := make([]schema.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// WithoutSystem returns the transcript minus the system prompt
func (c *Conversation) WithoutSystem() []schema.Message {
	out := make([]schema.Message, 0, len(c.messages))
	for _, msg := range c.messages {
		if msg.Role != schema.RoleSystem {
			out = append(out, msg)
		}
	}
	return out
}

// Len returns the number of messages
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Clear drops every message, including the system prompt
func (c *Conversation) Clear() {
	c.messages = nil
}
