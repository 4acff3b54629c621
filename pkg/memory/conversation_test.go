package memory

import (
	"testing"

	"github.com/harun/confer/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_InitializeSystemPrompt(t *testing.T) {
	t.Run("inserts at index zero", func(t *testing.T) {
		c := NewConversation()
		require.NoError(t, c.Append(schema.UserMessage("hello")))

		c.InitializeSystemPrompt("be helpful")

		msgs := c.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, schema.RoleSystem, msgs[0].Role)
		assert.Equal(t, "be helpful", msgs[0].Content)
	})

	t.Run("idempotent", func(t *testing.T) {
		c := NewConversation()
		c.InitializeSystemPrompt("be helpful")
		c.InitializeSystemPrompt("be helpful")
		assert.Equal(t, 1, c.Len())
	})

	t.Run("does not overwrite", func(t *testing.T) {
		c := NewConversation()
		c.InitializeSystemPrompt("first")
		c.InitializeSystemPrompt("second")
		assert.Equal(t, "first", c.Messages()[0].Content)
	})
}

func TestConversation_LoadHistory(t *testing.T) {
	c := NewConversation()
	c.InitializeSystemPrompt("prompt")

	c.LoadHistory([]schema.Message{
		schema.SystemMessage("stale prompt"),
		schema.UserMessage("q1"),
		schema.AssistantMessage("a1"),
		schema.UserMessage("q2"),
	})

	msgs := c.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "prompt", msgs[0].Content)
	assert.Equal(t, "q1", msgs[1].Content)
	assert.Equal(t, "a1", msgs[2].Content)
	assert.Equal(t, "q2", msgs[3].Content)
	assert.Len(t, c.WithoutSystem(), 3)
}

func TestConversation_Append(t *testing.T) {
	c := NewConversation()

	err := c.Append(schema.SystemMessage("sneaky"))
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())

	require.NoError(t, c.Append(schema.ToolMessage("c1", "t", "ok")))
	assert.Equal(t, 1, c.Len())
}

func TestConversation_MessagesReflectLiveState(t *testing.T) {
	c := NewConversation()
	c.InitializeSystemPrompt("p")
	before := c.Messages()

	require.NoError(t, c.Append(schema.UserMessage("q")))
	after := c.Messages()

	assert.Len(t, before, 1)
	assert.Len(t, after, 2)

	// mutating a snapshot does not leak into the conversation
	after[1].Content = "changed"
	assert.Equal(t, "q", c.Messages()[1].Content)
}

func TestConversation_Clear(t *testing.T) {
	c := NewConversation()
	c.InitializeSystemPrompt("p")
	require.NoError(t, c.Append(schema.UserMessage("q")))

	c.Clear()
	assert.Equal(t, 0, c.Len())

	c.InitializeSystemPrompt("p2")
	assert.Equal(t, 1, c.Len())
}
