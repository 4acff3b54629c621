package completion

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/confer/pkg/schema"
)

func TestAnthropicMessages(t *testing.T) {
	call, err := schema.AssistantToolCallMessage(schema.ToolCallRequest{CallID: "toolu_1", Name: "search_documents", Arguments: map[string]any{"query": "etf"}})
	require.NoError(t, err)

	system, msgs := anthropicMessages([]schema.Message{
		schema.SystemMessage("You are an advisor."),
		schema.UserMessage("first"),
		schema.UserMessage("second"),
		call,
		schema.ToolMessage("toolu_1", "search_documents", "docs"),
		schema.AssistantMessage("answer"),
	})

	assert.Equal(t, "You are an advisor.", system)
	require.Len(t, msgs, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Len(t, msgs[0].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Content[0].OfToolUse)
	assert.Equal(t, "toolu_1", msgs[1].Content[0].OfToolUse.ID)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "toolu_1", msgs[2].Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[3].Role)
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"query"}, requiredFields([]any{"query", 3}))
	assert.Equal(t, []string{"a"}, requiredFields([]string{"a"}))
	assert.Nil(t, requiredFields(nil))
}

func TestNewBackend(t *testing.T) {
	t.Run("should require api key", func(t *testing.T) {
		_, err := NewBackend("openai", BackendOptions{})
		assert.Error(t, err)
	})

	t.Run("should select by name", func(t *testing.T) {
		b, err := NewBackend("OpenAI", BackendOptions{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "openai", b.Name())

		b, err = NewBackend("anthropic", BackendOptions{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", b.Name())
		assert.Equal(t, DefaultAnthropicModel, b.(*AnthropicBackend).opts.Model)
	})

	t.Run("should reject unknown provider", func(t *testing.T) {
		_, err := NewBackend("gemini", BackendOptions{APIKey: "k"})
		assert.ErrorContains(t, err, "unsupported provider")
	})
}
