package toolexecutor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/confer/pkg/schema"
)

func queryParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "search query"},
		},
		"required": []string{"query"},
	}
}

func setupRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	reg := NewRegistry(opts...)
	require.NoError(t, reg.RegisterDefinition(ToolDefinition{
		Name:        "echo",
		Description: "Echo the query",
		Parameters:  queryParams(),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return args["query"].(string), nil
		},
	}))
	return reg
}

type slowTool struct{}

func (slowTool) Name() string               { return "slow" }
func (slowTool) Description() string        { return "Never finishes in time" }
func (slowTool) Parameters() map[string]any { return nil }
func (slowTool) Timeout() time.Duration     { return 20 * time.Millisecond }

func (slowTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	<-ctx.Done()
	time.Sleep(10 * time.Millisecond)
	return "late", nil
}

func TestRegister(t *testing.T) {
	t.Run("should reject duplicates", func(t *testing.T) {
		reg := setupRegistry(t)
		err := reg.RegisterDefinition(ToolDefinition{
			Name:        "echo",
			Description: "again",
			Handler:     func(context.Context, map[string]any) (string, error) { return "", nil },
		})
		assert.ErrorIs(t, err, ErrDuplicateTool)
	})

	t.Run("should reject invalid definitions", func(t *testing.T) {
		reg := NewRegistry()
		handler := func(context.Context, map[string]any) (string, error) { return "", nil }

		assert.Error(t, reg.RegisterDefinition(ToolDefinition{Name: "", Description: "d", Handler: handler}))
		assert.Error(t, reg.RegisterDefinition(ToolDefinition{Name: "has space", Description: "d", Handler: handler}))
		assert.Error(t, reg.RegisterDefinition(ToolDefinition{Name: "x", Description: "", Handler: handler}))
		assert.Error(t, reg.RegisterDefinition(ToolDefinition{Name: "x", Description: "d"}))
		assert.Error(t, reg.RegisterDefinition(ToolDefinition{Name: "x", Description: "d", Handler: handler,
			Parameters: map[string]any{"type": "array"}}))
	})
}

func TestResolveAndDescriptors(t *testing.T) {
	reg := setupRegistry(t)
	require.NoError(t, reg.Register(slowTool{}))

	tool, err := reg.Resolve("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", tool.Name())

	_, err = reg.Resolve("missing")
	assert.ErrorIs(t, err, ErrToolNotFound)

	assert.Equal(t, []string{"echo", "slow"}, reg.Names())

	descs := reg.Descriptors()
	require.Len(t, descs, 2)
	assert.Equal(t, "echo", descs[0].Name)
	assert.Equal(t, "Echo the query", descs[0].Description)
	assert.Equal(t, "object", descs[0].Parameters["type"])
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("should return content on success", func(t *testing.T) {
		res := setupRegistry(t).Execute(ctx, schema.ToolCallRequest{CallID: "c1", Name: "echo", Arguments: map[string]any{"query": "hello"}})
		assert.False(t, res.Failed())
		assert.Equal(t, "hello", res.Content)
		assert.Equal(t, "c1", res.CallID)
		assert.Equal(t, "echo", res.Name)
	})

	t.Run("should decode raw arguments", func(t *testing.T) {
		res := setupRegistry(t).Execute(ctx, schema.ToolCallRequest{CallID: "c1", Name: "echo", RawArguments: `{"query":"raw"}`})
		assert.Equal(t, "raw", res.Content)
	})

	t.Run("should report unknown tools", func(t *testing.T) {
		res := setupRegistry(t).Execute(ctx, schema.ToolCallRequest{CallID: "c1", Name: "nope"})
		assert.Equal(t, "Tool 'nope' not found.", res.Error)
	})

	t.Run("should report malformed raw arguments", func(t *testing.T) {
		res := setupRegistry(t).Execute(ctx, schema.ToolCallRequest{CallID: "c1", Name: "echo", RawArguments: `{"query":`})
		assert.True(t, res.Failed())
		assert.Contains(t, res.Error, "invalid arguments")
	})

	t.Run("should report schema violations", func(t *testing.T) {
		res := setupRegistry(t).Execute(ctx, schema.ToolCallRequest{CallID: "c1", Name: "echo", Arguments: map[string]any{}})
		assert.True(t, res.Failed())
		assert.Contains(t, res.Error, "query")
	})

	t.Run("should report handler errors", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.RegisterDefinition(ToolDefinition{
			Name:        "broken",
			Description: "Always fails",
			Handler: func(context.Context, map[string]any) (string, error) {
				return "", errors.New("upstream unavailable\nstack line")
			},
		}))
		res := reg.Execute(ctx, schema.ToolCallRequest{CallID: "c1", Name: "broken"})
		assert.Equal(t, "upstream unavailable\nstack line", res.Error)
	})

	t.Run("should not report blank handler errors as success", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.RegisterDefinition(ToolDefinition{
			Name:        "silent_failure",
			Description: "Fails without a message",
			Handler: func(context.Context, map[string]any) (string, error) {
				return "partial", errors.New("")
			},
		}))
		res := reg.Execute(ctx, schema.ToolCallRequest{CallID: "c1", Name: "silent_failure"})
		assert.True(t, res.Failed())
		assert.Equal(t, "tool silent_failure failed", res.Error)
		assert.Empty(t, res.Content)
	})

	t.Run("should recover panics", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.RegisterDefinition(ToolDefinition{
			Name:        "panics",
			Description: "Panics",
			Handler: func(context.Context, map[string]any) (string, error) {
				panic("boom")
			},
		}))
		res := reg.Execute(ctx, schema.ToolCallRequest{CallID: "c1", Name: "panics"})
		assert.Contains(t, res.Error, "panicked: boom")
	})

	t.Run("should enforce tool timeout", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(slowTool{}))
		res := reg.Execute(ctx, schema.ToolCallRequest{CallID: "c1", Name: "slow"})
		assert.Contains(t, res.Error, "timed out")
	})

	t.Run("should allow empty success", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.RegisterDefinition(ToolDefinition{
			Name:        "quiet",
			Description: "Returns nothing",
			Handler:     func(context.Context, map[string]any) (string, error) { return "", nil },
		}))
		res := reg.Execute(ctx, schema.ToolCallRequest{CallID: "c1", Name: "quiet"})
		assert.False(t, res.Failed())
		assert.Empty(t, res.Content)
	})
}

func TestPolicy(t *testing.T) {
	t.Run("nil policy allows all", func(t *testing.T) {
		var p *ToolPolicy
		assert.True(t, p.IsToolAllowed("anything"))
	})

	t.Run("deny overrides allow", func(t *testing.T) {
		p := &ToolPolicy{Allow: []string{"*"}, Deny: []string{"search_web"}}
		assert.False(t, p.IsToolAllowed("search_web"))
		assert.True(t, p.IsToolAllowed("search_documents"))
	})

	t.Run("allow list restricts", func(t *testing.T) {
		p := &ToolPolicy{Allow: []string{"search_documents"}}
		assert.False(t, p.IsToolAllowed("search_web"))
	})

	t.Run("registry hides denied tools", func(t *testing.T) {
		reg := setupRegistry(t, WithPolicy(&ToolPolicy{Deny: []string{"echo"}}))
		assert.Empty(t, reg.Descriptors())
		res := reg.Execute(context.Background(), schema.ToolCallRequest{CallID: "c1", Name: "echo", Arguments: map[string]any{"query": "x"}})
		assert.Equal(t, "Tool 'echo' not found.", res.Error)
	})
}
