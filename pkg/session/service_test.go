package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/confer/pkg/agent"
	"github.com/harun/confer/pkg/completion"
	"github.com/harun/confer/pkg/prompts"
	"github.com/harun/confer/pkg/schema"
	"github.com/harun/confer/pkg/toolexecutor"
)

const testPrompt = "You are a test assistant."

// roundsProvider replays one scripted round per Stream call
type roundsProvider struct {
	mu     sync.Mutex
	rounds [][]completion.Event
	calls  int
	seen   [][]schema.Message
}

func (p *roundsProvider) Name() string { return "scripted" }

func (p *roundsProvider) Stream(_ context.Context, messages []schema.Message, _ []schema.ToolDescriptor) <-chan completion.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var events []completion.Event
	if p.calls < len(p.rounds) {
		events = p.rounds[p.calls]
	}
	p.calls++
	p.seen = append(p.seen, messages)

	ch := make(chan completion.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func (p *roundsProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func reply(parts ...string) []completion.Event {
	events := make([]completion.Event, 0, len(parts)+1)
	for _, part := range parts {
		events = append(events, completion.Event{Kind: completion.EventContent, Text: part})
	}
	return append(events, completion.Event{Kind: completion.EventFinish, FinishReason: completion.FinishStop})
}

// recordingTransport collects frames
type recordingTransport struct {
	mu      sync.Mutex
	frames  []string
	failOn  string
	sendErr error
	closed  int
}

func (t *recordingTransport) SendText(_ context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failOn != "" && text == t.failOn {
		return t.sendErr
	}
	t.frames = append(t.frames, text)
	return nil
}

func (t *recordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

func (t *recordingTransport) Frames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.frames...)
}

type denyLimiter struct{ asked []string }

func (l *denyLimiter) Allow(clientID string) bool {
	l.asked = append(l.asked, clientID)
	return false
}

type brokenStore struct {
	*MemoryStore
}

func (s *brokenStore) LoadHistory(context.Context, string) ([]schema.Message, error) {
	return nil, errors.New("decode failure")
}

func setupService(t *testing.T, provider completion.Provider, store Store, opts ...func(*ServiceOptions)) (*Service, *recordingTransport) {
	t.Helper()

	a, err := agent.New(agent.Options{
		Provider: provider,
		Prompt:   prompts.Static(testPrompt),
	})
	require.NoError(t, err)

	so := ServiceOptions{SessionID: "session-1", ClientID: "127.0.0.1", Agent: a, Store: store}
	for _, opt := range opts {
		opt(&so)
	}

	svc, err := NewService(so)
	require.NoError(t, err)

	transport := &recordingTransport{}
	require.NoError(t, svc.Open(context.Background(), transport))
	return svc, transport
}

func TestService(t *testing.T) {
	ctx := context.Background()

	t.Run("should stream a reply, end the turn and persist the transcript", func(t *testing.T) {
		store := NewMemoryStore()
		provider := &roundsProvider{rounds: [][]completion.Event{reply("h", "i")}}
		svc, transport := setupService(t, provider, store)

		require.NoError(t, svc.Handle(ctx, "hello"))

		assert.Equal(t, []string{"h", "i", EndOfTurn}, transport.Frames())

		stored, err := store.LoadHistory(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, []schema.Message{
			schema.SystemMessage(testPrompt),
			schema.UserMessage("hello"),
			schema.AssistantMessage("hi"),
		}, stored)
		require.NoError(t, schema.ValidateTranscript(stored))
	})

	t.Run("should reject a blank question without calling the provider", func(t *testing.T) {
		store := NewMemoryStore()
		provider := &roundsProvider{}
		svc, transport := setupService(t, provider, store)

		require.NoError(t, svc.Handle(ctx, "   \n\t"))

		assert.Equal(t, []string{"Error: Please provide a valid question.", EndOfTurn}, transport.Frames())
		assert.Zero(t, provider.callCount())

		stored, err := store.LoadHistory(ctx, "session-1")
		require.NoError(t, err)
		assert.Empty(t, stored)
	})

	t.Run("should reject a rate limited question", func(t *testing.T) {
		provider := &roundsProvider{}
		limiter := &denyLimiter{}
		svc, transport := setupService(t, provider, NewMemoryStore(), func(o *ServiceOptions) {
			o.Limiter = limiter
		})

		require.NoError(t, svc.Handle(ctx, "hello"))

		assert.Equal(t, []string{"Error: Rate limit exceeded. Please try again later.", EndOfTurn}, transport.Frames())
		assert.Equal(t, []string{"127.0.0.1"}, limiter.asked)
		assert.Zero(t, provider.callCount())
	})

	t.Run("should surface provider errors and still persist the user message", func(t *testing.T) {
		store := NewMemoryStore()
		provider := &roundsProvider{rounds: [][]completion.Event{{
			{Kind: completion.EventContent, Text: "partial"},
			{Kind: completion.EventError, Err: errors.New("429"), UserMessage: completion.MsgRateLimit},
		}}}
		svc, transport := setupService(t, provider, store)

		require.NoError(t, svc.Handle(ctx, "hello"))

		assert.Equal(t, []string{"partial", ErrorPrefix + completion.MsgRateLimit, EndOfTurn}, transport.Frames())

		stored, err := store.LoadHistory(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, []schema.Message{
			schema.SystemMessage(testPrompt),
			schema.UserMessage("hello"),
		}, stored)
		require.NoError(t, schema.ValidateTranscript(stored))
	})

	t.Run("should carry history across turns with the system prompt once", func(t *testing.T) {
		store := NewMemoryStore()
		provider := &roundsProvider{rounds: [][]completion.Event{reply("first"), reply("second")}}
		svc, _ := setupService(t, provider, store)

		require.NoError(t, svc.Handle(ctx, "one"))
		require.NoError(t, svc.Handle(ctx, "two"))

		stored, err := store.LoadHistory(ctx, "session-1")
		require.NoError(t, err)
		assert.Equal(t, []schema.Message{
			schema.SystemMessage(testPrompt),
			schema.UserMessage("one"),
			schema.AssistantMessage("first"),
			schema.UserMessage("two"),
			schema.AssistantMessage("second"),
		}, stored)
		assert.Equal(t, stored, svc.History())
		require.NoError(t, schema.ValidateTranscript(stored))

		require.Len(t, provider.seen, 2)
		assert.Len(t, provider.seen[1], 4)
	})

	t.Run("should persist a tool round as a valid transcript", func(t *testing.T) {
		store := NewMemoryStore()
		provider := &roundsProvider{rounds: [][]completion.Event{
			{{
				Kind:         completion.EventFinish,
				FinishReason: completion.FinishToolCalls,
				ToolCall: &schema.ToolCallRequest{
					CallID:    "call_1",
					Name:      "search_documents",
					Arguments: map[string]any{"query": "dividends"},
				},
			}},
			reply("done"),
		}}

		tools := toolexecutor.NewRegistry()
		require.NoError(t, tools.RegisterDefinition(toolexecutor.ToolDefinition{
			Name:        "search_documents",
			Description: "Search documents",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
			Handler: func(context.Context, map[string]any) (string, error) {
				return "three filings found", nil
			},
		}))
		a, err := agent.New(agent.Options{Provider: provider, Tools: tools, Prompt: prompts.Static(testPrompt)})
		require.NoError(t, err)

		svc, transport := setupService(t, provider, store, func(so *ServiceOptions) { so.Agent = a })

		require.NoError(t, svc.Handle(ctx, "any filings?"))

		frames := transport.Frames()
		require.NotEmpty(t, frames)
		assert.Equal(t, EndOfTurn, frames[len(frames)-1])

		stored, err := store.LoadHistory(ctx, "session-1")
		require.NoError(t, err)
		require.NoError(t, schema.ValidateTranscript(stored))
		require.Len(t, stored, 5)

		assert.Equal(t, schema.UserMessage("any filings?"), stored[1])
		require.True(t, stored[2].HasToolCalls())
		assert.Equal(t, schema.RoleAssistant, stored[2].Role)
		assert.Equal(t, "call_1", stored[2].ToolCalls[0].ID)
		assert.Equal(t, schema.RoleTool, stored[3].Role)
		assert.Equal(t, "call_1", stored[3].ToolCallID)
		assert.Equal(t, "three filings found", stored[3].Content)
		assert.Equal(t, schema.AssistantMessage("done"), stored[4])
		assert.Equal(t, 2, provider.callCount())
	})

	t.Run("should resume a stored session on open", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.ReplaceHistory(ctx, "session-1", []schema.Message{
			schema.SystemMessage("old prompt"),
			schema.UserMessage("earlier"),
			schema.AssistantMessage("reply"),
		}, time.Minute))

		provider := &roundsProvider{rounds: [][]completion.Event{reply("ok")}}
		svc, _ := setupService(t, provider, store)
		require.Len(t, svc.History(), 3)

		require.NoError(t, svc.Handle(ctx, "next"))

		require.Len(t, provider.seen, 1)
		sent := provider.seen[0]
		require.Len(t, sent, 4)
		assert.Equal(t, schema.SystemMessage(testPrompt), sent[0])
		assert.Equal(t, "earlier", sent[1].Content)
	})

	t.Run("should start empty when the stored transcript cannot be loaded", func(t *testing.T) {
		store := &brokenStore{MemoryStore: NewMemoryStore()}
		provider := &roundsProvider{rounds: [][]completion.Event{reply("ok")}}
		svc, transport := setupService(t, provider, store)

		assert.Empty(t, svc.History())
		require.NoError(t, svc.Handle(ctx, "hello"))
		assert.Equal(t, []string{"ok", EndOfTurn}, transport.Frames())
	})

	t.Run("should abandon the turn when the transport fails but persist", func(t *testing.T) {
		store := NewMemoryStore()
		provider := &roundsProvider{rounds: [][]completion.Event{reply("lost")}}
		svc, transport := setupService(t, provider, store)
		transport.failOn = "lost"
		transport.sendErr = errors.New("broken pipe")

		err := svc.Handle(ctx, "hello")
		require.Error(t, err)

		assert.NotContains(t, transport.Frames(), EndOfTurn)

		stored, err := store.LoadHistory(ctx, "session-1")
		require.NoError(t, err)
		require.NotEmpty(t, stored)
		assert.Equal(t, schema.RoleSystem, stored[0].Role)
		assert.Equal(t, schema.UserMessage("hello"), stored[1])
	})

	t.Run("should persist without an end frame when the caller is gone", func(t *testing.T) {
		store := NewMemoryStore()
		provider := &roundsProvider{rounds: [][]completion.Event{reply("late")}}
		svc, transport := setupService(t, provider, store)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		require.NoError(t, svc.Handle(cancelled, "hello"))
		assert.NotContains(t, transport.Frames(), EndOfTurn)

		stored, err := store.LoadHistory(ctx, "session-1")
		require.NoError(t, err)
		assert.NotEmpty(t, stored)
	})

	t.Run("should close the transport once and refuse further turns", func(t *testing.T) {
		svc, transport := setupService(t, &roundsProvider{}, NewMemoryStore())

		require.NoError(t, svc.Close())
		require.NoError(t, svc.Close())
		assert.Equal(t, 1, transport.closed)

		assert.ErrorIs(t, svc.Handle(ctx, "hello"), ErrServiceClosed)
	})
}

func TestNewService(t *testing.T) {
	a, err := agent.New(agent.Options{Provider: &roundsProvider{}})
	require.NoError(t, err)

	t.Run("should validate the session id", func(t *testing.T) {
		_, err := NewService(ServiceOptions{SessionID: "../x", Agent: a, Store: NewMemoryStore()})
		assert.ErrorIs(t, err, ErrInvalidSessionID)
	})

	t.Run("should require a store", func(t *testing.T) {
		_, err := NewService(ServiceOptions{SessionID: "x", Agent: a})
		assert.Error(t, err)
	})

	t.Run("should refuse turns before open", func(t *testing.T) {
		svc, err := NewService(ServiceOptions{SessionID: "x", Agent: a, Store: NewMemoryStore()})
		require.NoError(t, err)
		assert.ErrorIs(t, svc.Handle(context.Background(), "hi"), ErrNotOpen)
	})
}
