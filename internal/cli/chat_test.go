package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/confer/pkg/agent"
	"github.com/harun/confer/pkg/schema"
	"github.com/harun/confer/pkg/session"
)

// echoAgent answers every question with "echo: <question>"
type echoAgent struct {
	mu         sync.Mutex
	transcript []schema.Message
}

func (a *echoAgent) Chat(_ context.Context, question string, history []schema.Message) <-chan agent.Event {
	a.mu.Lock()
	a.transcript = []schema.Message{schema.SystemMessage("test")}
	for _, msg := range history {
		if msg.Role != schema.RoleSystem {
			a.transcript = append(a.transcript, msg)
		}
	}
	a.mu.Unlock()

	out := make(chan agent.Event, 2)
	out <- agent.Event{Type: agent.EventMessage, Text: "echo: " + question}
	out <- agent.Event{Type: agent.EventDone, FinishReason: "stop"}
	close(out)
	return out
}

func (a *echoAgent) Transcript() []schema.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]schema.Message(nil), a.transcript...)
}

type fakeBackend struct {
	store   session.Store
	limiter session.Limiter
}

func (b *fakeBackend) Store() session.Store     { return b.store }
func (b *fakeBackend) Limiter() session.Limiter { return b.limiter }
func (b *fakeBackend) NewAgent(zerolog.Logger) (session.Chatter, error) {
	return &echoAgent{}, nil
}

func runChatLoop(t *testing.T, backend chatBackend, sessionID, input string) string {
	t.Helper()
	out := &bytes.Buffer{}
	err := chatLoop(context.Background(), chatOptions{
		SessionID: sessionID,
		Backend:   backend,
		TTL:       time.Minute,
		In:        strings.NewReader(input),
		Out:       out,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return out.String()
}

func TestChatLoop(t *testing.T) {
	t.Run("streams answers and persists the session", func(t *testing.T) {
		backend := &fakeBackend{store: session.NewMemoryStore()}

		out := runChatLoop(t, backend, "term-1", "hello\nhow are you\n")
		assert.Contains(t, out, "Session term-1")
		assert.Contains(t, out, "> echo: hello\n")
		assert.Contains(t, out, "> echo: how are you\n")

		history, err := backend.store.LoadHistory(context.Background(), "term-1")
		require.NoError(t, err)
		require.Len(t, history, 5)
		assert.Equal(t, "echo: how are you", history[4].Content)
	})

	t.Run("resumes a stored session", func(t *testing.T) {
		store := session.NewMemoryStore()
		require.NoError(t, store.ReplaceHistory(context.Background(), "term-2", []schema.Message{
			schema.SystemMessage("test"),
			schema.UserMessage("earlier"),
			schema.AssistantMessage("echo: earlier"),
		}, time.Minute))

		out := runChatLoop(t, &fakeBackend{store: store}, "term-2", "")
		assert.Contains(t, out, "Resumed session term-2")
	})

	t.Run("stops on exit", func(t *testing.T) {
		backend := &fakeBackend{store: session.NewMemoryStore()}

		out := runChatLoop(t, backend, "term-3", "exit\nnever asked\n")
		assert.NotContains(t, out, "never asked")
	})

	t.Run("rejects a blank question", func(t *testing.T) {
		backend := &fakeBackend{store: session.NewMemoryStore()}

		out := runChatLoop(t, backend, "term-4", "   \n")
		assert.Contains(t, out, session.ErrorPrefix+session.MsgInvalidQuestion+"\n")
	})

	t.Run("rejects an invalid session id", func(t *testing.T) {
		err := chatLoop(context.Background(), chatOptions{
			SessionID: "../escape",
			Backend:   &fakeBackend{store: session.NewMemoryStore()},
			In:        strings.NewReader(""),
			Out:       &bytes.Buffer{},
			Logger:    zerolog.Nop(),
		})
		assert.ErrorIs(t, err, session.ErrInvalidSessionID)
	})
}

func TestChatCommand(t *testing.T) {
	flag := chatCmd.Flags().Lookup("session")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}
