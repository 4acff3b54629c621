package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/confer/pkg/agent"
	"github.com/harun/confer/pkg/commandqueue"
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

func setupServer(t *testing.T, limiter session.Limiter) (*Server, *httptest.Server, session.Store) {
	t.Helper()

	queue := commandqueue.New()
	t.Cleanup(func() { queue.Close() })
	store := session.NewMemoryStore()

	srv, err := NewServer(Config{
		Queue:   queue,
		Store:   store,
		Limiter: limiter,
		NewAgent: func(zerolog.Logger) (session.Chatter, error) {
			return &echoAgent{}, nil
		},
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, store
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readTurn(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	var frames []string
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		frames = append(frames, string(data))
		if string(data) == session.EndOfTurn {
			return frames
		}
	}
}

func TestServer_Health(t *testing.T) {
	_, ts, _ := setupServer(t, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
}

func TestServer_Metrics(t *testing.T) {
	_, ts, _ := setupServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "confer_")
}

func TestServer_Chat(t *testing.T) {
	t.Run("should close the connection without a session id", func(t *testing.T) {
		_, ts, _ := setupServer(t, nil)
		conn := dial(t, ts, "")

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := conn.ReadMessage()
		require.Error(t, err)
		assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err.Error())
	})

	t.Run("should stream an answer and persist the session", func(t *testing.T) {
		srv, ts, store := setupServer(t, nil)
		conn := dial(t, ts, "?session_id=abc")

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
		assert.Equal(t, []string{"echo: hello", session.EndOfTurn}, readTurn(t, conn))

		history, err := store.LoadHistory(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, []schema.Message{
			schema.SystemMessage("test"),
			schema.UserMessage("hello"),
			schema.AssistantMessage("echo: hello"),
		}, history)

		clients := srv.GetConnectedClients()
		require.Len(t, clients, 1)
		assert.Equal(t, "abc", clients[0].SessionID)
	})

	t.Run("should answer questions in order", func(t *testing.T) {
		_, ts, _ := setupServer(t, nil)
		conn := dial(t, ts, "?session_id=ordered")

		for _, q := range []string{"one", "two", "three"} {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(q)))
		}
		for _, q := range []string{"one", "two", "three"} {
			assert.Equal(t, []string{"echo: " + q, session.EndOfTurn}, readTurn(t, conn))
		}
	})

	t.Run("should reject blank questions", func(t *testing.T) {
		_, ts, _ := setupServer(t, nil)
		conn := dial(t, ts, "?session_id=blank")

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("  ")))
		assert.Equal(t, []string{
			session.ErrorPrefix + session.MsgInvalidQuestion,
			session.EndOfTurn,
		}, readTurn(t, conn))
	})

	t.Run("should rate limit a client", func(t *testing.T) {
		_, ts, _ := setupServer(t, NewRateLimiter(1, time.Hour))
		conn := dial(t, ts, "?session_id=limited")

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("first")))
		assert.Equal(t, []string{"echo: first", session.EndOfTurn}, readTurn(t, conn))

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("second")))
		assert.Equal(t, []string{
			session.ErrorPrefix + session.MsgRateLimited,
			session.EndOfTurn,
		}, readTurn(t, conn))
	})

	t.Run("should share history between connections of a session", func(t *testing.T) {
		_, ts, store := setupServer(t, nil)

		first := dial(t, ts, "?session_id=shared")
		require.NoError(t, first.WriteMessage(websocket.TextMessage, []byte("hi")))
		readTurn(t, first)
		first.Close()

		second := dial(t, ts, "?session_id=shared")
		require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte("again")))
		readTurn(t, second)

		history, err := store.LoadHistory(context.Background(), "shared")
		require.NoError(t, err)
		require.Len(t, history, 5)
		assert.Equal(t, "hi", history[1].Content)
		assert.Equal(t, "again", history[3].Content)
	})
}

func TestServer_Stop(t *testing.T) {
	t.Run("should close open connections and refuse new ones", func(t *testing.T) {
		srv, ts, _ := setupServer(t, nil)
		conn := dial(t, ts, "?session_id=stop")

		require.Eventually(t, func() bool { return len(srv.GetConnectedClients()) == 1 }, 2*time.Second, 10*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Stop(ctx))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)

		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat?session_id=late"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestNewServer(t *testing.T) {
	t.Run("should require its collaborators", func(t *testing.T) {
		_, err := NewServer(Config{})
		assert.Error(t, err)
	})
}
