package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// wsTransport writes session frames to a WebSocket connection
type wsTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// SendText writes one text frame. The write deadline is the earlier of the
// context deadline and writeWait.
func (t *wsTransport) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return websocket.ErrCloseSent
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// closeWith sends a close frame with code and closes the connection
func (t *wsTransport) closeWith(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	return t.conn.Close()
}

func (t *wsTransport) Close() error {
	return t.closeWith(websocket.CloseNormalClosure, "")
}
