package gateway

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one connected WebSocket peer
type Client struct {
	ID           string
	SessionID    string
	Conn         *websocket.Conn
	IPAddress    string
	ConnectedAt  time.Time
	LastActivity time.Time

	cancel context.CancelFunc
}

// ClientInfo describes a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
	Idle         bool      `json:"idle"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string `json:"status"`
}
