package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/confer/internal/observability"
	"github.com/harun/confer/internal/tracing"
	"github.com/harun/confer/pkg/commandqueue"
	"github.com/harun/confer/pkg/session"
)

const (
	// ClientIDHeader lets a trusted proxy name the client for rate limiting
	ClientIDHeader = "X-Client-ID"

	defaultReadLimit = 64 * 1024
	pendingQuestions = 16
)

// AgentFactory builds the agent that serves one connection
type AgentFactory func(logger zerolog.Logger) (session.Chatter, error)

// Config holds server configuration
type Config struct {
	Addr       string
	Queue      *commandqueue.CommandQueue
	Store      session.Store
	SessionTTL time.Duration
	NewAgent   AgentFactory

	// Limiter is optional; nil disables rate limiting
	Limiter session.Limiter

	// ReadLimit caps the size of an inbound frame
	ReadLimit int64

	Logger *zerolog.Logger
}

// Server is the chat gateway
type Server struct {
	addr       string
	queue      *commandqueue.CommandQueue
	store      session.Store
	sessionTTL time.Duration
	newAgent   AgentFactory
	limiter    session.Limiter
	readLimit  int64
	logger     zerolog.Logger

	server   *http.Server
	upgrader websocket.Upgrader
	clients  *ClientRegistry

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	connections    sync.WaitGroup
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.NewAgent == nil {
		return nil, fmt.Errorf("agent factory is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	observability.EnsureRegistered()

	return &Server{
		addr:       cfg.Addr,
		queue:      cfg.Queue,
		store:      cfg.Store,
		sessionTTL: cfg.SessionTTL,
		newAgent:   cfg.NewAgent,
		limiter:    cfg.Limiter,
		readLimit:  cfg.ReadLimit,
		logger:     logger.With().Str("component", "gateway").Logger(),
		clients:    NewClientRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the HTTP routes of the gateway
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())
	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting gateway")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Stop refuses new connections, closes the open ones and waits for their
// turns to be persisted or for ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")

	var shutdownErr error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	for _, client := range s.clients.GetAll() {
		client.cancel()
		client.Conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.connections.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All connections closed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}

	s.logger.Info().Msg("Gateway stopped")
	return shutdownErr
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
}

// handleChat upgrades the connection and serves one session on it
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.connections.Add(1)
	s.shutdownMu.RUnlock()
	defer s.connections.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	transport := newWSTransport(conn)

	sessionID := r.URL.Query().Get("session_id")
	if err := session.ValidateSessionID(sessionID); err != nil {
		s.logger.Warn().Err(err).Str("ip", r.RemoteAddr).Msg("Rejecting chat connection")
		_ = transport.closeWith(websocket.ClosePolicyViolation, "session_id is required")
		return
	}

	clientID, _ := gonanoid.New()
	ctx, cancel := context.WithCancel(context.WithoutCancel(tracing.FromRequest(r)))
	defer cancel()
	ctx = tracing.WithConnectionID(ctx, clientID)
	ctx = tracing.WithSessionID(ctx, sessionID)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	client := &Client{
		ID:           clientID,
		SessionID:    sessionID,
		Conn:         conn,
		IPAddress:    clientAddress(r),
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		cancel:       cancel,
	}

	svc, err := s.openSession(ctx, client, transport, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open session")
		_ = transport.closeWith(websocket.CloseInternalServerErr, "session unavailable")
		return
	}

	s.clients.Add(client)
	logger.Info().Str("ip", client.IPAddress).Msg("Client connected")

	defer func() {
		_ = svc.Close()
		s.clients.Remove(client.ID)
		logger.Info().Msg("Client disconnected")
	}()

	s.serve(ctx, cancel, client, svc, logger)
}

func (s *Server) openSession(ctx context.Context, client *Client, transport session.Transport, logger zerolog.Logger) (*session.Service, error) {
	chatter, err := s.newAgent(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	svc, err := session.NewService(session.ServiceOptions{
		SessionID: client.SessionID,
		ClientID:  client.IPAddress,
		Agent:     chatter,
		Store:     s.store,
		TTL:       s.sessionTTL,
		Limiter:   s.limiter,
		Logger:    &logger,
	})
	if err != nil {
		return nil, err
	}
	if err := svc.Open(ctx, transport); err != nil {
		return nil, err
	}
	return svc, nil
}

// serve reads questions until the peer goes away. Questions are answered
// in order by a single worker that takes the session's queue lane for each turn.
func (s *Server) serve(ctx context.Context, cancel context.CancelFunc, client *Client, svc *session.Service, logger zerolog.Logger) {
	questions := make(chan string, pendingQuestions)
	worker := make(chan struct{})

	go func() {
		defer close(worker)
		for question := range questions {
			err := s.queue.Enqueue(ctx, client.SessionID, func(taskCtx context.Context) error {
				return svc.Handle(taskCtx, question)
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Turn failed, closing connection")
				cancel()
				client.Conn.Close()
			}
		}
	}()

	client.Conn.SetReadLimit(s.readLimit)
	for {
		messageType, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.clients.UpdateActivity(client.ID)

		select {
		case questions <- string(message):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	cancel()
	close(questions)
	<-worker
}

// clientAddress identifies the peer for rate limiting
func clientAddress(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ClientIDHeader)); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
