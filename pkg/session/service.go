package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/confer/internal/observability"
	"github.com/harun/confer/internal/tracing"
	"github.com/harun/confer/pkg/agent"
	"github.com/harun/confer/pkg/schema"
)

const tracerName = "confer/session"

// Frames written to the transport besides streamed text
const (
	EndOfTurn   = "[END]"
	ErrorPrefix = "Error: "

	MsgInvalidQuestion = "Please provide a valid question."
	MsgRateLimited     = "Rate limit exceeded. Please try again later."
)

const persistTimeout = 5 * time.Second

var (
	// ErrServiceClosed is returned by Handle after Close
	ErrServiceClosed = errors.New("session service closed")

	// ErrNotOpen is returned by Handle before Open
	ErrNotOpen = errors.New("session service not open")
)

// Transport carries text frames to the client
type Transport interface {
	SendText(ctx context.Context, text string) error
	Close() error
}

// Chatter runs turns. *agent.Agent implements it.
type Chatter interface {
	Chat(ctx context.Context, question string, history []schema.Message) <-chan agent.Event
	Transcript() []schema.Message
}

// Limiter decides whether a client may ask another question
type Limiter interface {
	Allow(clientID string) bool
}

// ServiceOptions holds the dependencies of a Service
type ServiceOptions struct {
	SessionID string
	ClientID  string
	Agent     Chatter
	Store     Store
	TTL       time.Duration
	Limiter   Limiter
	Logger    *zerolog.Logger
}

// Service binds one session to one transport and runs its turns in order
type Service struct {
	sessionID string
	clientID  string
	agent     Chatter
	store     Store
	ttl       time.Duration
	limiter   Limiter
	logger    zerolog.Logger

	mu        sync.Mutex
	history   []schema.Message
	transport Transport
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewService creates a Service for one session
func NewService(opts ServiceOptions) (*Service, error) {
	if err := ValidateSessionID(opts.SessionID); err != nil {
		return nil, err
	}
	if opts.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Service{
		sessionID: opts.SessionID,
		clientID:  opts.ClientID,
		agent:     opts.Agent,
		store:     opts.Store,
		ttl:       effectiveTTL(opts.TTL),
		limiter:   opts.Limiter,
		logger:    logger.With().Str("component", "session").Str("session_id", opts.SessionID).Logger(),
	}, nil
}

// SessionID returns the id this service persists under
func (s *Service) SessionID() string {
	return s.sessionID
}

// Open attaches the transport and loads the stored transcript. A load
// failure is logged and the session starts empty.
func (s *Service) Open(ctx context.Context, transport Transport) error {
	if transport == nil {
		return errors.New("transport is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}
	s.transport = transport

	ctx = tracing.WithSessionID(ctx, s.sessionID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.load")
	defer span.End()

	start := time.Now()
	history, err := s.store.LoadHistory(ctx, s.sessionID)
	observability.RecordSessionLoad(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn().Err(err).Msg("Failed to load history, starting empty")
		history = nil
	}

	s.history = history
	span.SetAttributes(attribute.Int("messages", len(history)))
	s.logger.Info().Int("messages", len(history)).Msg("Session opened")
	return nil
}

// History returns a copy of the service-level transcript
func (s *Service) History() []schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.Message(nil), s.history...)
}

// Handle runs one question through the agent and streams the reply as
// text frames. The returned error is non-nil only when the service cannot
// run turns or the transport failed.
func (s *Service) Handle(ctx context.Context, question string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServiceClosed
	}
	if s.transport == nil {
		return ErrNotOpen
	}

	ctx = tracing.WithSessionID(ctx, s.sessionID)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if strings.TrimSpace(question) == "" {
		return s.reject(ctx, MsgInvalidQuestion)
	}
	if s.limiter != nil && !s.limiter.Allow(s.clientID) {
		observability.RecordRateLimited("chat")
		logger.Warn().Str("client_id", s.clientID).Msg("Question rate limited")
		return s.reject(ctx, MsgRateLimited)
	}

	s.history = append(s.history, schema.UserMessage(question))

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		full    strings.Builder
		sendErr error
		failed  bool
		done    bool
	)

	for ev := range s.agent.Chat(turnCtx, question, s.history) {
		switch ev.Type {
		case agent.EventMessage:
			if ev.Text == "" {
				continue
			}
			full.WriteString(ev.Text)
			if sendErr == nil {
				if sendErr = s.transport.SendText(turnCtx, ev.Text); sendErr != nil {
					logger.Warn().Err(sendErr).Msg("Transport failed, abandoning turn")
					cancel()
				}
			}
		case agent.EventError:
			failed = true
			logger.Error().Str("error", ev.Error).Msg("Error processing question")
			if sendErr == nil {
				sendErr = s.transport.SendText(turnCtx, ErrorPrefix+ev.UserMessage)
			}
		case agent.EventDone:
			done = true
		}
	}

	transcript := s.agent.Transcript()
	if len(transcript) == 0 {
		transcript = s.history
	}
	if done && !failed && full.Len() > 0 && turnCtx.Err() == nil {
		transcript = append(transcript, schema.AssistantMessage(full.String()))
	}
	s.history = transcript

	s.persist(ctx)

	if sendErr == nil && ctx.Err() == nil {
		sendErr = s.transport.SendText(ctx, EndOfTurn)
	}

	if sendErr != nil {
		return fmt.Errorf("transport: %w", sendErr)
	}
	return nil
}

// reject answers a question that never reaches the agent
func (s *Service) reject(ctx context.Context, message string) error {
	if err := s.transport.SendText(ctx, ErrorPrefix+message); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := s.transport.SendText(ctx, EndOfTurn); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	return nil
}

// persist writes the history even when the caller's context is gone
func (s *Service) persist(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, tracerName, "session.save",
		attribute.Int("messages", len(s.history)),
	)
	defer span.End()

	start := time.Now()
	err := s.store.ReplaceHistory(ctx, s.sessionID, s.history, s.ttl)
	observability.RecordSessionSave(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error().Err(err).Msg("Failed to save history")
		return
	}
	s.logger.Debug().Int("messages", len(s.history)).Msg("History saved")
}

// Close closes the transport once
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		transport := s.transport
		s.mu.Unlock()

		if transport != nil {
			s.closeErr = transport.Close()
		}
		s.logger.Info().Msg("Session closed")
	})
	return s.closeErr
}
