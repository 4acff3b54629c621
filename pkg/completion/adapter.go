package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/confer/internal/observability"
	"github.com/harun/confer/internal/tracing"
	"github.com/harun/confer/pkg/schema"
)

const (
	// DefaultTimeout bounds one streamed completion
	DefaultTimeout = 30 * time.Second

	tracerName = "confer/completion"
)

// Adapter turns a Backend into a Provider
type Adapter struct {
	backend Backend
	timeout time.Duration
	logger  zerolog.Logger
}

// AdapterOption configures an Adapter
type AdapterOption func(*Adapter)

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the adapter logger
func WithLogger(logger zerolog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter creates a new Adapter for the given backend
func NewAdapter(backend Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		backend: backend,
		timeout: DefaultTimeout,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "completion").Str("provider", backend.Name()).Logger()
	return a
}

// Name returns the backend name
func (a *Adapter) Name() string {
	return a.backend.Name()
}

// Stream starts one completion and returns its events.
// The channel is closed after a finish or error event, or when ctx is done.
func (a *Adapter) Stream(ctx context.Context, messages []schema.Message, tools []schema.ToolDescriptor) <-chan Event {
	out := make(chan Event, 16)
	go a.run(ctx, Request{Messages: messages, Tools: tools}, out)
	return out
}

func (a *Adapter) run(ctx context.Context, req Request, out chan<- Event) {
	defer close(out)

	ctx, span := tracing.StartSpan(ctx, tracerName, "completion.stream",
		attribute.String("provider", a.backend.Name()),
		attribute.Int("messages", len(req.Messages)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, a.logger)
	logger.Debug().Int("messages", len(req.Messages)).Int("tools", len(req.Tools)).Msg("Opening completion stream")
	observability.RecordProviderRequest(a.backend.Name())

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	fail := func(err error) {
		if ctx.Err() != nil {
			// caller went away, nobody is listening
			return
		}
		pe := classify(err)
		span.RecordError(pe)
		span.SetStatus(codes.Error, string(pe.Kind))
		observability.RecordProviderError(a.backend.Name(), string(pe.Kind))
		logger.Warn().Err(pe.Err).Str("kind", string(pe.Kind)).Msg("Completion failed")
		send(Event{Kind: EventError, Err: pe, UserMessage: pe.UserMessage()})
	}

	defer func() {
		if rec := recover(); rec != nil {
			fail(newProviderError(KindProtocol, fmt.Errorf("provider panicked: %v", rec)))
		}
	}()

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	stream, err := a.backend.Open(reqCtx, req)
	if err != nil {
		fail(timeoutAware(reqCtx, err))
		return
	}
	defer stream.Close()

	asm := newAssembler()
	finish := ""
	for finish == "" && stream.Next() {
		chunk := stream.Current()
		if chunk.Content != "" {
			asm.addContent(chunk.Content)
			if !send(Event{Kind: EventContent, Text: chunk.Content}) {
				return
			}
		}
		if chunk.ToolCall != nil {
			asm.addToolCall(*chunk.ToolCall)
		}
		if chunk.FinishReason != "" {
			finish = normalizeFinishReason(chunk.FinishReason)
		}
	}

	if finish == "" {
		if err := stream.Err(); err != nil {
			fail(timeoutAware(reqCtx, err))
			return
		}
		if reqCtx.Err() != nil {
			fail(timeoutAware(reqCtx, reqCtx.Err()))
			return
		}
		fail(newProviderError(KindProtocol, ErrMissingFinishReason))
		return
	}

	span.SetAttributes(attribute.String("finish_reason", finish))
	logger.Debug().Str("finish_reason", finish).Int("content_bytes", len(asm.Accumulated())).Msg("Completion finished")
	ev := Event{Kind: EventFinish, FinishReason: finish}
	if finish == FinishToolCalls {
		call, err := asm.toolCall()
		if err != nil {
			fail(err)
			return
		}
		logger.Debug().Str("tool", call.Name).Str("call_id", call.CallID).Msg("Tool call requested")
		ev.ToolCall = call
	}
	send(ev)
}

// timeoutAware reports errors caused by the request deadline as timeouts
func timeoutAware(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			return newProviderError(KindTimeout, err)
		}
	}
	return err
}
