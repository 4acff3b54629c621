package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/confer/internal/observability"
	"github.com/harun/confer/internal/tracing"
	"github.com/harun/confer/pkg/completion"
	"github.com/harun/confer/pkg/memory"
	"github.com/harun/confer/pkg/prompts"
	"github.com/harun/confer/pkg/schema"
)

const tracerName = "confer/agent"

// ToolExecutor advertises and runs tools for the loop
type ToolExecutor interface {
	Descriptors() []schema.ToolDescriptor
	Execute(ctx context.Context, req schema.ToolCallRequest) schema.ToolResult
}

// Options holds the dependencies of an Agent
type Options struct {
	Config   Config
	Provider completion.Provider
	Tools    ToolExecutor
	Prompt   prompts.Source
	Logger   *zerolog.Logger
}

// Agent drives one conversation. It owns its memory and runs one turn at a time.
type Agent struct {
	cfg      Config
	provider completion.Provider
	tools    ToolExecutor
	prompt   prompts.Source
	logger   zerolog.Logger

	mu     sync.Mutex
	memory *memory.Conversation
	busy   atomic.Bool
}

// New creates a new Agent
func New(opts Options) (*Agent, error) {
	if opts.Provider == nil {
		return nil, errors.New("completion provider is required")
	}
	if opts.Config.MaxDepth == 0 {
		opts.Config.MaxDepth = DefaultMaxDepth
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	if opts.Prompt == nil {
		opts.Prompt = prompts.Default()
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Agent{
		cfg:      opts.Config,
		provider: opts.Provider,
		tools:    opts.Tools,
		prompt:   opts.Prompt,
		logger:   logger.With().Str("component", "agent").Logger(),
		memory:   memory.NewConversation(),
	}, nil
}

// Transcript returns a copy of the memory as left by the last turn.
// The system prompt is always first.
func (a *Agent) Transcript() []schema.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memory.Messages()
}

// Chat runs one turn. history holds the prior conversation; when its last
// entry is not the user question, the question is appended.
// The returned channel is closed when the turn ends.
func (a *Agent) Chat(ctx context.Context, question string, history []schema.Message) <-chan Event {
	out := make(chan Event, 32)

	if !a.busy.CompareAndSwap(false, true) {
		out <- Event{Type: EventError, Error: ErrTurnInProgress.Error(), UserMessage: MsgTurnBusy}
		close(out)
		return out
	}

	go a.run(ctx, question, history, out)
	return out
}

type roundResult int

const (
	roundContinue roundResult = iota
	roundDone
	roundError
	roundCancelled
)

func (a *Agent) run(ctx context.Context, question string, history []schema.Message, out chan<- Event) {
	defer close(out)
	defer a.busy.Store(false)

	ctx = tracing.NewTurnContext(ctx)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.turn",
		attribute.String("provider", a.provider.Name()),
		attribute.Int("max_depth", a.cfg.MaxDepth),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, a.logger)
	start := time.Now()
	depth := 0
	outcome := "done"

	defer func() {
		span.SetAttributes(attribute.Int("depth", depth), attribute.String("outcome", outcome))
		observability.RecordTurn(outcome, time.Since(start), depth)
		logger.Info().Int("depth", depth).Str("outcome", outcome).Dur("duration", time.Since(start)).Msg("Turn finished")
	}()

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			outcome = "error"
			span.SetStatus(codes.Error, "panic")
			logger.Error().Interface("panic", rec).Str("stack", string(debug.Stack())).Msg("Turn panicked")
			emit(Event{Type: EventError, Error: fmt.Sprintf("unexpected error: %v", rec), UserMessage: MsgUnexpected})
		}
	}()

	seeded := a.seed(question, history)
	span.SetAttributes(attribute.Int("context_messages", seeded))
	logger.Debug().Int("context_messages", seeded).Msg("Conversation seeded")

	var tools []schema.ToolDescriptor
	if a.tools != nil {
		tools = a.tools.Descriptors()
	}

	for {
		depth++
		if depth > a.cfg.MaxDepth {
			outcome = "error"
			span.SetStatus(codes.Error, ErrDepthExceeded.Error())
			logger.Warn().Int("max_depth", a.cfg.MaxDepth).Msg("Conversation depth exceeded")
			emit(Event{Type: EventError, Error: ErrDepthExceeded.Error(), UserMessage: MsgDepthExceeded})
			return
		}

		roundLogger := logger.With().Int("depth", depth).Logger()
		switch a.round(ctx, roundLogger, tools, emit) {
		case roundContinue:
			continue
		case roundDone:
			return
		case roundError:
			outcome = "error"
			span.SetStatus(codes.Error, "turn failed")
			return
		case roundCancelled:
			outcome = "cancelled"
			return
		}
	}
}

// seed resets memory to the system prompt plus the supplied history
// and returns the resulting number of messages
func (a *Agent) seed(question string, history []schema.Message) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.memory.Clear()
	a.memory.InitializeSystemPrompt(a.prompt.SystemPrompt())
	a.memory.LoadHistory(history)

	prior := a.memory.WithoutSystem()
	if n := len(prior); n == 0 || prior[n-1].Role != schema.RoleUser || prior[n-1].Content != question {
		_ = a.memory.Append(schema.UserMessage(question))
	}
	return a.memory.Len()
}

func (a *Agent) snapshot() []schema.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memory.Messages()
}

func (a *Agent) appendMessage(msg schema.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.memory.Append(msg)
}

// round performs one provider call and handles its outcome
func (a *Agent) round(ctx context.Context, logger zerolog.Logger, tools []schema.ToolDescriptor, emit func(Event) bool) roundResult {
	messages := a.snapshot()
	logger.Debug().Int("messages", len(messages)).Msg("Requesting completion")

	for ev := range a.provider.Stream(ctx, messages, tools) {
		switch ev.Kind {
		case completion.EventContent:
			if !emit(Event{Type: EventMessage, Text: ev.Text}) {
				return roundCancelled
			}

		case completion.EventError:
			detail := "provider error"
			if ev.Err != nil {
				detail = ev.Err.Error()
			}
			logger.Warn().Str("error", detail).Msg("Provider reported an error")
			if !emit(Event{Type: EventError, Error: detail, UserMessage: ev.UserMessage}) {
				return roundCancelled
			}
			return roundError

		case completion.EventFinish:
			if ev.FinishReason != completion.FinishToolCalls {
				if !emit(Event{Type: EventDone, FinishReason: ev.FinishReason}) {
					return roundCancelled
				}
				return roundDone
			}
			if ev.ToolCall == nil {
				logger.Error().Msg("Finish reason tool_calls without a tool call")
				if !emit(Event{Type: EventError, Error: ErrMissingToolCall.Error(), UserMessage: MsgGeneric}) {
					return roundCancelled
				}
				return roundError
			}
			return a.useTool(ctx, logger, *ev.ToolCall, emit)
		}
	}

	if ctx.Err() != nil {
		return roundCancelled
	}
	logger.Error().Msg("Provider stream closed without a terminal event")
	if !emit(Event{Type: EventError, Error: ErrStreamEnded.Error(), UserMessage: MsgGeneric}) {
		return roundCancelled
	}
	return roundError
}

// useTool records the tool exchange in memory and tells the user about
// failures and empty results
func (a *Agent) useTool(ctx context.Context, logger zerolog.Logger, call schema.ToolCallRequest, emit func(Event) bool) roundResult {
	logger = logger.With().Str("tool", call.Name).Str("call_id", call.CallID).Logger()

	assistant, err := schema.AssistantToolCallMessage(call)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to serialize tool call")
		if !emit(Event{Type: EventError, Error: err.Error(), UserMessage: MsgGeneric}) {
			return roundCancelled
		}
		return roundError
	}
	a.appendMessage(assistant)

	var result schema.ToolResult
	if a.tools == nil {
		result = schema.ToolResult{CallID: call.CallID, Name: call.Name, Error: fmt.Sprintf("Tool '%s' not found.", call.Name)}
	} else {
		result = a.tools.Execute(ctx, call)
	}

	switch {
	case result.Failed():
		logger.Warn().Str("error", result.Error).Msg("Tool failed, continuing without it")
		a.appendMessage(schema.ToolMessage(call.CallID, call.Name, toolFailedPrefix+firstLine(result.Error)))
		if !emit(Event{Type: EventMessage, Text: toolErrorNotice(call.Name)}) {
			return roundCancelled
		}

	case result.Content == "":
		logger.Info().Msg("Tool returned no content")
		a.appendMessage(schema.ToolMessage(call.CallID, call.Name, toolNoContent))
		if !emit(Event{Type: EventMessage, Text: toolEmptyNotice(call.Name)}) {
			return roundCancelled
		}

	default:
		logger.Debug().Int("bytes", len(result.Content)).Msg("Tool result added to context")
		a.appendMessage(schema.ToolMessage(call.CallID, call.Name, result.Content))
	}

	if ctx.Err() != nil {
		return roundCancelled
	}
	return roundContinue
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}
