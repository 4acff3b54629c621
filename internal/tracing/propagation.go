package tracing

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

// TraceHeader is the HTTP header carrying an inbound trace ID
const TraceHeader = "X-Trace-Id"

// FromRequest derives a request context from an inbound HTTP request,
// reusing the caller's trace ID when supplied.
func FromRequest(r *http.Request) context.Context {
	ctx := r.Context()
	if traceID := r.Header.Get(TraceHeader); traceID != "" {
		return WithTraceID(ctx, traceID)
	}
	return NewRequestContext(ctx)
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		lc = lc.Str("turn_id", tc.TurnID)
	}
	if tc.SessionID != "" {
		lc = lc.Str("session_id", tc.SessionID)
	}
	if tc.ConnectionID != "" {
		lc = lc.Str("connection_id", tc.ConnectionID)
	}

	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
