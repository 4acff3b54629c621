package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies provider failures
type ErrorKind string

const (
	KindRateLimit        ErrorKind = "rate_limit"
	KindTimeout          ErrorKind = "timeout"
	KindInvalidArguments ErrorKind = "invalid_arguments"
	KindProtocol         ErrorKind = "protocol"
)

// User-facing messages per error kind
const (
	MsgRateLimit        = "The service is temporarily unavailable due to high demand."
	MsgTimeout          = "The request timed out. Please try again."
	MsgInvalidArguments = "An error occurred validating tool arguments."
	MsgGeneric          = "An error occurred while processing your request."
)

var (
	// ErrMissingFinishReason is reported when a stream ends before a finish reason arrives
	ErrMissingFinishReason = errors.New("stream ended without a finish reason")

	// ErrMissingToolCall is reported when the finish reason asks for a tool but none was streamed
	ErrMissingToolCall = errors.New("finish reason tool_calls without a tool call")
)

// ProviderError is a classified provider failure
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// UserMessage returns the message shown to the end user for this failure
func (e *ProviderError) UserMessage() string {
	switch e.Kind {
	case KindRateLimit:
		return MsgRateLimit
	case KindTimeout:
		return MsgTimeout
	case KindInvalidArguments:
		return MsgInvalidArguments
	default:
		return MsgGeneric
	}
}

func newProviderError(kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

// kindForStatus maps an HTTP status returned by a vendor API to an error kind
func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindProtocol
	}
}

// classify turns any error into a ProviderError.
// Backends classify vendor errors themselves; this handles the rest.
func classify(err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newProviderError(KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newProviderError(KindTimeout, err)
	}
	return newProviderError(KindProtocol, err)
}
