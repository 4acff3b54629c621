package completion

import (
	"strings"

	"github.com/google/uuid"

	"github.com/harun/confer/pkg/schema"
)

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// assembler accumulates the fragments of one streamed completion
type assembler struct {
	content strings.Builder
	calls   map[int]*pendingCall
}

func newAssembler() *assembler {
	return &assembler{calls: make(map[int]*pendingCall)}
}

func (a *assembler) addContent(text string) {
	a.content.WriteString(text)
}

// Accumulated returns all content seen so far
func (a *assembler) Accumulated() string {
	return a.content.String()
}

func (a *assembler) addToolCall(delta ToolCallDelta) {
	pc, ok := a.calls[delta.Index]
	if !ok {
		pc = &pendingCall{}
		a.calls[delta.Index] = pc
	}
	if pc.id == "" && delta.ID != "" {
		pc.id = delta.ID
	}
	if pc.name == "" && delta.Name != "" {
		pc.name = delta.Name
	}
	pc.args.WriteString(delta.Arguments)
}

// toolCall builds the request for the call with the lowest stream index
func (a *assembler) toolCall() (*schema.ToolCallRequest, error) {
	if len(a.calls) == 0 {
		return nil, newProviderError(KindProtocol, ErrMissingToolCall)
	}

	first := -1
	for index := range a.calls {
		if first == -1 || index < first {
			first = index
		}
	}
	pc := a.calls[first]
	if pc.name == "" {
		return nil, newProviderError(KindProtocol, ErrMissingToolCall)
	}

	raw := pc.args.String()
	args, err := ParseArguments(raw)
	if err != nil {
		return nil, newProviderError(KindInvalidArguments, err)
	}
	if err := ValidateArguments(args); err != nil {
		return nil, newProviderError(KindInvalidArguments, err)
	}

	id := pc.id
	if id == "" {
		id = "call_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	}

	return &schema.ToolCallRequest{
		CallID:       id,
		Name:         pc.name,
		Arguments:    args,
		RawArguments: raw,
	}, nil
}

// normalizeFinishReason maps vendor finish reasons onto the shared vocabulary
func normalizeFinishReason(reason string) string {
	switch reason {
	case "tool_calls", "function_call", "tool_use":
		return FinishToolCalls
	case "stop", "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	default:
		return reason
	}
}
