package completion

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/harun/confer/pkg/schema"
)

// statusOverloaded is returned by the Anthropic API under load
const statusOverloaded = 529

// AnthropicBackend streams completions from the Anthropic Messages API
type AnthropicBackend struct {
	client anthropic.Client
	opts   BackendOptions
}

// NewAnthropicBackend creates a new Anthropic backend
func NewAnthropicBackend(opts BackendOptions) *AnthropicBackend {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &AnthropicBackend{
		client: anthropic.NewClient(clientOpts...),
		opts:   opts,
	}
}

// Name returns the provider name
func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

// Open starts a streaming completion
func (b *AnthropicBackend) Open(ctx context.Context, req Request) (ChunkStream, error) {
	system, messages := anthropicMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(b.opts.Model),
		Messages:    messages,
		MaxTokens:   int64(b.opts.MaxTokens),
		Temperature: anthropic.Float(b.opts.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
	}

	return &anthropicStream{stream: b.client.Messages.NewStreaming(ctx, params)}, nil
}

// anthropicMessages splits off the system prompt and converts the rest,
// merging consecutive messages of the same role into one turn.
func anthropicMessages(messages []schema.Message) (string, []anthropic.MessageParam) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(messages))

	appendBlocks := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range messages {
		switch msg.Role {
		case schema.RoleSystem:
			system = msg.Content
		case schema.RoleUser:
			if msg.Content != "" {
				appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(msg.Content))
			}
		case schema.RoleTool:
			appendBlocks(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case schema.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := map[string]any{}
				if tc.Function.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			appendBlocks(anthropic.MessageParamRoleAssistant, blocks...)
		}
	}
	return system, out
}

func anthropicTools(tools []schema.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.Parameters["properties"],
				Required:   requiredFields(t.Parameters["required"]),
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		fields := make([]string, 0, len(req))
		for _, f := range req {
			if s, ok := f.(string); ok {
				fields = append(fields, s)
			}
		}
		return fields
	default:
		return nil
	}
}

type anthropicStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	current Chunk
}

func (s *anthropicStream) Next() bool {
	for s.stream.Next() {
		if chunk, ok := convertAnthropicEvent(s.stream.Current()); ok {
			s.current = chunk
			return true
		}
	}
	return false
}

func (s *anthropicStream) Current() Chunk {
	return s.current
}

func (s *anthropicStream) Err() error {
	err := s.stream.Err()
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == statusOverloaded {
			return newProviderError(KindRateLimit, err)
		}
		return newProviderError(kindForStatus(apiErr.StatusCode), err)
	}
	return err
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}

func convertAnthropicEvent(event anthropic.MessageStreamEventUnion) (Chunk, bool) {
	switch ev := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if ev.ContentBlock.Type == "tool_use" {
			return Chunk{ToolCall: &ToolCallDelta{
				Index: int(ev.Index),
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
			}}, true
		}
	case anthropic.ContentBlockDeltaEvent:
		switch d := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			if d.Text != "" {
				return Chunk{Content: d.Text}, true
			}
		case anthropic.InputJSONDelta:
			return Chunk{ToolCall: &ToolCallDelta{
				Index:     int(ev.Index),
				Arguments: d.PartialJSON,
			}}, true
		}
	case anthropic.MessageDeltaEvent:
		if ev.Delta.StopReason != "" {
			return Chunk{FinishReason: string(ev.Delta.StopReason)}, true
		}
	}
	return Chunk{}, false
}
