package completion

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/harun/confer/pkg/schema"
)

// OpenAIBackend streams Chat Completions from OpenAI-compatible APIs
type OpenAIBackend struct {
	client openai.Client
	opts   BackendOptions
}

// NewOpenAIBackend creates a new OpenAI backend
func NewOpenAIBackend(opts BackendOptions) *OpenAIBackend {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &OpenAIBackend{
		client: openai.NewClient(clientOpts...),
		opts:   opts,
	}
}

// Name returns the provider name
func (b *OpenAIBackend) Name() string {
	return "openai"
}

// Open starts a streaming completion
func (b *OpenAIBackend) Open(ctx context.Context, req Request) (ChunkStream, error) {
	messages, err := openAIMessages(req.Messages)
	if err != nil {
		return nil, newProviderError(KindProtocol, err)
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(b.opts.Model),
		Messages:    messages,
		Temperature: openai.Float(b.opts.Temperature),
	}
	if b.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(b.opts.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = openAITools(req.Tools)
	}

	return &openAIStream{stream: b.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

func openAIMessages(messages []schema.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case schema.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case schema.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case schema.RoleAssistant:
			if !msg.HasToolCalls() {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls},
			})
		case schema.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return nil, errors.New("unsupported message role: " + string(msg.Role))
		}
	}
	return out, nil
}

func openAITools(tools []schema.ToolDescriptor) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}

// openAIStream flattens OpenAI chunks into one Chunk per content, tool-call
// fragment or finish reason
type openAIStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	pending []Chunk
	current Chunk
}

func (s *openAIStream) Next() bool {
	for len(s.pending) == 0 {
		if !s.stream.Next() {
			return false
		}
		s.pending = splitOpenAIChunk(s.stream.Current())
	}
	s.current = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

func (s *openAIStream) Current() Chunk {
	return s.current
}

func (s *openAIStream) Err() error {
	err := s.stream.Err()
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return newProviderError(kindForStatus(apiErr.StatusCode), err)
	}
	return err
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func splitOpenAIChunk(ck openai.ChatCompletionChunk) []Chunk {
	var chunks []Chunk
	for _, ch := range ck.Choices {
		if ch.Index != 0 {
			continue
		}
		if ch.Delta.Content != "" {
			chunks = append(chunks, Chunk{Content: ch.Delta.Content})
		}
		for _, tc := range ch.Delta.ToolCalls {
			chunks = append(chunks, Chunk{ToolCall: &ToolCallDelta{
				Index:     int(tc.Index),
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}})
		}
		if ch.FinishReason != "" {
			chunks = append(chunks, Chunk{FinishReason: ch.FinishReason})
		}
	}
	return chunks
}
