package completion

import (
	"fmt"
	"strings"
)

// BackendOptions holds vendor-neutral backend settings
type BackendOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
}

// Default backend settings
const (
	DefaultOpenAIModel    = "gpt-3.5-turbo"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 4000
)

// NewBackend creates a backend by provider name
func NewBackend(name string, opts BackendOptions) (Backend, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key is required for provider %q", name)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	switch strings.ToLower(name) {
	case "openai":
		if opts.Model == "" {
			opts.Model = DefaultOpenAIModel
		}
		return NewOpenAIBackend(opts), nil
	case "anthropic":
		if opts.Model == "" {
			opts.Model = DefaultAnthropicModel
		}
		return NewAnthropicBackend(opts), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
