// Package coretools provides the retrieval tools the advisor agent can call:
// document search against the vector service and web search against the
// search service.
package coretools

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/confer/pkg/toolexecutor"
)

// DefaultTimeout bounds each call to a backing service
const DefaultTimeout = 10 * time.Second

// Default service locations
const (
	DefaultVectorServiceURL = "http://vector-service:8004"
	DefaultSearchServiceURL = "http://search-service:8002"
	DefaultTopK             = 3
)

// Options configures core tool registration.
type Options struct {
	VectorServiceURL string
	SearchServiceURL string
	TopK             int
	Timeout          time.Duration
	HTTPClient       *http.Client

	// DisableDocuments and DisableWeb skip registering the respective tool
	DisableDocuments bool
	DisableWeb       bool
}

func (o Options) withDefaults() Options {
	if o.VectorServiceURL == "" {
		o.VectorServiceURL = DefaultVectorServiceURL
	}
	if o.SearchServiceURL == "" {
		o.SearchServiceURL = DefaultSearchServiceURL
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return o
}

// Register registers the enabled retrieval tools.
func Register(registry *toolexecutor.Registry, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	opts = opts.withDefaults()

	var tools []toolexecutor.Tool
	if !opts.DisableDocuments {
		tools = append(tools, NewDocumentSearch(opts))
	}
	if !opts.DisableWeb {
		tools = append(tools, NewWebSearch(opts))
	}

	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name(), err)
		}
	}
	return nil
}

func queryParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []string{"query"},
	}
}

func queryArgument(args map[string]any) (string, error) {
	q, ok := args["query"].(string)
	if !ok || q == "" {
		return "", errors.New("query must be a non-empty string")
	}
	return q, nil
}
