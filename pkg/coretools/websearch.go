package coretools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// WebSearch queries the search service for current market information
type WebSearch struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewWebSearch creates the search_web tool
func NewWebSearch(opts Options) *WebSearch {
	opts = opts.withDefaults()
	return &WebSearch{
		baseURL: opts.SearchServiceURL,
		timeout: opts.Timeout,
		client:  opts.HTTPClient,
	}
}

func (w *WebSearch) Name() string { return "search_web" }

func (w *WebSearch) Description() string {
	return "Get current market data and investment opportunities"
}

func (w *WebSearch) Parameters() map[string]any { return queryParameters() }

func (w *WebSearch) Timeout() time.Duration { return w.timeout }

type searchResponse struct {
	Results json.RawMessage `json:"results"`
}

// Execute returns the search service results as text
func (w *WebSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, err := queryArgument(args)
	if err != nil {
		return "", fmt.Errorf("web search failed: %w", err)
	}

	log.Info().Str("query", query).Msg("Querying search service")

	var resp searchResponse
	if err := postJSON(ctx, w.client, endpoint(w.baseURL, "/search"), map[string]any{"query": query}, &resp); err != nil {
		log.Error().Err(err).Msg("Search service query failed")
		return "", fmt.Errorf("web search failed: %w", err)
	}

	return resultsText(resp.Results), nil
}

// resultsText returns string results as-is and any other JSON verbatim
func resultsText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
