package coretools

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DocumentSearch queries the vector service for relevant document chunks
type DocumentSearch struct {
	baseURL string
	topK    int
	timeout time.Duration
	client  *http.Client
}

// NewDocumentSearch creates the search_documents tool
func NewDocumentSearch(opts Options) *DocumentSearch {
	opts = opts.withDefaults()
	return &DocumentSearch{
		baseURL: opts.VectorServiceURL,
		topK:    opts.TopK,
		timeout: opts.Timeout,
		client:  opts.HTTPClient,
	}
}

func (d *DocumentSearch) Name() string { return "search_documents" }

func (d *DocumentSearch) Description() string {
	return "Search through financial documents for investment options, strategy and historical data"
}

func (d *DocumentSearch) Parameters() map[string]any { return queryParameters() }

func (d *DocumentSearch) Timeout() time.Duration { return d.timeout }

type queryResponse struct {
	Documents []struct {
		Content string `json:"content"`
	} `json:"documents"`
}

// Execute returns the matching document contents separated by blank lines
func (d *DocumentSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, err := queryArgument(args)
	if err != nil {
		return "", fmt.Errorf("document search failed: %w", err)
	}

	log.Info().Str("query", query).Msg("Querying vector service")

	var resp queryResponse
	payload := map[string]any{"query": query, "k": d.topK}
	if err := postJSON(ctx, d.client, endpoint(d.baseURL, "/query"), payload, &resp); err != nil {
		log.Error().Err(err).Msg("Vector service query failed")
		return "", fmt.Errorf("document search failed: %w", err)
	}

	contents := make([]string, 0, len(resp.Documents))
	for _, doc := range resp.Documents {
		contents = append(contents, doc.Content)
	}
	return strings.Join(contents, "\n\n"), nil
}
