package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/ciro-tutor/internal/session"
)

// Retriever looks up supporting documents for a handler's subquery.
type Retriever interface {
	Search(ctx context.Context, query, collection string, topK int) ([]session.Citation, error)
}

// RetrievalConfig describes how to reach the retrieval service.
type RetrievalConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RetrievalClient queries the retrieval service over HTTP.
type RetrievalClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Retriever = (*RetrievalClient)(nil)

func NewRetrievalClient(cfg RetrievalConfig) (*RetrievalClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("agents: retrieval base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RetrievalClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Source  string `json:"source"`
		Excerpt string `json:"excerpt"`
	} `json:"results"`
}

func (c *RetrievalClient) Search(ctx context.Context, query, collection string, topK int) ([]session.Citation, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	payload, err := json.Marshal(map[string]any{
		"query":      query,
		"collection": collection,
		"top_k":      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("agents: encode search payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("agents: build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agents: search request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("agents: read search response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("agents: search %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var decoded searchResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("agents: decode search response: %w", err)
	}
	out := make([]session.Citation, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.Source) == "" {
			continue
		}
		out = append(out, session.Citation{Title: r.Title, Source: r.Source, Excerpt: r.Excerpt})
	}
	return out, nil
}
