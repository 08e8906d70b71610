package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client queries the Serper web-search API for subscription pricing evidence.
type Client struct {
	apiKey string
	url    string
	http   *http.Client
}

const defaultEndpoint = "https://google.serper.dev/search"

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		url:    defaultEndpoint,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Available reports whether web search is configured.
func (c *Client) Available() bool {
	return c != nil && c.apiKey != ""
}

// OrganicResult is one ranked search hit.
type OrganicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// KnowledgeGraph is the side-panel entity summary, when present.
type KnowledgeGraph struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Results holds the subset of the Serper payload the matcher consumes.
type Results struct {
	Organic        []OrganicResult `json:"organic"`
	KnowledgeGraph *KnowledgeGraph `json:"knowledgeGraph"`
}

// SubscriptionPricing searches for pricing evidence tying a merchant to a
// subscription at a specific price point.
func (c *Client) SubscriptionPricing(ctx context.Context, merchant string, amountMajor float64, currency string) (*Results, error) {
	query := fmt.Sprintf("%s subscription price %s %.2f", merchant, currency, amountMajor)
	return c.search(ctx, query)
}

func (c *Client) search(ctx context.Context, query string) (*Results, error) {
	if !c.Available() {
		return nil, fmt.Errorf("search provider not configured")
	}

	body, _ := json.Marshal(map[string]string{"q": query, "gl": "gb"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search %q: status %d: %s", query, resp.StatusCode, payload)
	}

	var results Results
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("search %q: decode: %w", query, err)
	}
	// The matcher only reads the top 5 organic snippets.
	if len(results.Organic) > 5 {
		results.Organic = results.Organic[:5]
	}
	return &results, nil
}
