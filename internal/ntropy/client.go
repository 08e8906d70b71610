package ntropy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client talks to the merchant-enrichment provider's REST API. The provider
// caps concurrent enrichment operations at 10; callers enforce that bound.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

const defaultBaseURL = "https://api.ntropy.com"

// NewClient builds a provider client. An empty apiKey yields a client whose
// Available() is false; the cascade then runs in fallback mode.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Available reports whether live enrichment is configured.
func (c *Client) Available() bool {
	return c != nil && c.apiKey != ""
}

// EnrichRequest is a single transaction submitted for enrichment. Amount is
// in major units, as the provider expects.
type EnrichRequest struct {
	ID              string  `json:"id"`
	Description     string  `json:"description"`
	Amount          float64 `json:"amount"`
	EntryType       string  `json:"entry_type"`
	Currency        string  `json:"currency"`
	Date            string  `json:"date"`
	AccountHolderID string  `json:"account_holder_id"`
}

// Merchant is the provider's counterparty identification.
type Merchant struct {
	Name    string `json:"name"`
	Logo    string `json:"logo"`
	Website string `json:"website"`
}

// Recurrence is the provider's recurrence verdict for the account holder.
type Recurrence struct {
	IsRecurring bool   `json:"is_recurring"`
	Frequency   string `json:"frequency"`
}

// EnrichResponse is the subset of the provider payload the cascade consumes.
type EnrichResponse struct {
	ID         string      `json:"id"`
	Merchant   *Merchant   `json:"merchant"`
	Labels     []string    `json:"labels"`
	Recurrence *Recurrence `json:"recurrence"`
}

// EnsureAccountHolder idempotently creates the account holder the provider
// needs for recurrence detection. An "already exists" (409) response counts
// as success.
func (c *Client) EnsureAccountHolder(ctx context.Context, holderID, name, country string) error {
	if !c.Available() {
		return fmt.Errorf("enrichment provider not configured")
	}
	if country == "" {
		country = "GB"
	}

	body, _ := json.Marshal(map[string]any{
		"id":      holderID,
		"type":    "consumer",
		"name":    name,
		"country": country,
	})

	resp, err := c.post(ctx, "/v3/account_holders", body)
	if err != nil {
		return fmt.Errorf("account holder create: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		log.Printf("[Ntropy] Account holder %s... already exists", short(holderID))
		return nil
	}
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if strings.Contains(strings.ToLower(string(payload)), "already exists") {
			return nil
		}
		return fmt.Errorf("account holder create: status %d: %s", resp.StatusCode, payload)
	}
	log.Printf("[Ntropy] Created account holder %s...", short(holderID))
	return nil
}

// EnrichTransaction submits one transaction and decodes the provider verdict.
func (c *Client) EnrichTransaction(ctx context.Context, req EnrichRequest) (*EnrichResponse, error) {
	if !c.Available() {
		return nil, fmt.Errorf("enrichment provider not configured")
	}

	body, _ := json.Marshal(req)
	resp, err := c.post(ctx, "/v3/transactions", body)
	if err != nil {
		return nil, fmt.Errorf("enrich %s: %w", req.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("enrich %s: status %d: %s", req.ID, resp.StatusCode, payload)
	}

	var enriched EnrichResponse
	if err := json.NewDecoder(resp.Body).Decode(&enriched); err != nil {
		return nil, fmt.Errorf("enrich %s: decode: %w", req.ID, err)
	}
	return &enriched, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)
	return c.http.Do(req)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
