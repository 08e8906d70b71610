package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client fetches candidate receipt emails through the Nylas messages API.
// Parsing the receipt body into structured fields is the LLM's job; this
// package only retrieves and filters messages.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

const defaultBaseURL = "https://api.us.nylas.com"

func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Available reports whether email retrieval is configured.
func (c *Client) Available() bool {
	return c != nil && c.apiKey != ""
}

// Message is one email returned from the provider.
type Message struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"from"`
	Date int64  `json:"date"`
	Body string `json:"body"`
}

// Sender returns the first from address, or empty.
func (m Message) Sender() string {
	if len(m.From) > 0 {
		return m.From[0].Email
	}
	return ""
}

// SentOn returns the message date as YYYY-MM-DD in UTC.
func (m Message) SentOn() string {
	return time.Unix(m.Date, 0).UTC().Format("2006-01-02")
}

type messagesPage struct {
	Data []Message `json:"data"`
}

// SearchReceipts pulls messages around a transaction date that look like
// receipts from the given merchant. The window covers seven days back and one
// day forward, matching how far a receipt email can drift from the charge.
func (c *Client) SearchReceipts(ctx context.Context, grantID, merchant, txDate string) ([]Message, error) {
	if !c.Available() {
		return nil, fmt.Errorf("mail provider not configured")
	}
	day, err := time.Parse("2006-01-02", txDate)
	if err != nil {
		return nil, fmt.Errorf("search receipts: bad date %q: %w", txDate, err)
	}

	q := url.Values{}
	q.Set("search_query_native", fmt.Sprintf("%s receipt OR order OR payment", merchant))
	q.Set("received_after", fmt.Sprintf("%d", day.AddDate(0, 0, -7).Unix()))
	q.Set("received_before", fmt.Sprintf("%d", day.AddDate(0, 0, 2).Unix()))
	q.Set("limit", "20")

	endpoint := fmt.Sprintf("%s/v3/grants/%s/messages?%s", c.baseURL, url.PathEscape(grantID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search receipts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search receipts: status %d: %s", resp.StatusCode, payload)
	}

	var page messagesPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("search receipts: decode: %w", err)
	}
	return page.Data, nil
}
