package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client wraps the Anthropic messages API. All callers expect strict-JSON
// answers; ExtractJSON tolerates markdown fencing and prose around the object.
type Client struct {
	apiKey string
	model  string
	http   *http.Client
}

const (
	messagesEndpoint = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
)

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		http:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Available reports whether LLM-backed reasoning is configured.
func (c *Client) Available() bool {
	return c != nil && c.apiKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends one user prompt and returns the concatenated text blocks.
// Temperature is pinned to 0; every use case wants deterministic JSON.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("llm not configured")
	}

	body, _ := json.Marshal(messagesRequest{
		Model:       c.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0,
		System:      system,
		Messages:    []message{{Role: "user", Content: prompt}},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm request: status %d: %s", resp.StatusCode, payload)
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("llm request: decode: %w", err)
	}

	var sb strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// ExtractJSON pulls the first JSON object out of an LLM reply, stripping
// markdown code fences if present.
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in reply")
	}
	return text[start : end+1], nil
}

// Categorization is the final-layer verdict on a still-ambiguous transaction.
type Categorization struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

const categorizeSystem = "You are a financial transaction analyst. Respond with a single JSON object and nothing else."

// CategorizeTransaction asks the model for a category verdict on a
// transaction no earlier layer could settle.
func (c *Client) CategorizeTransaction(ctx context.Context, description, merchant string, amountMinor int64, currency string) (*Categorization, error) {
	prompt := fmt.Sprintf(`Categorize this bank transaction.

Description: %s
Merchant: %s
Amount: %s %.2f

Respond with JSON: {"category": "<spending category>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`,
		description, merchant, currency, float64(amountMinor)/100)

	reply, err := c.Complete(ctx, categorizeSystem, prompt)
	if err != nil {
		return nil, err
	}
	raw, err := ExtractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("categorize: %w", err)
	}
	var verdict Categorization
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("categorize: parse: %w", err)
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return &verdict, nil
}

// SubscriptionVerdict is the search-evidence analysis for a possible
// subscription charge.
type SubscriptionVerdict struct {
	IsSubscription bool    `json:"is_subscription"`
	ProductName    string  `json:"product_name"`
	Confidence     float64 `json:"confidence"`
	Recurrence     string  `json:"recurrence"`
	Category       string  `json:"category"`
	Reasoning      string  `json:"reasoning"`
}

const subscriptionSystem = "You analyse web search results to decide whether a bank charge is a subscription. Respond with a single JSON object and nothing else."

// AnalyseSubscriptionEvidence asks the model whether search evidence supports
// a subscription at the charged price point.
func (c *Client) AnalyseSubscriptionEvidence(ctx context.Context, merchant string, amountMinor int64, currency, evidence string) (*SubscriptionVerdict, error) {
	prompt := fmt.Sprintf(`A bank transaction charged %s %.2f by merchant %q.

Web search evidence:
%s

Does the evidence show this is a subscription product at this price point?
Respond with JSON: {"is_subscription": <bool>, "product_name": "<name or empty>", "confidence": <0.0-1.0>, "recurrence": "<monthly|annual|weekly|unknown>", "category": "<spending category>", "reasoning": "<one sentence>"}`,
		currency, float64(amountMinor)/100, merchant, evidence)

	reply, err := c.Complete(ctx, subscriptionSystem, prompt)
	if err != nil {
		return nil, err
	}
	raw, err := ExtractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("subscription analysis: %w", err)
	}
	var verdict SubscriptionVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("subscription analysis: parse: %w", err)
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return &verdict, nil
}

// ParsedReceipt is the structured extraction from an email receipt body.
type ParsedReceipt struct {
	Merchant    string  `json:"merchant"`
	AmountMinor int64   `json:"amount_minor"`
	Currency    string  `json:"currency"`
	Date        string  `json:"date"`
	Items       string  `json:"items"`
	Confidence  float64 `json:"confidence"`
}

const receiptSystem = "You extract purchase details from email receipts. Respond with a single JSON object and nothing else."

// ParseReceipt extracts merchant, amount and date from a receipt email body.
// The body is truncated; receipts front-load the purchase summary.
func (c *Client) ParseReceipt(ctx context.Context, subject, from, body string) (*ParsedReceipt, error) {
	const maxBody = 4000
	if len(body) > maxBody {
		body = body[:maxBody]
	}

	prompt := fmt.Sprintf(`Extract the purchase from this email receipt.

Subject: %s
From: %s
Body:
%s

Respond with JSON: {"merchant": "<name>", "amount_minor": <integer minor units, e.g. pence>, "currency": "<ISO code>", "date": "<YYYY-MM-DD>", "items": "<short summary>", "confidence": <0.0-1.0>}`,
		subject, from, body)

	reply, err := c.Complete(ctx, receiptSystem, prompt)
	if err != nil {
		return nil, err
	}
	raw, err := ExtractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("receipt parse: %w", err)
	}
	var parsed ParsedReceipt
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("receipt parse: %w", err)
	}
	return &parsed, nil
}
