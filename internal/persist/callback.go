package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// Notifier pushes per-transaction enrichment updates back to the main
// application as each agentic run completes, so the UI can fill in records
// without waiting for the whole batch.
type Notifier struct {
	baseURL string
	http    *http.Client
}

func NewNotifier(baseURL string) *Notifier {
	return &Notifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Available reports whether a callback target is configured.
func (n *Notifier) Available() bool {
	return n != nil && n.baseURL != ""
}

type update struct {
	TransactionID     string         `json:"transaction_id"`
	EnrichmentStage   string         `json:"enrichment_stage"`
	AgenticConfidence *float64       `json:"agentic_confidence,omitempty"`
	EnrichmentSource  string         `json:"enrichment_source,omitempty"`
	IsSubscription    bool           `json:"is_subscription"`
	ContextData       map[string]any `json:"context_data,omitempty"`
	ReasoningTrace    []string       `json:"reasoning_trace,omitempty"`
}

// NotifyEnriched posts one completed record. Delivery is best effort: a
// failed callback is logged and the pipeline moves on.
func (n *Notifier) NotifyEnriched(ctx context.Context, tx models.EnrichedTransaction) {
	if !n.Available() {
		return
	}

	_, isSub := tx.ContextData["subscription_product"]
	body, _ := json.Marshal(update{
		TransactionID:     tx.TransactionID,
		EnrichmentStage:   string(tx.Stage),
		AgenticConfidence: tx.AgenticConfidence,
		EnrichmentSource:  tx.Source,
		IsSubscription:    isSub,
		ContextData:       tx.ContextData,
		ReasoningTrace:    tx.ReasoningTrace,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/internal/enrichment-update", bytes.NewReader(body))
	if err != nil {
		log.Printf("[Persist] Callback build failed for %s: %v", tx.TransactionID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		log.Printf("[Persist] Callback failed for %s: %v", tx.TransactionID, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 300 {
		log.Printf("[Persist] Callback for %s returned status %d", tx.TransactionID, resp.StatusCode)
	}
}
