package enrich

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/resolve-hq/enrichment-engine/internal/ntropy"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

type fakeProvider struct {
	mu        sync.Mutex
	responses map[string]*ntropy.EnrichResponse
	failIDs   map[string]bool
	inflight  atomic.Int64
	peak      atomic.Int64
}

func (f *fakeProvider) Available() bool { return true }

func (f *fakeProvider) EnsureAccountHolder(ctx context.Context, holderID, name, country string) error {
	return nil
}

func (f *fakeProvider) EnrichTransaction(ctx context.Context, req ntropy.EnrichRequest) (*ntropy.EnrichResponse, error) {
	cur := f.inflight.Add(1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	defer f.inflight.Add(-1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[req.ID] {
		return nil, errors.New("provider 500")
	}
	if resp, ok := f.responses[req.ID]; ok {
		return resp, nil
	}
	return &ntropy.EnrichResponse{ID: req.ID, Labels: []string{"other"}}, nil
}

func TestEnrichBatchOrderAndFallback(t *testing.T) {
	provider := &fakeProvider{
		responses: map[string]*ntropy.EnrichResponse{
			"tx-0": {
				ID:         "tx-0",
				Merchant:   &ntropy.Merchant{Name: "Netflix"},
				Labels:     []string{"streaming"},
				Recurrence: &ntropy.Recurrence{IsRecurring: true, Frequency: "monthly"},
			},
		},
		failIDs: map[string]bool{"tx-1": true},
	}
	enricher := NewLayer1Enricher(provider)

	batch := []models.NormalizedTransaction{
		{TransactionID: "tx-0", Description: "NETFLIX.COM", AmountMinor: 1099, Currency: "GBP", DirectionToken: "DIRECT_DEBIT", Date: "2025-06-01"},
		{TransactionID: "tx-1", Description: "DD BRITISH GAS", AmountMinor: 8200, Currency: "GBP", DirectionToken: "DIRECT_DEBIT", Date: "2025-06-01"},
		{TransactionID: "tx-2", Description: "CARD 9921", AmountMinor: 500, Currency: "GBP", DirectionToken: "DEBIT", Date: "2025-06-02"},
	}

	results := enricher.EnrichBatch(context.Background(), batch, "holder")

	if len(results) != len(batch) {
		t.Fatalf("results = %d, want %d", len(results), len(batch))
	}
	for i, rec := range results {
		if rec.TransactionID != batch[i].TransactionID {
			t.Errorf("result %d is %s, want %s (order must match input)", i, rec.TransactionID, batch[i].TransactionID)
		}
	}

	if results[0].NtropyConfidence != 1.0 {
		t.Errorf("tx-0 confidence = %v, want 1.0", results[0].NtropyConfidence)
	}
	if results[0].Source != models.SourceNtropy {
		t.Errorf("tx-0 source = %q, want ntropy", results[0].Source)
	}
	if results[0].NeedsReview {
		t.Error("tx-0 should not need review")
	}

	// The failed record degrades to the keyword fallback, not an error.
	if results[1].NtropyConfidence != FallbackKeywordConfidence {
		t.Errorf("tx-1 confidence = %v, want fallback %v", results[1].NtropyConfidence, FallbackKeywordConfidence)
	}
	if !results[1].NeedsReview {
		t.Error("tx-1 fallback must need review")
	}
}

func TestEnrichBatchBoundsProviderConcurrency(t *testing.T) {
	provider := &fakeProvider{}
	enricher := NewLayer1Enricher(provider)

	batch := make([]models.NormalizedTransaction, 40)
	for i := range batch {
		batch[i] = models.NormalizedTransaction{
			TransactionID:  "tx-" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			Description:    "X",
			AmountMinor:    100,
			DirectionToken: "DEBIT",
			Currency:       "GBP",
			Date:           "2025-06-01",
		}
	}

	enricher.EnrichBatch(context.Background(), batch, "holder")

	if peak := provider.peak.Load(); peak > maxInflightProviderCalls {
		t.Errorf("peak in-flight provider calls = %d, cap is %d", peak, maxInflightProviderCalls)
	}
}
