package enrich

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/resolve-hq/enrichment-engine/internal/normalize"
	"github.com/resolve-hq/enrichment-engine/internal/ntropy"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// Layer1BatchSize is how many transactions the orchestrator hands to Layer 1
// at once; progress is emitted per completed batch.
const Layer1BatchSize = 10

// maxInflightProviderCalls matches the provider's concurrent-operation cap.
const maxInflightProviderCalls = 10

// Provider is the external merchant-enrichment surface Layer 1 depends on.
type Provider interface {
	Available() bool
	EnsureAccountHolder(ctx context.Context, holderID, name, country string) error
	EnrichTransaction(ctx context.Context, req ntropy.EnrichRequest) (*ntropy.EnrichResponse, error)
}

// Layer1Enricher runs the merchant-enrichment layer over normalized batches.
type Layer1Enricher struct {
	provider Provider
}

func NewLayer1Enricher(provider Provider) *Layer1Enricher {
	return &Layer1Enricher{provider: provider}
}

// Available reports whether live provider enrichment can run.
func (e *Layer1Enricher) Available() bool {
	return e.provider != nil && e.provider.Available()
}

// EnsureAccountHolder must succeed (or no-op) before any transaction is
// submitted; the provider needs the holder for recurrence detection.
func (e *Layer1Enricher) EnsureAccountHolder(ctx context.Context, holderID, name, country string) error {
	if !e.Available() {
		return fmt.Errorf("provider unavailable")
	}
	return e.provider.EnsureAccountHolder(ctx, holderID, name, country)
}

// EnrichBatch enriches up to Layer1BatchSize transactions with bounded
// parallelism. Per-record failures degrade to the keyword fallback and never
// abort the batch; output order matches input order.
func (e *Layer1Enricher) EnrichBatch(ctx context.Context, batch []models.NormalizedTransaction, holderID string) []models.EnrichedTransaction {
	results := make([]models.EnrichedTransaction, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInflightProviderCalls)

	for i, tx := range batch {
		g.Go(func() error {
			resp, err := e.provider.EnrichTransaction(gctx, ntropy.EnrichRequest{
				ID:              tx.TransactionID,
				Description:     tx.Description,
				Amount:          float64(tx.AmountMinor) / 100,
				EntryType:       normalize.EntryType(tx),
				Currency:        tx.Currency,
				Date:            tx.Date,
				AccountHolderID: holderID,
			})
			if err != nil {
				log.Printf("[Layer1] Enrichment failed for %s: %v", tx.TransactionID, err)
				results[i] = FallbackEnrich(tx)
				return nil
			}
			results[i] = buildFromProvider(tx, resp)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures become fallback records

	return results
}

func buildFromProvider(tx models.NormalizedTransaction, resp *ntropy.EnrichResponse) models.EnrichedTransaction {
	var merchantName, logo, website string
	if resp.Merchant != nil {
		merchantName = resp.Merchant.Name
		logo = resp.Merchant.Logo
		website = resp.Merchant.Website
	}
	labels := resp.Labels
	if labels == nil {
		labels = []string{}
	}
	var isRecurring bool
	var frequency string
	if resp.Recurrence != nil {
		isRecurring = resp.Recurrence.IsRecurring
		frequency = resp.Recurrence.Frequency
	}

	conf := DeriveLayer1Confidence(merchantName, labels, isRecurring, tx.Description)
	entryType := normalize.EntryType(tx)

	enriched := models.EnrichedTransaction{
		TransactionID:       tx.TransactionID,
		OriginalDescription: tx.Description,
		MerchantCleanName:   merchantName,
		MerchantLogoURL:     logo,
		MerchantWebsiteURL:  website,
		Labels:              labels,
		IsRecurring:         isRecurring,
		RecurrenceFrequency: frequency,
		AmountMinor:         tx.AmountMinor,
		Currency:            tx.Currency,
		EntryType:           entryType,
		BudgetCategory:      ClassifyBudget(labels, tx.Description, isRecurring, entryType),
		TransactionDate:     tx.Date,
		NtropyConfidence:    conf,
		Stage:               models.StageNtropyDone,
		NeedsReview:         conf < CascadeThreshold,
		TransactionType:     models.TxTypeRegular,
		ReasoningTrace: []string{
			fmt.Sprintf("[Layer 1] Provider merchant=%q labels=%v recurring=%v", merchantName, labels, isRecurring),
			fmt.Sprintf("[Layer 1] Derived confidence %.2f", conf),
		},
	}
	if conf >= CascadeThreshold {
		enriched.Source = models.SourceNtropy
	}
	return enriched
}

// FallbackEnrich classifies a transaction without the provider: aggregator
// classifications become labels, recurrence comes from description keywords
// and confidence is pinned low so the agentic layers take over.
func FallbackEnrich(tx models.NormalizedTransaction) models.EnrichedTransaction {
	labels := tx.Classification
	if labels == nil {
		labels = []string{}
	}
	isRecurring := DetectRecurringDescription(tx.Description)
	frequency := ""
	if isRecurring {
		frequency = "monthly"
	}
	entryType := normalize.EntryType(tx)

	return models.EnrichedTransaction{
		TransactionID:       tx.TransactionID,
		OriginalDescription: tx.Description,
		Labels:              labels,
		IsRecurring:         isRecurring,
		RecurrenceFrequency: frequency,
		AmountMinor:         tx.AmountMinor,
		Currency:            tx.Currency,
		EntryType:           entryType,
		BudgetCategory:      ClassifyBudget(labels, tx.Description, isRecurring, entryType),
		TransactionDate:     tx.Date,
		NtropyConfidence:    FallbackKeywordConfidence,
		Stage:               models.StageNtropyDone,
		NeedsReview:         true,
		TransactionType:     models.TxTypeRegular,
		ReasoningTrace:      []string{"[Layer 1] Provider unavailable - keyword fallback classification"},
	}
}
