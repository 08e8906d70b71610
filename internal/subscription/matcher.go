package subscription

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/resolve-hq/enrichment-engine/internal/llm"
	"github.com/resolve-hq/enrichment-engine/internal/search"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// CatalogStore is the persistence surface the matcher needs. A nil store is
// legal; the matcher then skips straight to web evidence.
type CatalogStore interface {
	// FindCandidates returns entries whose merchant name contains the query
	// (case-insensitive) and whose amount is within toleranceMinor.
	FindCandidates(ctx context.Context, merchant string, amountMinor, toleranceMinor int64) ([]models.CatalogEntry, error)
	UpsertEntry(ctx context.Context, entry models.CatalogEntry) error
}

// Searcher abstracts the pricing-evidence search.
type Searcher interface {
	Available() bool
	SubscriptionPricing(ctx context.Context, merchant string, amountMajor float64, currency string) (*search.Results, error)
}

// Analyst abstracts the LLM verdict over search evidence.
type Analyst interface {
	Available() bool
	AnalyseSubscriptionEvidence(ctx context.Context, merchant string, amountMinor int64, currency, evidence string) (*llm.SubscriptionVerdict, error)
}

// writeBackToleranceMinor lets small price drift (promos, VAT changes) still
// hit the catalog when a verdict is being written back.
const writeBackToleranceMinor = 50

// upsertConfidenceFloor: only high-conviction verdicts earn a catalog row.
const upsertConfidenceFloor = 0.9

// Matcher resolves whether a charge is a known subscription product.
type Matcher struct {
	catalog CatalogStore
	search  Searcher
	llm     Analyst
}

func NewMatcher(catalog CatalogStore, searcher Searcher, analyst Analyst) *Matcher {
	return &Matcher{catalog: catalog, search: searcher, llm: analyst}
}

// MatchResult is the matcher's verdict plus the trail of how it got there.
type MatchResult struct {
	IsSubscription bool
	ProductName    string
	Confidence     float64
	Recurrence     string
	Category       string
	Trace          []string
}

// Match checks the catalog at the exact amount first, then falls back to web
// search plus LLM analysis. Cascade calls use the exact amount; tolerance only
// applies on the catalog write-back path.
func (m *Matcher) Match(ctx context.Context, merchant string, amountMinor int64, currency, description string) MatchResult {
	result := MatchResult{Confidence: 0.3}

	if merchant == "" {
		merchant = guessMerchant(description)
	}
	if merchant == "" {
		result.Trace = append(result.Trace, "[Subscription] No merchant name to match on")
		return result
	}

	if m.catalog != nil {
		entries, err := m.catalog.FindCandidates(ctx, merchant, amountMinor, 0)
		if err != nil {
			result.Trace = append(result.Trace, fmt.Sprintf("[Subscription] Catalog lookup failed: %v", err))
		} else if len(entries) > 0 {
			best := pickBest(entries, amountMinor)
			result.IsSubscription = true
			result.ProductName = best.ProductName
			result.Confidence = best.ConfidenceScore
			result.Recurrence = best.RecurrencePeriod
			result.Category = best.Category
			result.Trace = append(result.Trace,
				fmt.Sprintf("[Subscription] Catalog hit: %s / %s (verified=%v, confidence %.2f)",
					best.MerchantName, best.ProductName, best.IsVerified, best.ConfidenceScore))
			return result
		} else {
			result.Trace = append(result.Trace, fmt.Sprintf("[Subscription] No catalog entry for %q at %d", merchant, amountMinor))
		}
	}

	return m.matchViaSearch(ctx, merchant, amountMinor, currency, result)
}

func (m *Matcher) matchViaSearch(ctx context.Context, merchant string, amountMinor int64, currency string, result MatchResult) MatchResult {
	if m.search == nil || !m.search.Available() {
		result.Trace = append(result.Trace, "[Subscription] Web search unavailable - no verdict")
		return result
	}

	evidence, err := m.search.SubscriptionPricing(ctx, merchant, float64(amountMinor)/100, currency)
	if err != nil {
		result.Trace = append(result.Trace, fmt.Sprintf("[Subscription] Web search failed: %v", err))
		return result
	}
	result.Trace = append(result.Trace, fmt.Sprintf("[Subscription] Web search returned %d organic results", len(evidence.Organic)))

	if m.llm == nil || !m.llm.Available() {
		result.Trace = append(result.Trace, "[Subscription] LLM unavailable - evidence not analysed")
		return result
	}

	verdict, err := m.llm.AnalyseSubscriptionEvidence(ctx, merchant, amountMinor, currency, formatEvidence(evidence))
	if err != nil {
		result.Trace = append(result.Trace, fmt.Sprintf("[Subscription] LLM analysis failed: %v", err))
		return result
	}

	result.IsSubscription = verdict.IsSubscription
	result.ProductName = verdict.ProductName
	result.Confidence = verdict.Confidence
	result.Recurrence = verdict.Recurrence
	result.Category = verdict.Category
	result.Trace = append(result.Trace,
		fmt.Sprintf("[Subscription] LLM verdict: is_subscription=%v product=%q confidence %.2f (%s)",
			verdict.IsSubscription, verdict.ProductName, verdict.Confidence, verdict.Reasoning))

	if verdict.IsSubscription && verdict.Confidence >= upsertConfidenceFloor && m.catalog != nil {
		m.writeBack(ctx, merchant, amountMinor, currency, verdict, &result)
	}
	return result
}

// writeBack records a high-conviction verdict so future lookups skip the web.
// A close price match already in the catalog wins over inserting a near-dup.
func (m *Matcher) writeBack(ctx context.Context, merchant string, amountMinor int64, currency string, verdict *llm.SubscriptionVerdict, result *MatchResult) {
	existing, err := m.catalog.FindCandidates(ctx, merchant, amountMinor, writeBackToleranceMinor)
	if err == nil && len(existing) > 0 {
		result.Trace = append(result.Trace, "[Subscription] Close price match already in catalog - skipping upsert")
		return
	}

	entry := models.CatalogEntry{
		MerchantName:     merchant,
		ProductName:      orDefault(verdict.ProductName, "Standard"),
		AmountMinor:      amountMinor,
		Currency:         currency,
		RecurrencePeriod: verdict.Recurrence,
		Category:         verdict.Category,
		IsVerified:       false,
		ConfidenceScore:  verdict.Confidence,
	}
	if err := m.catalog.UpsertEntry(ctx, entry); err != nil {
		log.Printf("[Subscription] Catalog upsert failed for %s: %v", merchant, err)
		result.Trace = append(result.Trace, fmt.Sprintf("[Subscription] Catalog upsert failed: %v", err))
		return
	}
	result.Trace = append(result.Trace, fmt.Sprintf("[Subscription] Learned catalog entry %s / %s", entry.MerchantName, entry.ProductName))
}

// pickBest prefers verified entries, then the smallest price difference.
func pickBest(entries []models.CatalogEntry, amountMinor int64) models.CatalogEntry {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.IsVerified != best.IsVerified {
			if e.IsVerified {
				best = e
			}
			continue
		}
		if priceDiff(e, amountMinor) < priceDiff(best, amountMinor) {
			best = e
		}
	}
	return best
}

func priceDiff(e models.CatalogEntry, amountMinor int64) int64 {
	return int64(math.Abs(float64(e.AmountMinor - amountMinor)))
}

func formatEvidence(r *search.Results) string {
	var sb strings.Builder
	if r.KnowledgeGraph != nil {
		fmt.Fprintf(&sb, "Knowledge graph: %s - %s\n", r.KnowledgeGraph.Title, r.KnowledgeGraph.Description)
	}
	for i, hit := range r.Organic {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, hit.Title, hit.Snippet, hit.Link)
	}
	if sb.Len() == 0 {
		sb.WriteString("(no results)")
	}
	return sb.String()
}

// guessMerchant takes the leading token run of a raw description as a merchant
// guess when Layer 1 produced no cleaned name.
func guessMerchant(description string) string {
	fields := strings.Fields(description)
	keep := make([]string, 0, 3)
	for _, f := range fields {
		if strings.ContainsAny(f, "0123456789*#") {
			break
		}
		keep = append(keep, f)
		if len(keep) == 3 {
			break
		}
	}
	return strings.Join(keep, " ")
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
