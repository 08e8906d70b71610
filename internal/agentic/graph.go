package agentic

import (
	"context"
	"fmt"
	"strings"

	"github.com/resolve-hq/enrichment-engine/internal/enrich"
	"github.com/resolve-hq/enrichment-engine/internal/llm"
	"github.com/resolve-hq/enrichment-engine/internal/mail"
	"github.com/resolve-hq/enrichment-engine/internal/receipts"
	"github.com/resolve-hq/enrichment-engine/internal/subscription"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// The agentic graph is a fixed node chain:
//
//	subscription_match -> email_receipt -> event_correlation -> merge -> sherlock
//
// Evidence nodes vote; merge takes the strongest vote; sherlock only runs when
// the merged evidence stays below the cascade threshold. Nodes never fail the
// run: every error becomes a reasoning-trace line and the chain continues.

// emailReceiptConfidence is what a matched email receipt is worth: near
// certainty, short of a verified catalog hit.
const emailReceiptConfidence = 0.92

// SubscriptionMatcher is the subscription-evidence surface.
type SubscriptionMatcher interface {
	Match(ctx context.Context, merchant string, amountMinor int64, currency, description string) subscription.MatchResult
}

// MailSearcher fetches candidate receipt emails.
type MailSearcher interface {
	Available() bool
	SearchReceipts(ctx context.Context, grantID, merchant, txDate string) ([]mail.Message, error)
}

// Reasoner is the LLM surface the graph needs.
type Reasoner interface {
	Available() bool
	CategorizeTransaction(ctx context.Context, description, merchant string, amountMinor int64, currency string) (*llm.Categorization, error)
	ParseReceipt(ctx context.Context, subject, from, body string) (*llm.ParsedReceipt, error)
}

// Graph runs the contextual enrichment chain over one transaction.
type Graph struct {
	subs SubscriptionMatcher
	mail MailSearcher
	llm  Reasoner
}

func NewGraph(subs SubscriptionMatcher, mailer MailSearcher, reasoner Reasoner) *Graph {
	return &Graph{subs: subs, mail: mailer, llm: reasoner}
}

// Run executes the chain and returns the transaction with agentic fields set.
// The returned record is always stage agentic_done; run-level failure does not
// exist by construction.
func (g *Graph) Run(ctx context.Context, input TransactionInput) models.EnrichedTransaction {
	s := newState(input)

	g.runNode(s, "subscription_match", func() { g.subscriptionNode(ctx, s) })
	g.runNode(s, "email_receipt", func() { g.emailReceiptNode(ctx, s) })
	g.runNode(s, "event_correlation", func() { g.eventNode(s) })

	category, confidence := g.merge(s)
	source := ""
	if confidence >= enrich.CascadeThreshold {
		source = models.SourceContextHunter
	}

	if confidence < enrich.CascadeThreshold {
		g.runNode(s, "sherlock", func() {
			category, confidence, source = g.sherlockNode(ctx, s, category, confidence, source)
		})
	} else {
		s.addTrace(fmt.Sprintf("[Sherlock] Skipped - contextual evidence settled at %.2f", confidence))
	}

	out := input.Tx
	out.AgenticConfidence = &confidence
	out.Stage = models.StageAgenticDone
	out.NeedsReview = confidence < enrich.CascadeThreshold
	if source != "" {
		out.Source = source
	}
	if category != "" {
		out.ContextData = s.context
		out.ContextData["category"] = category
	} else if len(s.context) > 0 {
		out.ContextData = s.context
	}
	out.ReasoningTrace = append(out.ReasoningTrace, s.trace...)
	return out
}

// runNode shields the chain from a panicking node.
func (g *Graph) runNode(s *state, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.addTrace(fmt.Sprintf("[%s] Node panicked: %v", name, r))
		}
	}()
	fn()
}

func (g *Graph) subscriptionNode(ctx context.Context, s *state) {
	tx := s.input.Tx
	if g.subs == nil {
		s.addTrace("[Subscription] Matcher not wired - skipped")
		return
	}
	result := g.subs.Match(ctx, tx.MerchantCleanName, tx.AmountMinor, tx.Currency, tx.OriginalDescription)
	s.trace = append(s.trace, result.Trace...)
	if result.IsSubscription {
		s.vote("subscription_match", orCategory(result.Category, "subscriptions"), result.Confidence)
		s.context["subscription_product"] = result.ProductName
		if result.Recurrence != "" {
			s.context["subscription_recurrence"] = result.Recurrence
		}
	}
}

func (g *Graph) emailReceiptNode(ctx context.Context, s *state) {
	tx := s.input.Tx
	candidates := s.input.Receipts

	if len(candidates) == 0 {
		if g.mail == nil || !g.mail.Available() || s.input.EmailGrantID == "" {
			s.addTrace("[EmailReceipt] No mailbox access - skipped")
			return
		}
		fetched, err := g.fetchReceipts(ctx, s)
		if err != nil {
			s.addTrace(fmt.Sprintf("[EmailReceipt] Mailbox search failed: %v", err))
			return
		}
		candidates = fetched
	}

	if len(candidates) == 0 {
		s.addTrace("[EmailReceipt] No candidate receipts")
		return
	}

	match, ok := receipts.MatchTransactionToReceipt(tx, candidates)
	if !ok {
		s.addTrace(fmt.Sprintf("[EmailReceipt] %d candidates, none above threshold", len(candidates)))
		return
	}
	s.addTrace(fmt.Sprintf("[EmailReceipt] Matched %q (score %.2f: merchant %.2f, amount %.2f, date %.2f)",
		match.Receipt.Subject, match.Score, match.MerchantScore, match.AmountScore, match.DateScore))
	s.vote("email_receipt", "", emailReceiptConfidence)
	s.context["receipt_id"] = match.Receipt.ID
	s.context["receipt_subject"] = match.Receipt.Subject
}

// fetchReceipts pulls mailbox candidates and has the LLM lift amounts out of
// the bodies so the fuzzy matcher can score them.
func (g *Graph) fetchReceipts(ctx context.Context, s *state) ([]models.ReceiptRecord, error) {
	tx := s.input.Tx
	merchant := tx.MerchantCleanName
	if merchant == "" {
		merchant = tx.OriginalDescription
	}
	messages, err := g.mail.SearchReceipts(ctx, s.input.EmailGrantID, merchant, tx.TransactionDate)
	if err != nil {
		return nil, err
	}

	records := make([]models.ReceiptRecord, 0, len(messages))
	for _, msg := range messages {
		record := models.ReceiptRecord{
			ID:          msg.ID,
			SenderEmail: msg.Sender(),
			Subject:     msg.Subject,
			ReceivedAt:  msg.SentOn(),
			Currency:    tx.Currency,
		}
		if g.llm != nil && g.llm.Available() {
			if parsed, err := g.llm.ParseReceipt(ctx, msg.Subject, msg.Sender(), msg.Body); err == nil {
				record.MerchantName = parsed.Merchant
				record.AmountMinor = parsed.AmountMinor
				if parsed.Date != "" {
					record.ReceivedAt = parsed.Date
				}
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// ticketingMerchants tie a charge to a live event with high confidence; the
// platforms sell nothing else.
var ticketingMerchants = []string{
	"ticketmaster", "eventbrite", "dice.fm", "dice ", "seetickets",
	"see tickets", "skiddle", "axs", "gigantic", "twickets",
}

func (g *Graph) eventNode(s *state) {
	tx := s.input.Tx
	haystack := strings.ToLower(tx.MerchantCleanName + " " + tx.OriginalDescription)
	for _, m := range ticketingMerchants {
		if strings.Contains(haystack, m) {
			s.addTrace(fmt.Sprintf("[Events] Ticketing platform %q in transaction", strings.TrimSpace(m)))
			s.vote("event_correlation", "entertainment", 0.85)
			s.context["event_platform"] = strings.TrimSpace(m)
			return
		}
	}
	s.addTrace("[Events] No event correlation")
}

// merge takes the strongest vote across evidence nodes.
func (g *Graph) merge(s *state) (category string, confidence float64) {
	for _, c := range s.contributions {
		if c.Confidence > confidence {
			confidence = c.Confidence
			category = c.Category
		}
	}
	if len(s.contributions) == 0 {
		s.addTrace("[Merge] No contextual evidence collected")
	} else {
		s.addTrace(fmt.Sprintf("[Merge] %d contributions, strongest %.2f", len(s.contributions), confidence))
	}
	return category, confidence
}

func (g *Graph) sherlockNode(ctx context.Context, s *state, category string, confidence float64, source string) (string, float64, string) {
	tx := s.input.Tx
	if g.llm == nil || !g.llm.Available() {
		s.addTrace("[Sherlock] LLM unavailable - skipped")
		return category, confidence, source
	}

	verdict, err := g.llm.CategorizeTransaction(ctx, tx.OriginalDescription, tx.MerchantCleanName, tx.AmountMinor, tx.Currency)
	if err != nil {
		s.addTrace(fmt.Sprintf("[Sherlock] Categorisation failed: %v", err))
		return category, confidence, source
	}

	s.addTrace(fmt.Sprintf("[Sherlock] %s at %.2f: %s", verdict.Category, verdict.Confidence, verdict.Reasoning))
	if verdict.Confidence > confidence {
		return verdict.Category, verdict.Confidence, models.SourceSherlock
	}
	return category, confidence, source
}

func orCategory(category, fallback string) string {
	if strings.TrimSpace(category) == "" {
		return fallback
	}
	return category
}
