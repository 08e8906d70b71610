package enrich

import (
	"strings"

	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// Keyword sets for the budget triage. Matching is substring over the
// lowercased join of labels and description, so multi-word tokens like
// "council tax" work without tokenisation.

var debtKeywords = []string{
	"loan", "mortgage", "finance", "bnpl", "buy now pay later",
	"credit card", "overdraft", "klarna", "clearpay", "afterpay",
	"laybuy", "paypal credit", "very pay", "littlewoods", "studio",
	"car finance", "personal loan", "debt collection", "debt recovery",
}

var fixedCostKeywords = []string{
	"utilities", "utility", "gas", "electric", "electricity", "water",
	"council tax", "insurance", "home insurance", "car insurance",
	"life insurance", "health insurance", "subscription", "membership",
	"gym", "streaming", "netflix", "spotify", "amazon prime", "disney+",
	"rent", "mortgage payment", "broadband", "internet", "phone", "mobile",
	"tv license", "childcare", "nursery", "school fees",
}

var recurringDescriptionKeywords = []string{
	"dd ", "direct debit", "standing order", "s/o",
	"subscription", "monthly", "recurring",
}

// ClassifyBudget triages a transaction into a budget bucket using ordered
// keyword rules. Transfers never reach this function; Layer 0 tags them first.
func ClassifyBudget(labels []string, description string, isRecurring bool, entryType string) string {
	parts := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		parts = append(parts, strings.ToLower(l))
	}
	parts = append(parts, strings.ToLower(description))
	combined := strings.Join(parts, " ")

	for _, kw := range debtKeywords {
		if strings.Contains(combined, kw) {
			return models.BudgetDebt
		}
	}
	for _, kw := range fixedCostKeywords {
		if strings.Contains(combined, kw) {
			return models.BudgetFixed
		}
	}
	if isRecurring && entryType == models.EntryOutgoing {
		return models.BudgetFixed
	}
	if entryType == models.EntryOutgoing {
		return models.BudgetDiscretionary
	}
	return models.BudgetIncome
}

// DetectRecurringDescription is the fallback recurrence heuristic used when
// the enrichment provider is unavailable.
func DetectRecurringDescription(description string) bool {
	descLower := strings.ToLower(description)
	for _, kw := range recurringDescriptionKeywords {
		if strings.Contains(descLower, kw) {
			return true
		}
	}
	return false
}
