package budget

import (
	"strconv"
	"strings"
	"time"

	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// DefaultHorizonMonths is the analysis window: the last three complete
// calendar months. The current partial month would skew averages low, so it
// never counts.
const DefaultHorizonMonths = 3

// ComputeBreakdown averages the enriched batch into monthly budget figures.
// Only transactions dated inside the window contribute; internal transfers
// are already flagged exclude_from_analysis and are skipped. All arithmetic
// stays in integer minor units.
func ComputeBreakdown(txs []models.EnrichedTransaction, horizonMonths int, now time.Time) models.BudgetAnalysis {
	if horizonMonths <= 0 {
		horizonMonths = DefaultHorizonMonths
	}

	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	windowStart := currentMonth.AddDate(0, -horizonMonths, 0)

	var income, fixed, discretionary, debt int64

	for _, tx := range txs {
		if tx.ExcludeFromAnalysis {
			continue
		}
		day, err := time.Parse("2006-01-02", tx.TransactionDate)
		if err != nil {
			continue
		}
		if day.Before(windowStart) || !day.Before(currentMonth) {
			continue
		}

		// Direction decides income before any keyword category: an incoming
		// loan disbursement or insurance payout is income, not debt.
		if tx.EntryType == models.EntryIncoming {
			income += tx.AmountMinor
			continue
		}
		switch tx.BudgetCategory {
		case models.BudgetFixed:
			fixed += tx.AmountMinor
		case models.BudgetDebt:
			debt += tx.AmountMinor
		default:
			discretionary += tx.AmountMinor
		}
	}

	// Averages divide by the window's calendar months, not the months that
	// happen to have data: one month of history spread over a three-month
	// window is a low average, not a full one.
	months := horizonMonths
	divisor := int64(months)

	analysis := models.BudgetAnalysis{
		AverageMonthlyIncomeMinor: income / divisor,
		FixedCostsMinor:           fixed / divisor,
		DiscretionaryMinor:        discretionary / divisor,
		DebtPaymentsMinor:         debt / divisor,
		AnalysisMonths:            months,
	}

	safe := analysis.AverageMonthlyIncomeMinor - analysis.FixedCostsMinor - analysis.DebtPaymentsMinor
	if safe < 0 {
		safe = 0
	}
	analysis.SafeToSpendMinor = safe
	return analysis
}

// ExtractDetectedDebts surfaces debt-category transactions for user
// confirmation, deduplicated on (merchant-or-description, amount) so a
// monthly loan payment appears once.
func ExtractDetectedDebts(txs []models.EnrichedTransaction) []models.DetectedDebt {
	seen := make(map[string]bool)
	var debts []models.DetectedDebt

	for _, tx := range txs {
		if tx.ExcludeFromAnalysis || tx.BudgetCategory != models.BudgetDebt {
			continue
		}
		name := tx.MerchantCleanName
		if name == "" {
			name = tx.OriginalDescription
		}
		key := strings.ToLower(name) + "|" + strconv.FormatInt(tx.AmountMinor, 10)
		if seen[key] {
			continue
		}
		seen[key] = true

		debts = append(debts, models.DetectedDebt{
			Description:         tx.OriginalDescription,
			MerchantName:        tx.MerchantCleanName,
			AmountMinor:         tx.AmountMinor,
			LogoURL:             tx.MerchantLogoURL,
			IsRecurring:         tx.IsRecurring,
			RecurrenceFrequency: tx.RecurrenceFrequency,
			TransactionID:       tx.TransactionID,
		})
	}
	return debts
}
