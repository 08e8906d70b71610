package budget

import (
	"testing"
	"time"

	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

func tx(id, date, category string, amountMinor int64) models.EnrichedTransaction {
	entry := models.EntryOutgoing
	if category == models.BudgetIncome {
		entry = models.EntryIncoming
	}
	return models.EnrichedTransaction{
		TransactionID:   id,
		AmountMinor:     amountMinor,
		BudgetCategory:  category,
		EntryType:       entry,
		TransactionDate: date,
	}
}

func TestComputeBreakdownWindowAndAverages(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	txs := []models.EnrichedTransaction{
		// March, April, May: the three complete months.
		tx("inc-mar", "2025-03-28", models.BudgetIncome, 300000),
		tx("inc-apr", "2025-04-28", models.BudgetIncome, 300000),
		tx("inc-may", "2025-05-28", models.BudgetIncome, 300000),
		tx("fix-apr", "2025-04-01", models.BudgetFixed, 90000),
		tx("fix-may", "2025-05-01", models.BudgetFixed, 90000),
		tx("debt-may", "2025-05-02", models.BudgetDebt, 30000),
		tx("disc-may", "2025-05-10", models.BudgetDiscretionary, 45000),
		// Current partial month: excluded.
		tx("inc-jun", "2025-06-10", models.BudgetIncome, 999999),
		// Before the window: excluded.
		tx("inc-feb", "2025-02-10", models.BudgetIncome, 999999),
	}

	got := ComputeBreakdown(txs, 3, now)

	if got.AnalysisMonths != 3 {
		t.Fatalf("analysis months = %d, want 3", got.AnalysisMonths)
	}
	if got.AverageMonthlyIncomeMinor != 300000 {
		t.Errorf("income = %d, want 300000", got.AverageMonthlyIncomeMinor)
	}
	if got.FixedCostsMinor != 60000 {
		t.Errorf("fixed = %d, want 60000", got.FixedCostsMinor)
	}
	if got.DebtPaymentsMinor != 10000 {
		t.Errorf("debt = %d, want 10000", got.DebtPaymentsMinor)
	}
	if got.DiscretionaryMinor != 15000 {
		t.Errorf("discretionary = %d, want 15000", got.DiscretionaryMinor)
	}
	if want := int64(300000 - 60000 - 10000); got.SafeToSpendMinor != want {
		t.Errorf("safe to spend = %d, want %d", got.SafeToSpendMinor, want)
	}
}

func TestComputeBreakdownSparseHistoryStillDividesByWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	// One month of history over a three-month window averages low.
	txs := []models.EnrichedTransaction{
		tx("inc", "2025-05-28", models.BudgetIncome, 250000),
		tx("fix", "2025-05-01", models.BudgetFixed, 80000),
	}

	got := ComputeBreakdown(txs, 3, now)

	if got.AnalysisMonths != 3 {
		t.Fatalf("analysis months = %d, want 3", got.AnalysisMonths)
	}
	if want := int64(250000 / 3); got.AverageMonthlyIncomeMinor != want {
		t.Errorf("income = %d, want %d", got.AverageMonthlyIncomeMinor, want)
	}
	if want := int64(80000 / 3); got.FixedCostsMinor != want {
		t.Errorf("fixed = %d, want %d", got.FixedCostsMinor, want)
	}
}

func TestComputeBreakdownIncomingOverridesKeywordCategory(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	// A loan disbursement trips the debt keywords but is money coming in.
	loan := tx("loan", "2025-05-05", models.BudgetDebt, 50000)
	loan.EntryType = models.EntryIncoming

	got := ComputeBreakdown([]models.EnrichedTransaction{loan}, 3, now)

	if got.DebtPaymentsMinor != 0 {
		t.Errorf("debt = %d, want 0 for an incoming record", got.DebtPaymentsMinor)
	}
	if want := int64(50000 / 3); got.AverageMonthlyIncomeMinor != want {
		t.Errorf("income = %d, want %d", got.AverageMonthlyIncomeMinor, want)
	}
}

func TestComputeBreakdownSafeToSpendNeverNegative(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	txs := []models.EnrichedTransaction{
		tx("inc", "2025-05-28", models.BudgetIncome, 100000),
		tx("fix", "2025-05-01", models.BudgetFixed, 150000),
	}

	got := ComputeBreakdown(txs, 3, now)

	if got.SafeToSpendMinor != 0 {
		t.Errorf("safe to spend = %d, want clamped 0", got.SafeToSpendMinor)
	}
}

func TestComputeBreakdownSkipsTransfers(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	transfer := tx("transfer", "2025-05-20", models.BudgetTransfer, 50000)
	transfer.ExcludeFromAnalysis = true
	txs := []models.EnrichedTransaction{
		tx("inc", "2025-05-28", models.BudgetIncome, 100000),
		transfer,
	}

	got := ComputeBreakdown(txs, 3, now)

	if want := int64(100000 / 3); got.AverageMonthlyIncomeMinor != want {
		t.Errorf("income = %d, transfers must not leak into totals", got.AverageMonthlyIncomeMinor)
	}
}

func TestExtractDetectedDebtsDeduplicates(t *testing.T) {
	klarna := models.EnrichedTransaction{
		TransactionID:     "d-1",
		MerchantCleanName: "Klarna",
		AmountMinor:       4500,
		BudgetCategory:    models.BudgetDebt,
		IsRecurring:       true,
	}
	klarnaAgain := klarna
	klarnaAgain.TransactionID = "d-2"
	other := models.EnrichedTransaction{
		TransactionID:       "d-3",
		OriginalDescription: "CAR FINANCE DD",
		AmountMinor:         21000,
		BudgetCategory:      models.BudgetDebt,
	}
	notDebt := models.EnrichedTransaction{
		TransactionID:  "x-1",
		AmountMinor:    500,
		BudgetCategory: models.BudgetDiscretionary,
	}

	debts := ExtractDetectedDebts([]models.EnrichedTransaction{klarna, klarnaAgain, other, notDebt})

	if len(debts) != 2 {
		t.Fatalf("debts = %d, want 2 (duplicate merchant+amount collapses)", len(debts))
	}
	if debts[0].MerchantName != "Klarna" || debts[0].AmountMinor != 4500 {
		t.Errorf("first debt = %+v", debts[0])
	}
	if debts[1].Description != "CAR FINANCE DD" {
		t.Errorf("second debt = %+v", debts[1])
	}
}
