package models

// RawTransaction is a transaction exactly as delivered by the open-banking
// aggregator. Amounts are signed major units (negative = money out).
type RawTransaction struct {
	TransactionID             string   `json:"transaction_id"`
	Description               string   `json:"description"`
	Amount                    float64  `json:"amount"`
	Currency                  string   `json:"currency"`
	TransactionType           string   `json:"transaction_type"` // CREDIT/DEBIT/STANDING_ORDER/DIRECT_DEBIT/FEE
	TransactionCategory       string   `json:"transaction_category,omitempty"`
	TransactionClassification []string `json:"transaction_classification,omitempty"`
	Timestamp                 string   `json:"timestamp"`
}

// NormalizedTransaction is the canonical intermediate form: absolute integer
// minor units, date-only timestamp, uppercased direction token.
type NormalizedTransaction struct {
	TransactionID  string   `json:"transaction_id"`
	Description    string   `json:"description"`
	AmountMinor    int64    `json:"amount_minor"` // always >= 0
	Currency       string   `json:"currency"`
	DirectionToken string   `json:"direction_token"`
	Classification []string `json:"classification,omitempty"`
	Date           string   `json:"date"` // YYYY-MM-DD
}

// EntryType values.
const (
	EntryIncoming = "incoming"
	EntryOutgoing = "outgoing"
)

// Budget buckets.
const (
	BudgetDebt          = "debt"
	BudgetFixed         = "fixed"
	BudgetDiscretionary = "discretionary"
	BudgetIncome        = "income"
	BudgetTransfer      = "transfer"
)

// Transaction types on the enriched record.
const (
	TxTypeRegular  = "regular"
	TxTypeTransfer = "transfer"
	TxTypeRefund   = "refund"
)

// Enrichment sources, named after the layer that settled the record.
const (
	SourceMathBrain     = "math_brain"     // Layer 0 deterministic transfer pairing
	SourceNtropy        = "ntropy"         // Layer 1 merchant enrichment
	SourceContextHunter = "context_hunter" // Layer 2 contextual evidence
	SourceSherlock      = "sherlock"       // Layer 3 LLM categorisation
)

// EnrichmentStage tracks where a transaction sits in the pipeline. Stages only
// ever advance; the queue refuses to re-enqueue ids past ntropy_done.
type EnrichmentStage string

const (
	StagePending           EnrichmentStage = "pending"
	StageNtropyDone        EnrichmentStage = "ntropy_done"
	StageAgenticQueued     EnrichmentStage = "agentic_queued"
	StageAgenticProcessing EnrichmentStage = "agentic_processing"
	StageAgenticDone       EnrichmentStage = "agentic_done"
	StageComplete          EnrichmentStage = "complete"
	StageFailed            EnrichmentStage = "failed"
)

// EnrichedTransaction is the output record of the cascade.
type EnrichedTransaction struct {
	TransactionID       string          `json:"transaction_id"`
	OriginalDescription string          `json:"original_description"`
	MerchantCleanName   string          `json:"merchant_clean_name,omitempty"`
	MerchantLogoURL     string          `json:"merchant_logo_url,omitempty"`
	MerchantWebsiteURL  string          `json:"merchant_website_url,omitempty"`
	Labels              []string        `json:"labels"`
	IsRecurring         bool            `json:"is_recurring"`
	RecurrenceFrequency string          `json:"recurrence_frequency,omitempty"`
	AmountMinor         int64           `json:"amount_minor"`
	Currency            string          `json:"currency"`
	EntryType           string          `json:"entry_type"` // incoming/outgoing
	BudgetCategory      string          `json:"budget_category"`
	TransactionDate     string          `json:"transaction_date"`
	NtropyConfidence    float64         `json:"ntropy_confidence"`
	AgenticConfidence   *float64        `json:"agentic_confidence,omitempty"`
	Stage               EnrichmentStage `json:"stage"`
	Source              string          `json:"enrichment_source,omitempty"`
	ReasoningTrace      []string        `json:"reasoning_trace,omitempty"`
	ContextData         map[string]any  `json:"context_data,omitempty"`
	NeedsReview         bool            `json:"needs_review"`
	ExcludeFromAnalysis bool            `json:"exclude_from_analysis"`
	TransactionType     string          `json:"transaction_type"` // regular/transfer/refund
	LinkedTransactionID string          `json:"linked_transaction_id,omitempty"`
}

// GhostPair links two transactions that net to zero across accounts within a
// two-day window — an internal transfer, invisible to budget analysis.
type GhostPair struct {
	FirstID  string `json:"first_id"`
	SecondID string `json:"second_id"`
}

// CatalogEntry is one row of the subscription catalog. Keyed by
// (lower(merchant), lower(product), amount_minor).
type CatalogEntry struct {
	MerchantName     string  `json:"merchant_name"`
	ProductName      string  `json:"product_name"`
	AmountMinor      int64   `json:"amount_minor"`
	Currency         string  `json:"currency"`
	RecurrencePeriod string  `json:"recurrence_period"`
	Category         string  `json:"category"`
	IsVerified       bool    `json:"is_verified"`
	ConfidenceScore  float64 `json:"confidence_score"`
}

// ReceiptRecord is an ingested email receipt, candidate for fuzzy matching
// against outgoing transactions.
type ReceiptRecord struct {
	ID           string `json:"id"`
	SenderEmail  string `json:"sender_email"`
	Subject      string `json:"subject"`
	ReceivedAt   string `json:"received_at"` // RFC3339 or YYYY-MM-DD
	MerchantName string `json:"merchant_name,omitempty"`
	AmountMinor  int64  `json:"amount_minor,omitempty"` // 0 = unknown
	Currency     string `json:"currency"`
}

// BudgetAnalysis holds monthly averages over the analysis window. All values
// stay in integer minor units.
type BudgetAnalysis struct {
	AverageMonthlyIncomeMinor int64 `json:"averageMonthlyIncomeCents"`
	FixedCostsMinor           int64 `json:"fixedCostsCents"`
	DiscretionaryMinor        int64 `json:"discretionaryCents"`
	DebtPaymentsMinor         int64 `json:"debtPaymentsCents"`
	SafeToSpendMinor          int64 `json:"safeToSpendCents"`
	AnalysisMonths            int   `json:"analysisMonths"`
}

// DetectedDebt is a deduplicated debt payment surfaced for user confirmation.
type DetectedDebt struct {
	Description         string `json:"description"`
	MerchantName        string `json:"merchant_name,omitempty"`
	AmountMinor         int64  `json:"amount_cents"`
	LogoURL             string `json:"logo_url,omitempty"`
	IsRecurring         bool   `json:"is_recurring"`
	RecurrenceFrequency string `json:"recurrence_frequency,omitempty"`
	TransactionID       string `json:"transaction_id,omitempty"`
}

// EnrichmentResultSet is the terminal payload of an enrichment invocation.
type EnrichmentResultSet struct {
	EnrichedTransactions []EnrichedTransaction `json:"enriched_transactions"`
	BudgetAnalysis       BudgetAnalysis        `json:"budget_analysis"`
	DetectedDebts        []DetectedDebt        `json:"detected_debts"`
	Warning              string                `json:"warning,omitempty"`
}
