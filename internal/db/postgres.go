package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside the runtime image without shipping the .sql file.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Enrichment Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Enrichment schema initialized")
	return nil
}

// FindCandidates returns catalog entries whose merchant contains the query
// (case-insensitive) and whose price sits within toleranceMinor. Verified
// entries sort first, then closest price.
func (s *PostgresStore) FindCandidates(ctx context.Context, merchant string, amountMinor, toleranceMinor int64) ([]models.CatalogEntry, error) {
	sql := `
		SELECT merchant_name, product_name, amount_minor, currency,
		       recurrence_period, category, is_verified, confidence_score
		FROM subscription_catalog
		WHERE LOWER(merchant_name) LIKE '%' || LOWER($1) || '%'
		  AND ABS(amount_minor - $2) <= $3
		ORDER BY is_verified DESC, ABS(amount_minor - $2) ASC
		LIMIT 10;
	`
	rows, err := s.pool.Query(ctx, sql, merchant, amountMinor, toleranceMinor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.CatalogEntry
	for rows.Next() {
		var e models.CatalogEntry
		if err := rows.Scan(&e.MerchantName, &e.ProductName, &e.AmountMinor, &e.Currency,
			&e.RecurrencePeriod, &e.Category, &e.IsVerified, &e.ConfidenceScore); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertEntry writes a catalog row, last writer wins on the product key.
// A verified row is never downgraded by a learned one.
func (s *PostgresStore) UpsertEntry(ctx context.Context, entry models.CatalogEntry) error {
	sql := `
		INSERT INTO subscription_catalog
			(merchant_name, product_name, amount_minor, currency,
			 recurrence_period, category, is_verified, confidence_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (LOWER(merchant_name), LOWER(product_name), amount_minor) DO UPDATE SET
			currency = EXCLUDED.currency,
			recurrence_period = EXCLUDED.recurrence_period,
			category = EXCLUDED.category,
			is_verified = subscription_catalog.is_verified OR EXCLUDED.is_verified,
			confidence_score = EXCLUDED.confidence_score,
			updated_at = NOW();
	`
	_, err := s.pool.Exec(ctx, sql,
		entry.MerchantName, entry.ProductName, entry.AmountMinor, entry.Currency,
		entry.RecurrencePeriod, entry.Category, entry.IsVerified, entry.ConfidenceScore)
	return err
}

// SaveEnrichedTransaction upserts one enrichment record.
func (s *PostgresStore) SaveEnrichedTransaction(ctx context.Context, tx models.EnrichedTransaction) error {
	sql := `
		INSERT INTO enriched_transactions
			(transaction_id, original_description, merchant_clean_name, labels,
			 is_recurring, recurrence_frequency, amount_minor, currency, entry_type,
			 budget_category, transaction_date, ntropy_confidence, agentic_confidence,
			 enrichment_stage, enrichment_source, reasoning_trace, context_data,
			 needs_review, exclude_from_analysis, transaction_type, linked_transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (transaction_id) DO UPDATE SET
			merchant_clean_name = EXCLUDED.merchant_clean_name,
			labels = EXCLUDED.labels,
			is_recurring = EXCLUDED.is_recurring,
			recurrence_frequency = EXCLUDED.recurrence_frequency,
			budget_category = EXCLUDED.budget_category,
			ntropy_confidence = EXCLUDED.ntropy_confidence,
			agentic_confidence = EXCLUDED.agentic_confidence,
			enrichment_stage = EXCLUDED.enrichment_stage,
			enrichment_source = EXCLUDED.enrichment_source,
			reasoning_trace = EXCLUDED.reasoning_trace,
			context_data = EXCLUDED.context_data,
			needs_review = EXCLUDED.needs_review,
			exclude_from_analysis = EXCLUDED.exclude_from_analysis,
			transaction_type = EXCLUDED.transaction_type,
			linked_transaction_id = EXCLUDED.linked_transaction_id,
			updated_at = NOW();
	`
	var date any
	if tx.TransactionDate != "" {
		date = tx.TransactionDate
	}
	var linked any
	if tx.LinkedTransactionID != "" {
		linked = tx.LinkedTransactionID
	}
	_, err := s.pool.Exec(ctx, sql,
		tx.TransactionID, tx.OriginalDescription, tx.MerchantCleanName, tx.Labels,
		tx.IsRecurring, tx.RecurrenceFrequency, tx.AmountMinor, tx.Currency, tx.EntryType,
		tx.BudgetCategory, date, tx.NtropyConfidence, tx.AgenticConfidence,
		string(tx.Stage), tx.Source, tx.ReasoningTrace, tx.ContextData,
		tx.NeedsReview, tx.ExcludeFromAnalysis, tx.TransactionType, linked)
	return err
}

// UnmatchedReceipts returns ingested receipts not yet tied to a transaction,
// received within windowDays of the given date.
func (s *PostgresStore) UnmatchedReceipts(ctx context.Context, aroundDate string, windowDays int) ([]models.ReceiptRecord, error) {
	sql := `
		SELECT id, sender_email, subject, COALESCE(received_at::text, ''),
		       COALESCE(merchant_name, ''), amount_minor, currency
		FROM email_receipts
		WHERE matched_transaction_id IS NULL
		  AND received_at BETWEEN $1::date - $2 AND $1::date + $2
		ORDER BY received_at DESC
		LIMIT 100;
	`
	rows, err := s.pool.Query(ctx, sql, aroundDate, windowDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]models.ReceiptRecord, 0)
	for rows.Next() {
		var r models.ReceiptRecord
		if err := rows.Scan(&r.ID, &r.SenderEmail, &r.Subject, &r.ReceivedAt,
			&r.MerchantName, &r.AmountMinor, &r.Currency); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// MarkReceiptMatched ties a receipt to the transaction it paid for.
func (s *PostgresStore) MarkReceiptMatched(ctx context.Context, receiptID, transactionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE email_receipts SET matched_transaction_id = $2 WHERE id = $1`,
		receiptID, transactionID)
	return err
}

// GetPool exposes the connection pool for other subsystems
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
