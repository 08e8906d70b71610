package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// ErrBadInput is returned when a raw record carries none of the fields needed
// to identify it.
type ErrBadInput struct {
	Reason string
}

func (e ErrBadInput) Error() string {
	return fmt.Sprintf("bad input record: %s", e.Reason)
}

var outgoingTypes = map[string]bool{
	"DEBIT":          true,
	"STANDING_ORDER": true,
	"DIRECT_DEBIT":   true,
	"FEE":            true,
}

// Normalize converts a raw aggregator record into the canonical intermediate
// form: absolute integer minor units, 10-char date, uppercased direction token.
// A missing id is derived from a stable hash of the description so repeated
// submissions of the same batch stay idempotent.
func Normalize(raw models.RawTransaction) (models.NormalizedTransaction, error) {
	if raw.TransactionID == "" && raw.Description == "" && raw.Amount == 0 {
		return models.NormalizedTransaction{}, ErrBadInput{Reason: "no id, description or amount"}
	}

	id := raw.TransactionID
	if id == "" {
		id = deriveID(raw.Description)
	}

	currency := raw.Currency
	if currency == "" {
		currency = "GBP"
	}

	return models.NormalizedTransaction{
		TransactionID:  id,
		Description:    raw.Description,
		AmountMinor:    int64(math.Round(math.Abs(raw.Amount) * 100)),
		Currency:       currency,
		DirectionToken: strings.ToUpper(raw.TransactionType),
		Classification: raw.TransactionClassification,
		Date:           truncateDate(raw.Timestamp),
	}, nil
}

// NormalizeBatch normalizes every record, failing on the first unusable one.
func NormalizeBatch(raw []models.RawTransaction) ([]models.NormalizedTransaction, error) {
	out := make([]models.NormalizedTransaction, 0, len(raw))
	for i, r := range raw {
		n, err := Normalize(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// EntryType resolves incoming/outgoing from the direction token. Unknown
// tokens default to outgoing unless explicitly CREDIT — safer for budget
// analysis to overcount expenses than income.
func EntryType(tx models.NormalizedTransaction) string {
	if tx.DirectionToken == "CREDIT" {
		return models.EntryIncoming
	}
	if outgoingTypes[tx.DirectionToken] {
		return models.EntryOutgoing
	}
	return models.EntryOutgoing
}

// HashUserID derives the account-holder id sent to the enrichment provider.
// Truncated sha256 keeps the raw user id out of third-party systems.
func HashUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])[:32]
}

func deriveID(description string) string {
	sum := sha256.Sum256([]byte(description))
	return "derived-" + hex.EncodeToString(sum[:])[:16]
}

func truncateDate(timestamp string) string {
	if idx := strings.Index(timestamp, "T"); idx >= 0 {
		return timestamp[:idx]
	}
	if len(timestamp) >= 10 {
		return timestamp[:10]
	}
	return timestamp
}
