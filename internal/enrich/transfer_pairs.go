package enrich

import (
	"log"
	"time"

	"github.com/resolve-hq/enrichment-engine/internal/normalize"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// maxPairDateGapDays is the widest window across which two opposite legs of an
// internal transfer are still considered the same movement of money.
const maxPairDateGapDays = 2

// TransferDetection is the Layer 0 output: the ghost pairs found in a batch
// and a finished EnrichedTransaction for every pair member. Pair members are
// settled here with confidence 1.0 and never reach Layer 1.
type TransferDetection struct {
	Pairs    []models.GhostPair
	Enriched map[string]models.EnrichedTransaction // keyed by transaction id
}

// DetectTransferPairs scans a normalized batch for internal transfers: two
// transactions with equal minor-unit amounts, opposite directions and dates
// within two days of each other. Pairing is greedy in batch order; with three
// or more candidates at the same amount, the first opposite-direction match
// wins and any unmatched extras fall through to Layer 1.
func DetectTransferPairs(batch []models.NormalizedTransaction) TransferDetection {
	det := TransferDetection{
		Enriched: make(map[string]models.EnrichedTransaction),
	}

	// Bucket indices by amount so candidate scans stay inside one amount class.
	byAmount := make(map[int64][]int)
	for i, tx := range batch {
		byAmount[tx.AmountMinor] = append(byAmount[tx.AmountMinor], i)
	}

	paired := make(map[string]bool)

	for i, tx := range batch {
		if paired[tx.TransactionID] {
			continue
		}
		dir := normalize.EntryType(tx)

		for _, j := range byAmount[tx.AmountMinor] {
			if j <= i {
				continue
			}
			cand := batch[j]
			if paired[cand.TransactionID] || cand.TransactionID == tx.TransactionID {
				continue
			}
			if normalize.EntryType(cand) == dir {
				continue
			}
			if !withinDays(tx.Date, cand.Date, maxPairDateGapDays) {
				continue
			}

			paired[tx.TransactionID] = true
			paired[cand.TransactionID] = true
			det.Pairs = append(det.Pairs, models.GhostPair{
				FirstID:  tx.TransactionID,
				SecondID: cand.TransactionID,
			})
			det.Enriched[tx.TransactionID] = transferRecord(tx, dir, cand.TransactionID)
			det.Enriched[cand.TransactionID] = transferRecord(cand, normalize.EntryType(cand), tx.TransactionID)

			log.Printf("[Layer0] Ghost pair: %s <-> %s (%d minor units, %s / %s)",
				tx.TransactionID, cand.TransactionID, tx.AmountMinor, tx.Date, cand.Date)
			break
		}
	}

	return det
}

func transferRecord(tx models.NormalizedTransaction, entryType, peerID string) models.EnrichedTransaction {
	return models.EnrichedTransaction{
		TransactionID:       tx.TransactionID,
		OriginalDescription: tx.Description,
		Labels:              []string{"transfer", "internal"},
		AmountMinor:         tx.AmountMinor,
		Currency:            tx.Currency,
		EntryType:           entryType,
		BudgetCategory:      models.BudgetTransfer,
		TransactionDate:     tx.Date,
		NtropyConfidence:    1.0,
		Stage:               models.StageComplete,
		Source:              models.SourceMathBrain,
		ReasoningTrace:      []string{"[Layer 0] Matched opposite-direction transaction " + peerID + " at the same amount within 2 days"},
		ExcludeFromAnalysis: true,
		TransactionType:     models.TxTypeTransfer,
		LinkedTransactionID: peerID,
	}
}

func withinDays(a, b string, days int) bool {
	da, errA := time.Parse("2006-01-02", a)
	db, errB := time.Parse("2006-01-02", b)
	if errA != nil || errB != nil {
		return false
	}
	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(days)*24*time.Hour
}
