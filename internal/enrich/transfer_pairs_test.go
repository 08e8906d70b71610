package enrich

import (
	"testing"

	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

func normTx(id string, amountMinor int64, token, date string) models.NormalizedTransaction {
	return models.NormalizedTransaction{
		TransactionID:  id,
		Description:    "TRANSFER " + id,
		AmountMinor:    amountMinor,
		Currency:       "GBP",
		DirectionToken: token,
		Date:           date,
	}
}

func TestDetectTransferPairsBasic(t *testing.T) {
	batch := []models.NormalizedTransaction{
		normTx("out-1", 50000, "DEBIT", "2025-06-01"),
		normTx("grocery", 4312, "DEBIT", "2025-06-01"),
		normTx("in-1", 50000, "CREDIT", "2025-06-02"),
	}

	det := DetectTransferPairs(batch)

	if len(det.Pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(det.Pairs))
	}
	if det.Pairs[0].FirstID != "out-1" || det.Pairs[0].SecondID != "in-1" {
		t.Errorf("unexpected pair %+v", det.Pairs[0])
	}

	for _, id := range []string{"out-1", "in-1"} {
		rec, ok := det.Enriched[id]
		if !ok {
			t.Fatalf("no enriched record for %s", id)
		}
		if rec.NtropyConfidence != 1.0 {
			t.Errorf("%s confidence = %v, want 1.0", id, rec.NtropyConfidence)
		}
		if rec.Source != models.SourceMathBrain {
			t.Errorf("%s source = %q, want %q", id, rec.Source, models.SourceMathBrain)
		}
		if rec.Stage != models.StageComplete {
			t.Errorf("%s stage = %q, want complete", id, rec.Stage)
		}
		if !rec.ExcludeFromAnalysis {
			t.Errorf("%s should be excluded from analysis", id)
		}
		if rec.TransactionType != models.TxTypeTransfer {
			t.Errorf("%s type = %q, want transfer", id, rec.TransactionType)
		}
	}
	if det.Enriched["out-1"].LinkedTransactionID != "in-1" {
		t.Errorf("out-1 linked to %q, want in-1", det.Enriched["out-1"].LinkedTransactionID)
	}
	if _, ok := det.Enriched["grocery"]; ok {
		t.Error("unpaired transaction must not be settled by Layer 0")
	}
}

func TestDetectTransferPairsDateWindow(t *testing.T) {
	cases := []struct {
		name     string
		dateIn   string
		wantPair bool
	}{
		{"same day", "2025-06-01", true},
		{"two days apart", "2025-06-03", true},
		{"three days apart", "2025-06-04", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			det := DetectTransferPairs([]models.NormalizedTransaction{
				normTx("a", 10000, "DEBIT", "2025-06-01"),
				normTx("b", 10000, "CREDIT", tc.dateIn),
			})
			if (len(det.Pairs) == 1) != tc.wantPair {
				t.Errorf("pairs = %d, wantPair = %v", len(det.Pairs), tc.wantPair)
			}
		})
	}
}

func TestDetectTransferPairsSameDirectionNeverPairs(t *testing.T) {
	det := DetectTransferPairs([]models.NormalizedTransaction{
		normTx("a", 10000, "DEBIT", "2025-06-01"),
		normTx("b", 10000, "DEBIT", "2025-06-01"),
	})
	if len(det.Pairs) != 0 {
		t.Fatalf("same-direction transactions paired: %+v", det.Pairs)
	}
}

// Three candidates at one amount: greedy in-order pairing takes the first
// opposite-direction match and leaves the extra for Layer 1.
func TestDetectTransferPairsGreedyTriple(t *testing.T) {
	det := DetectTransferPairs([]models.NormalizedTransaction{
		normTx("out-a", 25000, "DEBIT", "2025-06-01"),
		normTx("in-a", 25000, "CREDIT", "2025-06-01"),
		normTx("in-b", 25000, "CREDIT", "2025-06-02"),
	})

	if len(det.Pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(det.Pairs))
	}
	if det.Pairs[0].SecondID != "in-a" {
		t.Errorf("greedy pairing should take in-a first, got %s", det.Pairs[0].SecondID)
	}
	if _, ok := det.Enriched["in-b"]; ok {
		t.Error("unmatched extra must fall through to Layer 1")
	}
}
