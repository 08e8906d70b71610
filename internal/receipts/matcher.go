package receipts

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// Receipt-to-transaction matching: a weighted blend of merchant-name
// similarity (40%), amount proximity (35%) and date proximity (25%).

const (
	merchantWeight = 0.40
	amountWeight   = 0.35
	dateWeight     = 0.25

	// MatchThreshold is the minimum blended score for a receipt to be
	// considered the same purchase as a transaction.
	MatchThreshold = 0.6
)

var merchantSuffixes = []string{
	"ltd", "limited", "inc", "llc", "plc", ".com", ".co.uk",
	"uk", "gb", "online", "receipt", "order", "purchase",
}

var merchantPrefixes = []string{
	"www.", "receipt from ", "order from ", "payment to ",
}

// NormalizeMerchant lowercases a merchant string and strips boilerplate
// prefixes and legal suffixes so "Uber B.V." and "UBER *TRIP" compare close.
func NormalizeMerchant(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for changed := true; changed; {
		changed = false
		for _, p := range merchantPrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(strings.TrimPrefix(s, p))
				changed = true
			}
		}
		for _, suf := range merchantSuffixes {
			if strings.HasSuffix(s, suf) && len(s) > len(suf) {
				s = strings.TrimSpace(strings.TrimSuffix(s, suf))
				s = strings.TrimRight(s, ".,-")
				changed = true
			}
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// SimilarityRatio is the Ratcliff/Obershelp ratio over two strings:
// twice the matched character count over the combined length.
func SimilarityRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	return 2 * float64(matchingChars(a, b)) / float64(len(a)+len(b))
}

func matchingChars(a, b string) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingChars(a[:ai], b[:bi]) +
		matchingChars(a[ai+size:], b[bi+size:])
}

func longestCommonSubstring(a, b string) (ai, bi, size int) {
	// One row of the classic DP table is enough.
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 0; i < len(a); i++ {
		for j := 0; j < len(b); j++ {
			if a[i] == b[j] {
				cur[j+1] = prev[j] + 1
				if cur[j+1] > size {
					size = cur[j+1]
					ai = i - size + 1
					bi = j - size + 1
				}
			} else {
				cur[j+1] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}

// MerchantSimilarity scores how well a receipt's identity matches a
// transaction's merchant. The best of several comparisons wins: parsed
// merchant name, sender domain, sender local part, and a subject-line
// substring check that short-circuits at 0.9.
func MerchantSimilarity(txMerchant string, receipt models.ReceiptRecord) float64 {
	tx := NormalizeMerchant(txMerchant)
	if tx == "" {
		return 0.0
	}

	best := 0.0
	if receipt.MerchantName != "" {
		best = SimilarityRatio(tx, NormalizeMerchant(receipt.MerchantName))
	}

	if local, domain, ok := splitEmail(receipt.SenderEmail); ok {
		if s := SimilarityRatio(tx, NormalizeMerchant(domainBase(domain))); s > best {
			best = s
		}
		if s := SimilarityRatio(tx, NormalizeMerchant(local)); s > best {
			best = s
		}
	}

	if best < 0.9 && receipt.Subject != "" {
		if strings.Contains(strings.ToLower(receipt.Subject), tx) {
			best = 0.9
		}
	}
	return best
}

func splitEmail(addr string) (local, domain string, ok bool) {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}

// domainBase strips the TLD chain: "mail.uber.com" matches on "uber".
func domainBase(domain string) string {
	parts := strings.Split(domain, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return domain
}

// AmountSimilarity maps relative price difference to fixed bands. A receipt
// with no extracted amount scores neutral.
func AmountSimilarity(txMinor, receiptMinor int64) float64 {
	if receiptMinor == 0 {
		return 0.5
	}
	if txMinor == receiptMinor {
		return 1.0
	}
	if txMinor == 0 {
		return 0.0
	}
	rel := math.Abs(float64(txMinor-receiptMinor)) / float64(txMinor)
	switch {
	case rel <= 0.01:
		return 0.95
	case rel <= 0.02:
		return 0.85
	case rel <= 0.05:
		return 0.70
	case rel <= 0.10:
		return 0.50
	default:
		return 0.0
	}
}

// DateSimilarity scores the gap in days between receipt date and transaction
// date. Positive means the receipt arrived after the charge; card settlement
// lag makes small positive gaps normal.
func DateSimilarity(txDate, receiptDate string) float64 {
	tx, err1 := parseDay(txDate)
	rc, err2 := parseDay(receiptDate)
	if err1 != nil || err2 != nil {
		return 0.5
	}
	days := int(rc.Sub(tx).Hours() / 24)
	switch {
	case days == 0:
		return 1.0
	case days == 1:
		return 0.95
	case days >= 2 && days <= 3:
		return 0.85
	case days >= 4 && days <= 7:
		return 0.70
	case days == -1:
		return 0.80
	case days > 7:
		return 0.30
	default: // receipt more than a day before the charge
		return 0.20
	}
}

func parseDay(s string) (time.Time, error) {
	if len(s) > 10 {
		s = s[:10]
	}
	return time.Parse("2006-01-02", s)
}

// Match pairs one receipt with one transaction.
type Match struct {
	Receipt       models.ReceiptRecord
	Score         float64
	MerchantScore float64
	AmountScore   float64
	DateScore     float64
}

// ScoreReceipt computes the blended score for one transaction/receipt pair.
func ScoreReceipt(tx models.EnrichedTransaction, receipt models.ReceiptRecord) Match {
	merchant := tx.MerchantCleanName
	if merchant == "" {
		merchant = tx.OriginalDescription
	}
	m := MerchantSimilarity(merchant, receipt)
	a := AmountSimilarity(tx.AmountMinor, receipt.AmountMinor)
	d := DateSimilarity(tx.TransactionDate, receipt.ReceivedAt)
	return Match{
		Receipt:       receipt,
		Score:         merchantWeight*m + amountWeight*a + dateWeight*d,
		MerchantScore: m,
		AmountScore:   a,
		DateScore:     d,
	}
}

// MatchTransactionToReceipt returns the best-scoring receipt at or above the
// threshold, or ok=false.
func MatchTransactionToReceipt(tx models.EnrichedTransaction, candidates []models.ReceiptRecord) (Match, bool) {
	var best Match
	ok := false
	for _, r := range candidates {
		m := ScoreReceipt(tx, r)
		if m.Score >= MatchThreshold && (!ok || m.Score > best.Score) {
			best = m
			ok = true
		}
	}
	return best, ok
}

// AssignReceipts pairs receipts to transactions greedily, newest transaction
// first, consuming each receipt at most once.
func AssignReceipts(txs []models.EnrichedTransaction, receipts []models.ReceiptRecord) map[string]Match {
	order := make([]int, len(txs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return txs[order[a]].TransactionDate > txs[order[b]].TransactionDate
	})

	used := make(map[string]bool, len(receipts))
	assigned := make(map[string]Match)

	for _, idx := range order {
		tx := txs[idx]
		free := receipts[:0:0]
		for _, r := range receipts {
			if !used[r.ID] {
				free = append(free, r)
			}
		}
		if m, ok := MatchTransactionToReceipt(tx, free); ok {
			used[m.Receipt.ID] = true
			assigned[tx.TransactionID] = m
		}
	}
	return assigned
}
