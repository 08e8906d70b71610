package enrich

import (
	"math"
	"strings"
)

// Layer 1 confidence derivation. The enrichment provider does not return a
// usable quality signal, so confidence is derived deterministically from the
// shape of its response and then discounted for known ambiguity patterns.

const (
	baseConfidence    = 0.70
	merchantBonus     = 0.10
	specificBonus     = 0.10
	recurrenceBonus   = 0.10
	CascadeThreshold  = 0.80 // tau: layers below this hand over to the next layer
	FallbackKeywordConfidence = 0.30
)

// genericLabels maps each generic label to its ambiguity penalty factor.
// A record whose labels are all generic is discounted by the smallest
// matching factor.
var genericLabels = map[string]float64{
	"retail":        0.7,
	"services":      0.7,
	"general":       0.6,
	"other":         0.5,
	"miscellaneous": 0.5,
	"purchase":      0.7,
	"payment":       0.7,
	"transfer":      0.6,
	"unknown":       0.3,
	"uncategorized": 0.3,
}

// marketplaceMerchants are marketplaces and processors whose cleaned name says
// nothing about the true counterparty.
var marketplaceMerchants = []string{"amazon", "paypal", "ebay", "tesco", "walmart", "target"}

// processorTokens are payment-processor fingerprints scanned for in the
// ORIGINAL description. These apply even when the provider cleaned the
// merchant, because the processor masks the true counterparty.
var processorTokens = map[string]float64{
	"paypal":   0.5,
	"amazon":   0.5,
	"ebay":     0.5,
	"klarna":   0.6,
	"clearpay": 0.6,
	"afterpay": 0.6,
}

// DeriveLayer1Confidence scores a successful provider response in [0,1].
func DeriveLayer1Confidence(merchantName string, labels []string, isRecurring bool, originalDescription string) float64 {
	conf := baseConfidence

	if len(strings.TrimSpace(merchantName)) >= 3 {
		conf += merchantBonus
	}
	if hasSpecificLabel(labels) {
		conf += specificBonus
	}
	if isRecurring {
		conf += recurrenceBonus
	}
	if conf > 1.0 {
		conf = 1.0
	}

	if factor, penalised := ambiguityFactor(merchantName, labels, originalDescription); penalised {
		conf *= factor
	}
	// Scores are two-decimal bands; strip float64 summation noise so a
	// fully-bonused record reads exactly 1.0.
	return math.Round(conf*100) / 100
}

// hasSpecificLabel reports whether at least one label falls outside the
// generic set.
func hasSpecificLabel(labels []string) bool {
	for _, l := range labels {
		if _, generic := genericLabels[strings.ToLower(strings.TrimSpace(l))]; !generic && l != "" {
			return true
		}
	}
	return false
}

// ambiguityFactor collects every applicable penalty and returns the smallest,
// so a PayPal purchase with vague labels is not discounted twice.
func ambiguityFactor(merchantName string, labels []string, originalDescription string) (float64, bool) {
	smallest := 1.0
	found := false

	merchantLower := strings.ToLower(merchantName)
	for _, m := range marketplaceMerchants {
		if merchantLower != "" && strings.Contains(merchantLower, m) {
			if 0.5 < smallest {
				smallest = 0.5
			}
			found = true
			break
		}
	}

	if len(labels) > 0 && !hasSpecificLabel(labels) {
		labelFactor := 1.0
		for _, l := range labels {
			if f, ok := genericLabels[strings.ToLower(strings.TrimSpace(l))]; ok && f < labelFactor {
				labelFactor = f
			}
		}
		if labelFactor < smallest {
			smallest = labelFactor
		}
		found = true
	}

	descLower := strings.ToLower(originalDescription)
	for token, f := range processorTokens {
		if strings.Contains(descLower, token) {
			if f < smallest {
				smallest = f
			}
			found = true
		}
	}

	if !found {
		return 1.0, false
	}
	return smallest, true
}
