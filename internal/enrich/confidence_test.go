package enrich

import (
	"math"
	"testing"
)

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDeriveLayer1Confidence(t *testing.T) {
	cases := []struct {
		name        string
		merchant    string
		labels      []string
		isRecurring bool
		description string
		want        float64
	}{
		{
			name:        "clean recurring subscription maxes out",
			merchant:    "Netflix",
			labels:      []string{"streaming"},
			isRecurring: true,
			description: "NETFLIX.COM",
			want:        1.0, // 0.70 + 0.10 + 0.10 + 0.10 capped
		},
		{
			name:        "marketplace halves an otherwise strong score",
			merchant:    "PayPal",
			labels:      []string{"digital services"},
			description: "PAYPAL *UNKNOWN VENDOR",
			want:        0.45, // (0.70 + 0.10 + 0.10) * 0.5
		},
		{
			name:        "all-generic labels use the worst label factor",
			merchant:    "",
			labels:      []string{"unknown"},
			description: "CARD PURCHASE 9921",
			want:        0.21, // 0.70 * 0.3
		},
		{
			name:        "bnpl processor token in the raw description",
			merchant:    "Sports Direct",
			labels:      []string{"sporting goods"},
			description: "KLARNA*SPORTSDIRECT",
			want:        0.54, // (0.70 + 0.10 + 0.10) * 0.6
		},
		{
			name:        "no signals stays at base",
			merchant:    "",
			labels:      nil,
			description: "POS 442291",
			want:        0.70,
		},
		{
			name:        "short merchant name earns no bonus",
			merchant:    "ab",
			labels:      nil,
			description: "AB",
			want:        0.70,
		},
		{
			name:        "smallest factor wins when penalties stack",
			merchant:    "Amazon",
			labels:      []string{"retail"},
			description: "AMAZON MKTP",
			want:        0.40, // (0.70 + 0.10) * min(0.5 marketplace, 0.7 label, 0.5 processor)
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveLayer1Confidence(tc.merchant, tc.labels, tc.isRecurring, tc.description)
			if !almost(got, tc.want) {
				t.Errorf("confidence = %v, want %v", got, tc.want)
			}
		})
	}
}

// Band values must come out exact, not within epsilon: downstream gates and
// persisted records compare against them directly.
func TestConfidenceBandsAreExact(t *testing.T) {
	if got := DeriveLayer1Confidence("Netflix", []string{"streaming"}, true, "NETFLIX.COM"); got != 1.0 {
		t.Errorf("fully bonused score = %v, want exactly 1.0", got)
	}
	if got := DeriveLayer1Confidence("", []string{"unknown"}, false, "CARD PURCHASE 9921"); got != 0.21 {
		t.Errorf("worst-label score = %v, want exactly 0.21", got)
	}
}

func TestHasSpecificLabel(t *testing.T) {
	if hasSpecificLabel([]string{"retail", "Other"}) {
		t.Error("all-generic labels reported as specific")
	}
	if !hasSpecificLabel([]string{"retail", "groceries"}) {
		t.Error("a specific label among generics was missed")
	}
	if hasSpecificLabel(nil) {
		t.Error("empty label set cannot be specific")
	}
}

func TestAmbiguityFactorNoPenalty(t *testing.T) {
	factor, penalised := ambiguityFactor("Pret A Manger", []string{"restaurants"}, "PRET A MANGER LONDON")
	if penalised {
		t.Fatalf("unexpected penalty factor %v", factor)
	}
}

func TestCascadeThresholdGate(t *testing.T) {
	// The PayPal case from above must land under the gate so the agentic
	// layers pick it up.
	conf := DeriveLayer1Confidence("PayPal", []string{"digital services"}, false, "PAYPAL *UNKNOWN VENDOR")
	if conf >= CascadeThreshold {
		t.Errorf("ambiguous marketplace charge scored %v, at or above the %v gate", conf, CascadeThreshold)
	}
}
