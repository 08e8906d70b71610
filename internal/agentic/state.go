package agentic

import "github.com/resolve-hq/enrichment-engine/pkg/models"

// TransactionInput is one unit of agentic work: the Layer 1 record plus the
// optional context handles the graph nodes can pull evidence through.
type TransactionInput struct {
	Tx models.EnrichedTransaction
	// EmailGrantID authorises receipt lookups for this user's mailbox.
	// Empty disables the email node.
	EmailGrantID string
	// Receipts are pre-ingested candidate receipts; used when the mailbox
	// has already been synced into storage.
	Receipts []models.ReceiptRecord
}

// contribution is one node's evidence vote before the merge.
type contribution struct {
	Node       string
	Category   string
	Confidence float64
}

// state accumulates node outputs as the graph runs. Nodes append, never
// overwrite, so the merge sees every vote.
type state struct {
	input         TransactionInput
	contributions []contribution
	trace         []string
	context       map[string]any
}

func newState(input TransactionInput) *state {
	return &state{
		input:   input,
		context: make(map[string]any),
	}
}

func (s *state) addTrace(line string) {
	s.trace = append(s.trace, line)
}

func (s *state) vote(node, category string, confidence float64) {
	s.contributions = append(s.contributions, contribution{Node: node, Category: category, Confidence: confidence})
}
