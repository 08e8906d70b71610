package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/resolve-hq/enrichment-engine/internal/agentic"
	"github.com/resolve-hq/enrichment-engine/internal/enrich"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// The fallback path needs no external providers: Layer 1 degrades to keyword
// classification and the agentic graph runs with every evidence source dark.
func newTestOrchestrator(t *testing.T) (*Orchestrator, *agentic.Queue) {
	t.Helper()
	layer1 := enrich.NewLayer1Enricher(nil)
	graph := agentic.NewGraph(nil, nil, nil)
	queue := agentic.NewQueue(graph, 5, nil)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)
	return New(layer1, queue, 10*time.Second), queue
}

func sampleRequest() Request {
	return Request{
		UserID: "user-1",
		Transactions: []models.RawTransaction{
			{TransactionID: "out-1", Description: "TRANSFER TO SAVINGS", Amount: -500.00, TransactionType: "DEBIT", Timestamp: "2025-06-01T10:00:00Z"},
			{TransactionID: "in-1", Description: "TRANSFER FROM CURRENT", Amount: 500.00, TransactionType: "CREDIT", Timestamp: "2025-06-02T10:00:00Z"},
			{TransactionID: "gas", Description: "DD BRITISH GAS", Amount: -82.00, TransactionType: "DIRECT_DEBIT", Timestamp: "2025-06-03T10:00:00Z"},
			{TransactionID: "coffee", Description: "COSTA COFFEE", Amount: -3.50, TransactionType: "DEBIT", Timestamp: "2025-06-03T11:00:00Z"},
		},
	}
}

func TestEnrichStreamPhaseSequence(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	var phases []string
	var complete *Event
	for ev := range orch.EnrichStream(context.Background(), sampleRequest()) {
		if len(phases) == 0 || phases[len(phases)-1] != ev.Phase {
			phases = append(phases, ev.Phase)
		}
		if ev.Phase == PhaseComplete {
			captured := ev
			complete = &captured
		}
	}

	want := []string{PhaseExtracting, PhaseDetectingTransfers, PhaseEnriching, PhaseAgenticEnriching, PhaseClassifying, PhaseComplete}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phase %d = %s, want %s (got %v)", i, phases[i], want[i], phases)
		}
	}
	if complete == nil || complete.Result == nil {
		t.Fatal("no terminal result")
	}
}

func TestEnrichOneOutputPerInput(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	result, err := orch.Enrich(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Enrich failed: %v", err)
	}

	if len(result.EnrichedTransactions) != 4 {
		t.Fatalf("outputs = %d, want 4", len(result.EnrichedTransactions))
	}

	byID := make(map[string]models.EnrichedTransaction)
	for _, rec := range result.EnrichedTransactions {
		byID[rec.TransactionID] = rec
	}

	for _, id := range []string{"out-1", "in-1"} {
		rec := byID[id]
		if rec.Source != models.SourceMathBrain || rec.Stage != models.StageComplete {
			t.Errorf("%s: source=%q stage=%q, want math_brain/complete", id, rec.Source, rec.Stage)
		}
		if !rec.ExcludeFromAnalysis {
			t.Errorf("%s must be excluded from analysis", id)
		}
	}

	// Non-transfer records went through fallback Layer 1 then the dark graph.
	for _, id := range []string{"gas", "coffee"} {
		rec := byID[id]
		if rec.Stage != models.StageAgenticDone {
			t.Errorf("%s stage = %q, want agentic_done", id, rec.Stage)
		}
		if !rec.NeedsReview {
			t.Errorf("%s must still need review with every provider dark", id)
		}
	}

	if result.Warning == "" {
		t.Error("degraded run must carry a warning")
	}
}

// Each Layer 1 batch announces itself before it runs and reports again once
// done, so stream consumers see work start, not just finish.
func TestEnrichStreamBatchTicks(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	var enriching []Event
	for ev := range orch.EnrichStream(context.Background(), sampleRequest()) {
		if ev.Phase == PhaseEnriching {
			enriching = append(enriching, ev)
		}
	}

	// Two non-transfer transactions fit one batch: one pre tick, one post.
	if len(enriching) != 2 {
		t.Fatalf("enriching events = %d, want 2", len(enriching))
	}
	if enriching[0].BatchesCompleted != 0 || enriching[0].TotalBatches != 1 {
		t.Errorf("pre-batch tick = %d/%d, want 0/1", enriching[0].BatchesCompleted, enriching[0].TotalBatches)
	}
	if enriching[1].BatchesCompleted != 1 {
		t.Errorf("post-batch tick = %d, want 1", enriching[1].BatchesCompleted)
	}
}

func TestEnrichGhostPairCount(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	var ghostPairs int
	for ev := range orch.EnrichStream(context.Background(), sampleRequest()) {
		if ev.Phase == PhaseDetectingTransfers {
			ghostPairs = ev.GhostPairsDetected
		}
	}
	if ghostPairs != 1 {
		t.Errorf("ghost pairs = %d, want 1", ghostPairs)
	}
}

func TestEnrichRejectsEmptyBatch(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	_, err := orch.Enrich(context.Background(), Request{UserID: "u", Transactions: nil})
	if err == nil {
		t.Fatal("empty batch must fail")
	}
}

func TestJobStoreLifecycle(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	jobs := NewJobStore()

	job := jobs.Create(4)
	if job.Status != JobPending {
		t.Fatalf("new job status = %q, want pending", job.Status)
	}

	jobs.Run(context.Background(), orch, job.ID, sampleRequest())

	final, ok := jobs.Get(job.ID)
	if !ok {
		t.Fatal("job disappeared")
	}
	if final.Status != JobCompleted {
		t.Fatalf("status = %q, want completed (error: %s)", final.Status, final.Error)
	}
	if final.Result == nil || len(final.Result.EnrichedTransactions) != 4 {
		t.Fatalf("job result missing or wrong size: %+v", final.Result)
	}
	if final.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestJobStoreUnknownID(t *testing.T) {
	jobs := NewJobStore()
	if _, ok := jobs.Get("nope"); ok {
		t.Fatal("unknown job id must not resolve")
	}
}
