package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/resolve-hq/enrichment-engine/internal/agentic"
	"github.com/resolve-hq/enrichment-engine/internal/budget"
	"github.com/resolve-hq/enrichment-engine/internal/enrich"
	"github.com/resolve-hq/enrichment-engine/internal/normalize"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// Phase names, in emission order. agentic_enriching only appears when at
// least one transaction was handed to the agentic queue.
const (
	PhaseExtracting         = "extracting"
	PhaseDetectingTransfers = "detecting_transfers"
	PhaseEnriching          = "enriching"
	PhaseAgenticEnriching   = "agentic_enriching"
	PhaseClassifying        = "classifying"
	PhaseComplete           = "complete"
	PhaseError              = "error"
)

// Event is one progress emission from a streaming enrichment run.
type Event struct {
	Phase              string                      `json:"phase"`
	Message            string                      `json:"message,omitempty"`
	GhostPairsDetected int                         `json:"ghost_pairs_detected,omitempty"`
	BatchesCompleted   int                         `json:"batches_completed,omitempty"`
	TotalBatches       int                         `json:"total_batches,omitempty"`
	Progress           *agentic.Progress           `json:"progress,omitempty"`
	Result             *models.EnrichmentResultSet `json:"result,omitempty"`
	Stats              map[string]any              `json:"stats,omitempty"`
	Error              string                      `json:"error,omitempty"`
}

// Request is one enrichment invocation.
type Request struct {
	UserID       string                  `json:"user_id"`
	Transactions []models.RawTransaction `json:"transactions"`
	EmailGrantID string                  `json:"email_grant_id,omitempty"`
}

// ReceiptSource provides pre-ingested receipt candidates near a date.
type ReceiptSource interface {
	UnmatchedReceipts(ctx context.Context, aroundDate string, windowDays int) ([]models.ReceiptRecord, error)
}

// Persister saves enrichment records. Nil-tolerant at the call sites.
type Persister interface {
	SaveEnrichedTransaction(ctx context.Context, tx models.EnrichedTransaction) error
}

// ProgressBroadcaster pushes queue progress to live subscribers.
type ProgressBroadcaster interface {
	BroadcastProgress(p agentic.Progress)
}

// Orchestrator drives the full cascade: normalize, transfer pairing, Layer 1,
// agentic queue drain, then budget classification.
type Orchestrator struct {
	layer1       *enrich.Layer1Enricher
	queue        *agentic.Queue
	receipts     ReceiptSource
	store        Persister
	broadcaster  ProgressBroadcaster
	drainTimeout time.Duration
}

func New(layer1 *enrich.Layer1Enricher, queue *agentic.Queue, drainTimeout time.Duration) *Orchestrator {
	if drainTimeout <= 0 {
		drainTimeout = agentic.DefaultDrainTimeout
	}
	return &Orchestrator{layer1: layer1, queue: queue, drainTimeout: drainTimeout}
}

// WithReceiptSource attaches pre-ingested receipt lookup.
func (o *Orchestrator) WithReceiptSource(src ReceiptSource) *Orchestrator {
	o.receipts = src
	return o
}

// WithPersister attaches record persistence.
func (o *Orchestrator) WithPersister(p Persister) *Orchestrator {
	o.store = p
	return o
}

// WithBroadcaster attaches live progress fan-out.
func (o *Orchestrator) WithBroadcaster(b ProgressBroadcaster) *Orchestrator {
	o.broadcaster = b
	return o
}

// Enrich runs the pipeline synchronously and returns the terminal result.
func (o *Orchestrator) Enrich(ctx context.Context, req Request) (models.EnrichmentResultSet, error) {
	var result models.EnrichmentResultSet
	var lastErr string
	for ev := range o.EnrichStream(ctx, req) {
		switch ev.Phase {
		case PhaseComplete:
			if ev.Result != nil {
				result = *ev.Result
			}
		case PhaseError:
			lastErr = ev.Error
		}
	}
	if lastErr != "" {
		return result, fmt.Errorf("%s", lastErr)
	}
	return result, nil
}

// EnrichStream runs the pipeline in a goroutine and emits phase events. The
// channel closes after the complete (or error) event.
func (o *Orchestrator) EnrichStream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.run(ctx, req, events)
	}()
	return events
}

func (o *Orchestrator) run(ctx context.Context, req Request, events chan<- Event) {
	started := time.Now()

	// Phase 1: normalize.
	events <- Event{Phase: PhaseExtracting, Message: fmt.Sprintf("Extracting %d transactions", len(req.Transactions))}
	batch, err := normalize.NormalizeBatch(req.Transactions)
	if err != nil {
		events <- Event{Phase: PhaseError, Error: err.Error()}
		return
	}
	if len(batch) == 0 {
		events <- Event{Phase: PhaseError, Error: "no transactions in request"}
		return
	}

	// Phase 2: deterministic transfer pairing.
	detection := enrich.DetectTransferPairs(batch)
	events <- Event{
		Phase:              PhaseDetectingTransfers,
		GhostPairsDetected: len(detection.Pairs),
		Message:            fmt.Sprintf("%d ghost pairs detected", len(detection.Pairs)),
	}

	remaining := make([]models.NormalizedTransaction, 0, len(batch))
	for _, tx := range batch {
		if _, isTransfer := detection.Enriched[tx.TransactionID]; !isTransfer {
			remaining = append(remaining, tx)
		}
	}

	// Phase 3: Layer 1 in batches.
	o.queue.SetTotal(len(batch))
	holderID := normalize.HashUserID(req.UserID)

	warning := ""
	fallbackAll := false
	if o.layer1.Available() {
		if err := o.layer1.EnsureAccountHolder(ctx, holderID, req.UserID, "GB"); err != nil {
			log.Printf("[Orchestrator] Account holder setup failed, degrading to keyword fallback: %v", err)
			warning = "merchant enrichment unavailable, keyword fallback applied"
			fallbackAll = true
		}
	} else {
		warning = "merchant enrichment not configured, keyword fallback applied"
		fallbackAll = true
	}

	totalBatches := (len(remaining) + enrich.Layer1BatchSize - 1) / enrich.Layer1BatchSize
	enriched := make(map[string]models.EnrichedTransaction, len(batch))
	for id, tx := range detection.Enriched {
		enriched[id] = tx
		o.queue.MarkLayer1Complete(tx)
	}

	enqueued := 0
	for b := 0; b < totalBatches; b++ {
		lo := b * enrich.Layer1BatchSize
		hi := min(lo+enrich.Layer1BatchSize, len(remaining))
		chunk := remaining[lo:hi]

		events <- Event{
			Phase:            PhaseEnriching,
			BatchesCompleted: b,
			TotalBatches:     totalBatches,
			Message:          fmt.Sprintf("Enriching batch %d of %d", b+1, totalBatches),
		}

		var records []models.EnrichedTransaction
		if fallbackAll {
			records = make([]models.EnrichedTransaction, 0, len(chunk))
			for _, tx := range chunk {
				records = append(records, enrich.FallbackEnrich(tx))
			}
		} else {
			records = o.layer1.EnrichBatch(ctx, chunk, holderID)
		}

		for _, rec := range records {
			enriched[rec.TransactionID] = rec
			o.queue.MarkLayer1Complete(rec)
			if rec.NtropyConfidence < enrich.CascadeThreshold {
				if o.enqueue(ctx, rec, req.EmailGrantID) {
					enqueued++
				}
			}
		}

		snapshot := o.queue.Snapshot()
		o.broadcast(snapshot)
		events <- Event{
			Phase:            PhaseEnriching,
			BatchesCompleted: b + 1,
			TotalBatches:     totalBatches,
			Progress:         &snapshot,
		}
	}

	// Phase 4: drain the agentic queue.
	if enqueued > 0 {
		o.drain(ctx, events)
		for id, out := range o.queue.Results() {
			enriched[id] = out
		}
	}

	// Phase 5: classify and aggregate.
	events <- Event{Phase: PhaseClassifying, Message: "Computing budget breakdown"}
	final := make([]models.EnrichedTransaction, 0, len(batch))
	for _, tx := range batch {
		rec, ok := enriched[tx.TransactionID]
		if !ok {
			continue
		}
		if rec.Stage == models.StageNtropyDone && rec.NtropyConfidence >= enrich.CascadeThreshold {
			rec.Stage = models.StageComplete
		}
		final = append(final, rec)
	}

	analysis := budget.ComputeBreakdown(final, budget.DefaultHorizonMonths, time.Now().UTC())
	debts := budget.ExtractDetectedDebts(final)

	o.persist(ctx, final)

	result := models.EnrichmentResultSet{
		EnrichedTransactions: final,
		BudgetAnalysis:       analysis,
		DetectedDebts:        debts,
		Warning:              warning,
	}
	events <- Event{
		Phase:  PhaseComplete,
		Result: &result,
		Stats: map[string]any{
			"total":            len(final),
			"ghost_pairs":      len(detection.Pairs),
			"agentic_enriched": o.queue.Snapshot().AgenticCompleted,
			"needs_review":     countNeedsReview(final),
			"elapsed_ms":       time.Since(started).Milliseconds(),
		},
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, rec models.EnrichedTransaction, grantID string) bool {
	input := agentic.TransactionInput{Tx: rec, EmailGrantID: grantID}
	if o.receipts != nil && rec.TransactionDate != "" {
		if candidates, err := o.receipts.UnmatchedReceipts(ctx, rec.TransactionDate, 7); err == nil {
			input.Receipts = candidates
		}
	}
	return o.queue.Enqueue(input)
}

// drain waits for the queue, emitting a progress event every second. On
// timeout the run proceeds with whatever completed.
func (o *Orchestrator) drain(ctx context.Context, events chan<- Event) {
	done := make(chan error, 1)
	go func() { done <- o.queue.WaitUntilDrained(ctx, o.drainTimeout) }()

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			snapshot := o.queue.Snapshot()
			o.broadcast(snapshot)
			ev := Event{Phase: PhaseAgenticEnriching, Progress: &snapshot}
			if err != nil {
				ev.Message = fmt.Sprintf("Queue drain incomplete: %v", err)
				log.Printf("[Orchestrator] %s", ev.Message)
			} else {
				ev.Message = "Agentic queue drained"
			}
			events <- ev
			return
		case <-tick.C:
			snapshot := o.queue.Snapshot()
			o.broadcast(snapshot)
			events <- Event{Phase: PhaseAgenticEnriching, Progress: &snapshot}
		}
	}
}

func (o *Orchestrator) broadcast(p agentic.Progress) {
	if o.broadcaster != nil {
		o.broadcaster.BroadcastProgress(p)
	}
}

func (o *Orchestrator) persist(ctx context.Context, records []models.EnrichedTransaction) {
	if o.store == nil {
		return
	}
	for _, rec := range records {
		if err := o.store.SaveEnrichedTransaction(ctx, rec); err != nil {
			log.Printf("[Orchestrator] Persist failed for %s: %v", rec.TransactionID, err)
		}
	}
}

func countNeedsReview(records []models.EnrichedTransaction) int {
	n := 0
	for _, rec := range records {
		if rec.NeedsReview {
			n++
		}
	}
	return n
}
