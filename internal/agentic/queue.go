package agentic

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// DefaultWorkers bounds concurrent graph runs. Every run can fan out to the
// search, mail and LLM providers, so the bound is deliberately small.
const DefaultWorkers = 5

// DefaultDrainTimeout is how long an invocation waits for queued work before
// returning partial results.
const DefaultDrainTimeout = 120 * time.Second

const queueCapacity = 4096

// Runner executes the agentic graph for one transaction.
type Runner interface {
	Run(ctx context.Context, input TransactionInput) models.EnrichedTransaction
}

// CompletionFunc observes each finished transaction, e.g. to persist it.
type CompletionFunc func(tx models.EnrichedTransaction)

// Queue feeds ambiguous transactions through the agentic graph with a fixed
// worker bound. FIFO order in, results keyed by transaction id out.
type Queue struct {
	runner     Runner
	sem        *semaphore.Weighted
	jobs       chan TransactionInput
	onComplete CompletionFunc

	mu      sync.Mutex
	stages  map[string]models.EnrichmentStage
	results map[string]models.EnrichedTransaction

	total     atomic.Int64
	layer1    atomic.Int64
	queued    atomic.Int64
	completed atomic.Int64

	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   atomic.Bool
}

// NewQueue builds a queue over the given runner. workers <= 0 uses the
// default bound. onComplete may be nil.
func NewQueue(runner Runner, workers int, onComplete CompletionFunc) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Queue{
		runner:     runner,
		sem:        semaphore.NewWeighted(int64(workers)),
		jobs:       make(chan TransactionInput, queueCapacity),
		onComplete: onComplete,
		stages:     make(map[string]models.EnrichmentStage),
		results:    make(map[string]models.EnrichedTransaction),
		startedAt:  time.Now(),
	}
}

// Start launches the dispatcher. Each job waits on the semaphore, so at most
// the worker bound run at once while the channel preserves FIFO pickup.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})

	go func() {
		defer close(q.done)
		var inflight sync.WaitGroup
		for {
			select {
			case <-ctx.Done():
				inflight.Wait()
				return
			case input := <-q.jobs:
				if err := q.sem.Acquire(ctx, 1); err != nil {
					inflight.Wait()
					return
				}
				inflight.Add(1)
				go func(in TransactionInput) {
					defer inflight.Done()
					defer q.sem.Release(1)
					q.process(ctx, in)
				}(input)
			}
		}
	}()
}

// Stop cancels the dispatcher and waits for in-flight runs to finish.
func (q *Queue) Stop() {
	if !q.stopped.CompareAndSwap(false, true) {
		return
	}
	if q.cancel != nil {
		q.cancel()
	}
	if q.done != nil {
		<-q.done
	}
}

// SetTotal records the invocation's batch size for progress reporting and
// resets per-run counters.
func (q *Queue) SetTotal(n int) {
	q.total.Store(int64(n))
	q.layer1.Store(0)
	q.queued.Store(0)
	q.completed.Store(0)
	q.startedAt = time.Now()

	q.mu.Lock()
	q.stages = make(map[string]models.EnrichmentStage)
	q.results = make(map[string]models.EnrichedTransaction)
	q.mu.Unlock()
}

// MarkLayer1Complete registers a transaction's post-Layer-1 stage.
func (q *Queue) MarkLayer1Complete(tx models.EnrichedTransaction) {
	q.layer1.Add(1)
	q.mu.Lock()
	q.stages[tx.TransactionID] = tx.Stage
	q.mu.Unlock()
}

// Enqueue submits a transaction for agentic enrichment. Only pending and
// ntropy_done records are accepted; anything further along is already owned
// by a worker or finished, so a duplicate enqueue is refused.
func (q *Queue) Enqueue(input TransactionInput) bool {
	if q.stopped.Load() {
		return false
	}
	id := input.Tx.TransactionID

	q.mu.Lock()
	stage, known := q.stages[id]
	if known && stage != models.StagePending && stage != models.StageNtropyDone {
		q.mu.Unlock()
		log.Printf("[Queue] Refusing enqueue of %s at stage %s", id, stage)
		return false
	}
	q.stages[id] = models.StageAgenticQueued
	q.mu.Unlock()

	select {
	case q.jobs <- input:
		q.queued.Add(1)
		return true
	default:
		q.mu.Lock()
		if known {
			q.stages[id] = stage
		} else {
			delete(q.stages, id)
		}
		q.mu.Unlock()
		log.Printf("[Queue] Full, dropping %s", id)
		return false
	}
}

func (q *Queue) process(ctx context.Context, input TransactionInput) {
	id := input.Tx.TransactionID
	q.setStage(id, models.StageAgenticProcessing)

	out := q.runSafely(ctx, input)

	q.mu.Lock()
	q.stages[id] = out.Stage
	q.results[id] = out
	q.mu.Unlock()
	q.completed.Add(1)

	if q.onComplete != nil {
		q.onComplete(out)
	}
}

// runSafely contains a panicking run: the transaction comes back as a failed
// record instead of taking the worker goroutine down with it.
func (q *Queue) runSafely(ctx context.Context, input TransactionInput) (out models.EnrichedTransaction) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Queue] Run panicked for %s: %v", input.Tx.TransactionID, r)
			out = input.Tx
			out.Stage = models.StageFailed
			out.NeedsReview = true
			out.ReasoningTrace = append(out.ReasoningTrace, fmt.Sprintf("[Queue] Enrichment run failed: %v", r))
		}
	}()
	return q.runner.Run(ctx, input)
}

func (q *Queue) setStage(id string, stage models.EnrichmentStage) {
	q.mu.Lock()
	q.stages[id] = stage
	q.mu.Unlock()
}

// Stage reports the current pipeline stage for a transaction id.
func (q *Queue) Stage(id string) (models.EnrichmentStage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stage, ok := q.stages[id]
	return stage, ok
}

// Results snapshots the completed agentic outputs keyed by transaction id.
func (q *Queue) Results() map[string]models.EnrichedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]models.EnrichedTransaction, len(q.results))
	for id, tx := range q.results {
		out[id] = tx
	}
	return out
}

// Progress is a point-in-time view of the invocation.
type Progress struct {
	Total            int     `json:"total"`
	Layer1Completed  int     `json:"layer1_completed"`
	AgenticQueued    int     `json:"agentic_queued"`
	AgenticCompleted int     `json:"agentic_completed"`
	QueueDepth       int     `json:"queue_depth"`
	TxPerMinute      float64 `json:"tx_per_minute"`
	ETASeconds       float64 `json:"eta_seconds"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
}

// Snapshot computes current progress. Throughput and ETA are derived from the
// completed count over wall time since SetTotal.
func (q *Queue) Snapshot() Progress {
	queued := q.queued.Load()
	completed := q.completed.Load()
	elapsed := time.Since(q.startedAt).Seconds()

	p := Progress{
		Total:            int(q.total.Load()),
		Layer1Completed:  int(q.layer1.Load()),
		AgenticQueued:    int(queued),
		AgenticCompleted: int(completed),
		QueueDepth:       int(queued - completed),
		ElapsedSeconds:   elapsed,
	}
	if elapsed > 0 && completed > 0 {
		p.TxPerMinute = float64(completed) / elapsed * 60
		remaining := float64(queued - completed)
		p.ETASeconds = remaining / (float64(completed) / elapsed)
	}
	return p
}

// WaitUntilDrained blocks until every enqueued transaction has completed, the
// timeout expires, or the context is cancelled. On timeout the queue keeps
// working; the caller just proceeds with partial results.
func (q *Queue) WaitUntilDrained(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		if q.completed.Load() >= q.queued.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("drain timeout after %s with %d outstanding", timeout, q.queued.Load()-q.completed.Load())
		case <-tick.C:
		}
	}
}
