package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job tracks one asynchronous enrichment invocation.
type Job struct {
	ID          string                      `json:"job_id"`
	Status      string                      `json:"status"`
	Total       int                         `json:"total"`
	Completed   int                         `json:"completed"`
	CreatedAt   time.Time                   `json:"created_at"`
	StartedAt   *time.Time                  `json:"started_at,omitempty"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
	Result      *models.EnrichmentResultSet `json:"result,omitempty"`
	Error       string                      `json:"error,omitempty"`
}

// JobStore holds in-flight and finished jobs in memory. Jobs are ephemeral;
// the enriched records themselves are what get persisted.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create registers a new pending job.
func (s *JobStore) Create(total int) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Status:    JobPending,
		Total:     total,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job
}

// Get returns a snapshot of the job, or ok=false.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Run drives the orchestrator for a job in the calling goroutine, updating
// job progress from the event stream. Callers usually `go store.Run(...)`.
func (s *JobStore) Run(ctx context.Context, orch *Orchestrator, jobID string, req Request) {
	now := time.Now().UTC()
	s.update(jobID, func(j *Job) {
		j.Status = JobRunning
		j.StartedAt = &now
	})

	for ev := range orch.EnrichStream(ctx, req) {
		switch ev.Phase {
		case PhaseEnriching, PhaseAgenticEnriching:
			if ev.Progress != nil {
				done := ev.Progress.Layer1Completed
				if ev.Progress.AgenticCompleted > 0 {
					done = ev.Progress.AgenticCompleted
				}
				s.update(jobID, func(j *Job) { j.Completed = done })
			}
		case PhaseComplete:
			finished := time.Now().UTC()
			result := ev.Result
			s.update(jobID, func(j *Job) {
				j.Status = JobCompleted
				j.CompletedAt = &finished
				j.Result = result
				if result != nil {
					j.Completed = len(result.EnrichedTransactions)
				}
			})
		case PhaseError:
			finished := time.Now().UTC()
			errMsg := ev.Error
			s.update(jobID, func(j *Job) {
				j.Status = JobFailed
				j.CompletedAt = &finished
				j.Error = errMsg
			})
			log.Printf("[Jobs] Job %s failed: %s", jobID, errMsg)
		}
	}
}

func (s *JobStore) update(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		fn(job)
	}
}
