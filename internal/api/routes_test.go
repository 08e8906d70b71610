package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/resolve-hq/enrichment-engine/internal/agentic"
	"github.com/resolve-hq/enrichment-engine/internal/enrich"
	"github.com/resolve-hq/enrichment-engine/internal/orchestrator"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	layer1 := enrich.NewLayer1Enricher(nil)
	queue := agentic.NewQueue(agentic.NewGraph(nil, nil, nil), 5, nil)
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)

	orch := orchestrator.New(layer1, queue, 10*time.Second)
	hub := NewHub()
	go hub.Run()

	return SetupRouter(orch, orchestrator.NewJobStore(), hub)
}

func postJSON(r *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sampleBody() map[string]any {
	return map[string]any{
		"user_id": "user-1",
		"transactions": []models.RawTransaction{
			{TransactionID: "tx-1", Description: "COSTA COFFEE", Amount: -3.50, TransactionType: "DEBIT", Timestamp: "2025-06-03T11:00:00Z"},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "operational") {
		t.Errorf("unexpected health body: %s", w.Body.String())
	}
}

func TestEnrichEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/enrich-transactions", sampleBody())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var result models.EnrichmentResultSet
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(result.EnrichedTransactions) != 1 {
		t.Fatalf("enriched = %d, want 1", len(result.EnrichedTransactions))
	}
	if result.Warning == "" {
		t.Error("provider-less run must surface a warning")
	}
}

func TestEnrichEndpointRejectsEmptyBatch(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/enrich-transactions", map[string]any{"user_id": "u"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestEnrichStreamEndpointEmitsSSE(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/enrich-transactions-stream", sampleBody())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "data: ") {
		t.Fatalf("no SSE frames in body: %s", body)
	}
	for _, phase := range []string{"extracting", "detecting_transfers", "classifying", "complete"} {
		if !strings.Contains(body, phase) {
			t.Errorf("phase %q missing from stream", phase)
		}
	}
}

func TestAsyncEnrichJobFlow(t *testing.T) {
	r := newTestRouter(t)

	w := postJSON(r, "/api/enrich", sampleBody())
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}

	var accepted struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &accepted); err != nil || accepted.JobID == "" {
		t.Fatalf("no job id in response: %s", w.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/api/enrich/"+accepted.JobID, nil)
		poll := httptest.NewRecorder()
		r.ServeHTTP(poll, req)
		if poll.Code != http.StatusOK {
			t.Fatalf("poll status = %d", poll.Code)
		}

		var job orchestrator.Job
		if err := json.Unmarshal(poll.Body.Bytes(), &job); err != nil {
			t.Fatalf("bad job body: %v", err)
		}
		if job.Status == orchestrator.JobCompleted {
			if job.Result == nil || len(job.Result.EnrichedTransactions) != 1 {
				t.Fatalf("job completed without result: %+v", job)
			}
			return
		}
		if job.Status == orchestrator.JobFailed {
			t.Fatalf("job failed: %s", job.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %q", job.Status)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestJobStatusUnknownID(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/enrich/does-not-exist", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestAuthMiddlewareEnforcedWhenConfigured(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "secret-token")
	r := newTestRouter(t)

	w := postJSON(r, "/enrich-transactions", sampleBody())
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", w.Code)
	}

	body, _ := json.Marshal(sampleBody())
	req := httptest.NewRequest(http.MethodPost, "/enrich-transactions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret-token")
	authed := httptest.NewRecorder()
	r.ServeHTTP(authed, req)
	if authed.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", authed.Code)
	}

	// Health stays public.
	health := httptest.NewRecorder()
	r.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200 without auth", health.Code)
	}
}

func TestRateLimiterRejectsBursts(t *testing.T) {
	rl := NewRateLimiter(30, 3)
	allowed := 0
	for i := 0; i < 10; i++ {
		if ok, _ := rl.allow("10.0.0.1"); ok {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed = %d, want the burst capacity of 3", allowed)
	}
	// A different IP gets its own bucket.
	if ok, _ := rl.allow("10.0.0.2"); !ok {
		t.Error("second IP must not share the first bucket")
	}
}
