package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/resolve-hq/enrichment-engine/internal/orchestrator"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

type APIHandler struct {
	orch *orchestrator.Orchestrator
	jobs *orchestrator.JobStore
	hub  *Hub
}

func SetupRouter(orch *orchestrator.Orchestrator, jobs *orchestrator.JobStore, hub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://app.example.com
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{orch: orch, jobs: jobs, hub: hub}
	limiter := NewRateLimiter(30, 10)

	// Public: health and live progress stream.
	r.GET("/health", handler.handleHealth)
	r.GET("/api/progress/stream", hub.Subscribe)

	protected := r.Group("/", AuthMiddleware(), limiter.Middleware())
	{
		protected.POST("/enrich-transactions", handler.handleEnrich)
		protected.POST("/enrich-transactions-stream", handler.handleEnrichStream)

		protected.POST("/api/enrich", handler.handleEnrichAsync)
		protected.GET("/api/enrich/:job_id", handler.handleJobStatus)
		protected.POST("/api/enrich/single", handler.handleEnrichSingle)
	}

	return r
}

// handleHealth returns engine status for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "Transaction Enrichment Engine v1.0",
		"capabilities": gin.H{
			"transfer_detection":   true,
			"merchant_enrichment":  true,
			"agentic_cascade":      true,
			"subscription_catalog": true,
			"email_receipts":       true,
			"budget_analysis":      true,
		},
	})
}

// handleEnrich runs the full cascade synchronously and returns the terminal
// result set. Suitable for small batches; large ones should use the async or
// streaming endpoints.
func (h *APIHandler) handleEnrich(c *gin.Context) {
	var req orchestrator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(req.Transactions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transactions is required"})
		return
	}

	result, err := h.orch.Enrich(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleEnrichStream runs the cascade and emits each phase as a server-sent
// event: "data: <json>\n\n" per event.
func (h *APIHandler) handleEnrichStream(c *gin.Context) {
	var req orchestrator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(req.Transactions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transactions is required"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, canFlush := c.Writer.(http.Flusher)
	for ev := range h.orch.EnrichStream(c.Request.Context(), req) {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		if canFlush {
			flusher.Flush()
		}
	}
}

// handleEnrichAsync registers a background job and returns its id immediately.
func (h *APIHandler) handleEnrichAsync(c *gin.Context) {
	var req orchestrator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(req.Transactions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transactions is required"})
		return
	}

	// The request context dies when this handler returns; the job must not.
	job := h.jobs.Create(len(req.Transactions))
	go h.jobs.Run(context.Background(), h.orch, job.ID, req)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"status": job.Status,
		"total":  job.Total,
	})
}

// handleJobStatus returns the state of a background enrichment job.
func (h *APIHandler) handleJobStatus(c *gin.Context) {
	job, ok := h.jobs.Get(c.Param("job_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleEnrichSingle enriches one transaction through the full cascade.
func (h *APIHandler) handleEnrichSingle(c *gin.Context) {
	var req struct {
		UserID       string                 `json:"user_id"`
		Transaction  models.RawTransaction  `json:"transaction"`
		EmailGrantID string                 `json:"email_grant_id,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.orch.Enrich(c.Request.Context(), orchestrator.Request{
		UserID:       req.UserID,
		Transactions: []models.RawTransaction{req.Transaction},
		EmailGrantID: req.EmailGrantID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(result.EnrichedTransactions) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Transaction could not be enriched"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enriched_transaction": result.EnrichedTransactions[0],
		"warning":              result.Warning,
	})
}
