package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/resolve-hq/enrichment-engine/internal/agentic"
	"github.com/resolve-hq/enrichment-engine/internal/api"
	"github.com/resolve-hq/enrichment-engine/internal/db"
	"github.com/resolve-hq/enrichment-engine/internal/enrich"
	"github.com/resolve-hq/enrichment-engine/internal/llm"
	"github.com/resolve-hq/enrichment-engine/internal/mail"
	"github.com/resolve-hq/enrichment-engine/internal/ntropy"
	"github.com/resolve-hq/enrichment-engine/internal/orchestrator"
	"github.com/resolve-hq/enrichment-engine/internal/persist"
	"github.com/resolve-hq/enrichment-engine/internal/search"
	"github.com/resolve-hq/enrichment-engine/internal/subscription"
	"github.com/resolve-hq/enrichment-engine/pkg/models"
)

func main() {
	log.Println("Starting Transaction Enrichment Engine...")

	// ─── Environment Variables ──────────────────────────────────────────
	// All credentials come from environment variables. Provider keys are
	// optional: a missing key degrades that layer instead of failing boot.
	// Use a .env file for local development.
	// ────────────────────────────────────────────────────────────────────

	var store *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		conn, err := db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persistence. Error: %v", err)
		} else {
			store = conn
			defer store.Close()
			if err := store.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("Warning: DATABASE_URL not set, running without persistence")
	}

	ntropyClient := ntropy.NewClient(os.Getenv("NTROPY_API_KEY"), os.Getenv("NTROPY_BASE_URL"))
	serperClient := search.NewClient(os.Getenv("SERPER_API_KEY"))
	claudeClient := llm.NewClient(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("ANTHROPIC_MODEL"))
	nylasClient := mail.NewClient(os.Getenv("NYLAS_API_KEY"), os.Getenv("NYLAS_BASE_URL"))

	logLayerStatus("Merchant enrichment", ntropyClient.Available())
	logLayerStatus("Web search", serperClient.Available())
	logLayerStatus("LLM reasoning", claudeClient.Available())
	logLayerStatus("Email receipts", nylasClient.Available())

	layer1 := enrich.NewLayer1Enricher(ntropyClient)

	var catalog subscription.CatalogStore
	if store != nil {
		catalog = store
	}
	matcher := subscription.NewMatcher(catalog, serperClient, claudeClient)
	graph := agentic.NewGraph(matcher, nylasClient, claudeClient)

	notifier := persist.NewNotifier(os.Getenv("APP_BASE_URL"))
	var onComplete agentic.CompletionFunc
	if notifier.Available() {
		onComplete = func(tx models.EnrichedTransaction) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			notifier.NotifyEnriched(ctx, tx)
		}
	}

	queue := agentic.NewQueue(graph, agentic.DefaultWorkers, onComplete)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	defer queue.Stop()

	// Setup WebSocket Hub for live progress
	wsHub := api.NewHub()
	go wsHub.Run()

	drainTimeout := time.Duration(getEnvInt("AGENTIC_DRAIN_TIMEOUT_SECONDS", 120)) * time.Second
	orch := orchestrator.New(layer1, queue, drainTimeout).WithBroadcaster(wsHub)
	if store != nil {
		orch.WithReceiptSource(store).WithPersister(store)
	}

	jobs := orchestrator.NewJobStore()

	// Setup the Gin Router
	r := api.SetupRouter(orch, jobs, wsHub)

	port := getEnvOrDefault("PORT", "8000")
	log.Printf("Engine running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func logLayerStatus(name string, available bool) {
	if available {
		log.Printf("%s: configured", name)
	} else {
		log.Printf("%s: NOT configured, layer will degrade", name)
	}
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
		log.Printf("Warning: ignoring invalid %s=%q", key, val)
	}
	return fallback
}
