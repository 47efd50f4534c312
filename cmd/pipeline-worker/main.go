package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/xtal-pipeline/internal/app"
	"github.com/tendant/xtal-pipeline/internal/dbosruntime"
	"github.com/tendant/xtal-pipeline/internal/handlers"
	"github.com/tendant/xtal-pipeline/internal/logging"
	"github.com/tendant/xtal-pipeline/internal/workflows"
	"github.com/tendant/xtal-pipeline/pkg/runner"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	env := app.EnvFromOS()
	logging.Init(os.Stderr, env.LogLevel)

	// Configuration from environment
	httpAddr := os.Getenv("WORKER_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8081"
	}

	params, err := env.Params("")
	if err != nil {
		logging.Fatal("Failed to load settings", "err", err)
	}
	p, err := env.Pipeline(params, prometheus.DefaultRegisterer)
	if err != nil {
		logging.Fatal("Failed to build pipeline", "err", err)
	}
	if env.EngineURL == "" {
		logging.Warn("ENGINE_URL not set: only triage can succeed")
	}

	// Initialize DBOS runtime (required)
	dbosRuntime, err := dbosruntime.NewRuntime(context.Background(), dbosruntime.ConfigFromEnv("pipeline-worker"))
	if err != nil {
		logging.Fatal("Failed to initialize DBOS", "err", err)
	}

	// Initialize workflow runner with DBOS support (registers workflows with DBOS)
	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime)
	runner.Register(workflowRunner, p)

	closeLedger, err := env.AttachLedger(context.Background(), workflowRunner)
	if err != nil {
		logging.Fatal("Failed to open run ledger", "err", err)
	}
	defer closeLedger()

	// Launch DBOS (must be done after workflow registration)
	if err := dbosRuntime.Launch(); err != nil {
		logging.Fatal("Failed to launch DBOS", "err", err)
	}
	defer dbosRuntime.Shutdown(10 * time.Second)

	logging.Info("DBOS runtime initialized",
		"queue", dbosRuntime.QueueName(),
		"concurrency", dbosRuntime.Concurrency())

	// Create HTTP server
	mux := http.NewServeMux()
	asyncHandler := handlers.NewAsyncHandler(workflowRunner)
	syncHandler := handlers.NewSyncHandler(workflowRunner)

	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/v1/process", asyncHandler.HandleProcessAsync)
	mux.HandleFunc("/v1/triage", syncHandler.HandleTriage)
	mux.HandleFunc("/v1/runs/", asyncHandler.HandleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    httpAddr,
		Handler: mux,
	}

	// Start server in goroutine
	go func() {
		logging.Info("Pipeline worker starting", "addr", httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal("Server failed", "err", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", "err", err)
	}

	logging.Info("Server stopped")
}
