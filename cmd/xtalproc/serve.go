package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tendant/xtal-pipeline/internal/handlers"
	"github.com/tendant/xtal-pipeline/internal/logging"
	"github.com/tendant/xtal-pipeline/internal/workflows"
	"github.com/tendant/xtal-pipeline/pkg/runner"
)

var httpAddr string

// serveCmd runs the synchronous HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the pipeline over HTTP",
	Long: `Serve POST /v1/process and POST /v1/triage. Each request runs one image
to completion and returns its outcome. Use pipeline-worker for durable,
queued processing.`,
	Args:         cobra.NoArgs,
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "addr", "", "listen address (default $PIPELINE_HTTP_ADDR or :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if httpAddr == "" {
		httpAddr = os.Getenv("PIPELINE_HTTP_ADDR")
	}
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	params, err := env.Params(paramsPath)
	if err != nil {
		return err
	}
	p, err := env.Pipeline(params, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	wr := workflows.NewWorkflowRunner(nil)
	runner.Register(wr, p)
	closeLedger, err := env.AttachLedger(context.Background(), wr)
	if err != nil {
		return err
	}
	defer closeLedger()

	syncHandler := handlers.NewSyncHandler(wr)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/v1/process", syncHandler.HandleProcess)
	mux.HandleFunc("/v1/triage", syncHandler.HandleTriage)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    httpAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Pipeline server starting", "addr", httpAddr, "engine", env.EngineURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logging.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logging.Info("Server stopped")
	return nil
}
