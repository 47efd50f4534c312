package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/dbosruntime"
	"github.com/tendant/xtal-pipeline/internal/engine"
	"github.com/tendant/xtal-pipeline/internal/metrics"
	"github.com/tendant/xtal-pipeline/internal/storage"
	"github.com/tendant/xtal-pipeline/internal/workflows"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// Config holds the configuration for initializing the pipeline runner
type Config struct {
	DatabaseURL        string // DBOS PostgreSQL connection string
	AppName            string // Application name for DBOS
	QueueName          string // DBOS queue name
	Concurrency        int    // Number of concurrent workers
	ApplicationVersion string // Optional: Override binary hash for version matching
}

func (c Config) runtimeConfig() dbosruntime.Config {
	return dbosruntime.Config{
		DatabaseURL:        c.DatabaseURL,
		AppName:            c.AppName,
		QueueName:          c.QueueName,
		Concurrency:        c.Concurrency,
		ApplicationVersion: c.ApplicationVersion,
	}
}

// Pipeline bundles what the workflows need to process images.
type Pipeline struct {
	Engine  engine.Engine
	Params  config.Params
	Base    config.Processing
	Store   storage.ArtifactWriter
	Metrics *metrics.Recorder
}

// Register adds the integrate and triage workflows for p to r.
func Register(r *workflows.WorkflowRunner, p Pipeline) {
	proc := workflows.NewProcessor(p.Engine, p.Store)
	r.Register(pipeline.JobIntegrate, workflows.NewIntegrationWorkflow(proc, p.Params, p.Base, p.Metrics))
	r.Register(pipeline.JobTriage, workflows.NewTriageWorkflow(p.Engine, p.Params, p.Base, p.Metrics))
}

// Runner provides a high-level API for running pipeline workflows via DBOS
type Runner struct {
	runtime *dbosruntime.Runtime
	runner  *workflows.WorkflowRunner
}

// New creates and initializes a new pipeline runner with DBOS integration
func New(ctx context.Context, cfg Config, p Pipeline) (*Runner, error) {
	// Create DBOS runtime
	dbosRuntime, err := dbosruntime.NewRuntime(ctx, cfg.runtimeConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	// Create workflow runner
	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime)
	Register(workflowRunner, p)

	// Launch DBOS (must be after workflow registration)
	if err := dbosRuntime.Launch(); err != nil {
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Runner{
		runtime: dbosRuntime,
		runner:  workflowRunner,
	}, nil
}

// WorkflowRunner exposes the underlying runner, e.g. for HTTP handlers.
func (r *Runner) WorkflowRunner() *workflows.WorkflowRunner {
	return r.runner
}

// RunIntegrate enqueues a full integration run for image
func (r *Runner) RunIntegrate(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	req.Job = pipeline.JobIntegrate
	return r.runner.RunAsync(ctx, req)
}

// RunTriage enqueues a triage run for image
func (r *Runner) RunTriage(ctx context.Context, image string) (string, error) {
	return r.runner.RunAsync(ctx, pipeline.ProcessRequest{Image: image, Job: pipeline.JobTriage})
}

// Status returns the state of a run
func (r *Runner) Status(ctx context.Context, runID string) (*workflows.WorkflowStatus, error) {
	return r.runner.GetStatus(ctx, runID)
}

// Shutdown gracefully shuts down the pipeline runner
func (r *Runner) Shutdown(timeoutSeconds int) {
	if r.runtime != nil {
		r.runtime.Shutdown(time.Duration(timeoutSeconds) * time.Second)
	}
}
