package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/tendant/xtal-pipeline/internal/dbosruntime"
	"github.com/tendant/xtal-pipeline/internal/workflows"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// Client provides a client-only API for starting workflows without executing them
// Use this in applications that want to enqueue images for workers to process
type Client struct {
	runtime *dbosruntime.Runtime
	runner  *workflows.WorkflowRunner
}

// NewClient creates a client that can start workflows but doesn't execute them
// Workers must be running separately to execute the enqueued workflows
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rc := cfg.runtimeConfig()
	rc.Concurrency = 0 // Client mode: don't process workflows

	dbosRuntime, err := dbosruntime.NewRuntime(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DBOS: %w", err)
	}

	// Create workflow runner (for enqueueing only, no registration)
	workflowRunner := workflows.NewWorkflowRunner(dbosRuntime)

	// Launch DBOS (no workflows registered, client mode)
	if err := dbosRuntime.Launch(); err != nil {
		return nil, fmt.Errorf("failed to launch DBOS: %w", err)
	}

	return &Client{
		runtime: dbosRuntime,
		runner:  workflowRunner,
	}, nil
}

// Enqueue submits every image for integration and returns the run ids in
// order. It stops at the first submission error.
func (c *Client) Enqueue(ctx context.Context, images ...string) ([]string, error) {
	ids := make([]string, 0, len(images))
	for _, image := range images {
		id, err := c.runner.RunAsync(ctx, pipeline.ProcessRequest{Image: image, Job: pipeline.JobIntegrate})
		if err != nil {
			return ids, fmt.Errorf("enqueue %s: %w", image, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Shutdown gracefully shuts down the client
func (c *Client) Shutdown(timeoutSeconds int) {
	if c.runtime != nil {
		c.runtime.Shutdown(time.Duration(timeoutSeconds) * time.Second)
	}
}
