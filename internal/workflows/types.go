package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"

	"github.com/tendant/xtal-pipeline/internal/dbosruntime"
	"github.com/tendant/xtal-pipeline/internal/logging"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx     context.Context
	Request pipeline.ProcessRequest
	RunID   string
}

// WorkflowResult contains the result of workflow execution. It is stored
// by DBOS, so every field must serialize.
type WorkflowResult struct {
	Success   bool                     `json:"success"`
	Outcome   *pipeline.ProcessOutcome `json:"outcome,omitempty"`
	SeenCount int                      `json:"seen_count,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// RunRecorder stores the outcome of a run per image.
type RunRecorder interface {
	Record(ctx context.Context, image, runID, status, info string) (int, error)
}

type statusLookup interface {
	GetWorkflowStatus(ctx context.Context, workflowUUID string) (*dbosruntime.WorkflowStatusInfo, error)
}

// WorkflowRunner executes workflows
type WorkflowRunner struct {
	workflows   map[string]Workflow
	dbosRuntime *dbosruntime.Runtime
	status      statusLookup
	recorder    RunRecorder
}

// NewWorkflowRunner creates a new workflow runner. With a nil runtime only
// synchronous Run is available.
func NewWorkflowRunner(dbosRuntime *dbosruntime.Runtime) *WorkflowRunner {
	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		dbosRuntime: dbosRuntime,
	}

	// Register the DBOS workflow function
	if dbosRuntime != nil {
		runner.status = dbosRuntime
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.executeWorkflowDBOS)
	}

	return runner
}

// Register registers a workflow
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

// SetRecorder makes every finished run record its outcome with rec.
func (r *WorkflowRunner) SetRecorder(rec RunRecorder) {
	r.recorder = rec
}

// Run executes a workflow for the given job type synchronously
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	workflow, ok := r.workflows[wctx.Request.Job]
	if !ok {
		return &WorkflowResult{
			Success: false,
			Error:   ErrWorkflowNotFound.Error(),
		}, ErrWorkflowNotFound
	}
	if wctx.RunID == "" {
		wctx.RunID = NewRunID(wctx.Request.Job)
	}

	result, err := workflow.Execute(wctx)
	if err != nil {
		return result, err
	}
	r.record(wctx, result)
	return result, nil
}

// NewRunID returns a unique run id for job.
func NewRunID(job string) string {
	return fmt.Sprintf("%s-%s", job, uuid.NewString())
}

// RunAsync enqueues a workflow for async execution via DBOS
func (r *WorkflowRunner) RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	if r.dbosRuntime == nil {
		return "", ErrNoRuntime
	}
	if req.Job == "" {
		return "", fmt.Errorf("%w: job is required", ErrInvalidRequest)
	}

	// Workflow ID gives exactly-once semantics per submission
	workflowID := NewRunID(req.Job)

	handle, err := dbos.RunWorkflow[pipeline.ProcessRequest, *WorkflowResult](
		r.dbosRuntime.Context(),
		r.executeWorkflowDBOS,
		req,
		dbos.WithWorkflowID(workflowID),
		dbos.WithQueue(r.dbosRuntime.QueueName()),
	)
	if err != nil {
		return "", err
	}

	return handle.GetWorkflowID(), nil
}

// executeWorkflowDBOS is the DBOS workflow function that wraps registered workflows
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, req pipeline.ProcessRequest) (*WorkflowResult, error) {
	workflow, ok := r.workflows[req.Job]
	if !ok {
		return &WorkflowResult{
			Success: false,
			Error:   ErrWorkflowNotFound.Error(),
		}, ErrWorkflowNotFound
	}

	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return &WorkflowResult{
			Success: false,
			Error:   err.Error(),
		}, err
	}

	// DBOSContext implements context.Context
	wctx := &WorkflowContext{
		Ctx:     dbosCtx,
		Request: req,
		RunID:   workflowID,
	}

	result, err := workflow.Execute(wctx)
	if err != nil {
		return result, err
	}
	r.record(wctx, result)
	return result, nil
}

func (r *WorkflowRunner) record(wctx *WorkflowContext, result *WorkflowResult) {
	if r.recorder == nil || result == nil || result.Outcome == nil {
		return
	}
	n, err := r.recorder.Record(wctx.Ctx, wctx.Request.Image, wctx.RunID, result.Outcome.Status, result.Outcome.Summary)
	if err != nil {
		logging.ForRun(wctx.RunID).Warn("Failed to record run", "image", wctx.Request.Image, "err", err)
		return
	}
	result.SeenCount = n
}

// WorkflowStatus represents the status of a workflow execution
type WorkflowStatus struct {
	RunID      string     `json:"run_id"`
	Name       string     `json:"name,omitempty"`
	State      string     `json:"state"` // "pending", "running", "succeeded", "failed", "cancelled"
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// GetStatus retrieves the status of a workflow execution from DBOS
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*WorkflowStatus, error) {
	if r.status == nil {
		return nil, fmt.Errorf("status tracking requires DBOS runtime: %w", ErrNoRuntime)
	}

	info, err := r.status.GetWorkflowStatus(ctx, runID)
	if err != nil {
		return nil, err
	}

	st := &WorkflowStatus{
		RunID:     info.WorkflowUUID,
		Name:      info.Name,
		State:     workflowState(info.Status),
		StartedAt: time.UnixMilli(info.CreatedAt).UTC(),
	}
	switch st.State {
	case "succeeded", "failed", "cancelled":
		finished := time.UnixMilli(info.UpdatedAt).UTC()
		st.FinishedAt = &finished
	}
	return st, nil
}

// workflowState maps a DBOS status to the runner's state vocabulary.
func workflowState(dbosStatus string) string {
	switch strings.ToUpper(dbosStatus) {
	case "PENDING":
		return "running"
	case "ENQUEUED":
		return "pending"
	case "SUCCESS":
		return "succeeded"
	case "ERROR", "MAX_RECOVERY_ATTEMPTS_EXCEEDED", "RETRIES_EXCEEDED":
		return "failed"
	case "CANCELLED":
		return "cancelled"
	}
	return strings.ToLower(dbosStatus)
}
