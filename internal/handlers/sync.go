package handlers

import (
	"errors"
	"net/http"

	"github.com/tendant/xtal-pipeline/internal/logging"
	"github.com/tendant/xtal-pipeline/internal/workflows"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// Runner executes a workflow in the request goroutine.
type Runner interface {
	Run(wctx *workflows.WorkflowContext) (*workflows.WorkflowResult, error)
}

// SyncHandler runs the pipeline while the client waits.
type SyncHandler struct {
	runner Runner
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(runner Runner) *SyncHandler {
	return &SyncHandler{runner: runner}
}

// HandleProcess handles POST /v1/process. The body's job defaults to integrate.
func (h *SyncHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, pipeline.JobIntegrate)
}

// HandleTriage handles POST /v1/triage. The job is always triage.
func (h *SyncHandler) HandleTriage(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, pipeline.JobTriage)
}

func (h *SyncHandler) handle(w http.ResponseWriter, r *http.Request, job string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeRequest(w, r, job)
	if !ok {
		return
	}
	if job == pipeline.JobTriage {
		req.Job = job
	}

	wctx := &workflows.WorkflowContext{Ctx: r.Context(), Request: req}
	result, err := h.runner.Run(wctx)
	switch {
	case errors.Is(err, workflows.ErrWorkflowNotFound), errors.Is(err, workflows.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		logging.ForRun(wctx.RunID).Error("Run failed", "image", req.Image, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, pipeline.ProcessResponse{
		RunID:     wctx.RunID,
		SeenCount: result.SeenCount,
		Outcome:   result.Outcome,
	})
}
