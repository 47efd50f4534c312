package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tendant/xtal-pipeline/internal/dbosruntime"
	"github.com/tendant/xtal-pipeline/internal/logging"
	"github.com/tendant/xtal-pipeline/internal/workflows"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// AsyncRunner enqueues runs and reports their state.
type AsyncRunner interface {
	RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error)
	GetStatus(ctx context.Context, runID string) (*workflows.WorkflowStatus, error)
}

// AsyncHandler handles asynchronous workflow requests
type AsyncHandler struct {
	workflowRunner AsyncRunner
}

// NewAsyncHandler creates a new async handler
func NewAsyncHandler(runner AsyncRunner) *AsyncHandler {
	return &AsyncHandler{
		workflowRunner: runner,
	}
}

// HandleProcessAsync handles POST /v1/process - enqueues workflow and returns immediately
func (h *AsyncHandler) HandleProcessAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeRequest(w, r, pipeline.JobIntegrate)
	if !ok {
		return
	}

	logging.Info("Enqueueing workflow", "image", req.Image, "job", req.Job)

	// Enqueue workflow (non-blocking)
	runID, err := h.workflowRunner.RunAsync(r.Context(), req)
	if err != nil {
		logging.Error("Failed to enqueue workflow", "image", req.Image, "err", err)
		http.Error(w, fmt.Sprintf("Failed to enqueue workflow: %v", err), http.StatusInternalServerError)
		return
	}

	logging.Info("Workflow enqueued", "run_id", runID)

	// Return immediately with 202 Accepted
	writeJSON(w, http.StatusAccepted, pipeline.ProcessResponse{RunID: runID})
}

// HandleStatus handles GET /v1/runs/{runID} - returns workflow status
func (h *AsyncHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract runID from URL path (/v1/runs/{runID})
	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/")
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	status, err := h.workflowRunner.GetStatus(r.Context(), runID)
	switch {
	case errors.Is(err, workflows.ErrNoRuntime):
		http.Error(w, "Run status requires the durable runtime", http.StatusNotImplemented)
		return
	case errors.Is(err, dbosruntime.ErrUnknownWorkflow):
		http.Error(w, "Workflow not found", http.StatusNotFound)
		return
	case err != nil:
		logging.Error("Failed to get workflow status", "run_id", runID, "err", err)
		http.Error(w, "Failed to get workflow status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// decodeRequest parses and validates a process request. An empty job
// defaults to defaultJob.
func decodeRequest(w http.ResponseWriter, r *http.Request, defaultJob string) (pipeline.ProcessRequest, bool) {
	var req pipeline.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return req, false
	}
	if req.Image == "" {
		http.Error(w, "image is required", http.StatusBadRequest)
		return req, false
	}
	if req.Job == "" {
		req.Job = defaultJob
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", "err", err)
	}
}
