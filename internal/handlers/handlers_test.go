package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tendant/xtal-pipeline/internal/dbosruntime"
	"github.com/tendant/xtal-pipeline/internal/workflows"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

type fakeRunner struct {
	got    pipeline.ProcessRequest
	result *workflows.WorkflowResult
	err    error
	status *workflows.WorkflowStatus
}

func (f *fakeRunner) Run(wctx *workflows.WorkflowContext) (*workflows.WorkflowResult, error) {
	f.got = wctx.Request
	wctx.RunID = wctx.Request.Job + "-1"
	return f.result, f.err
}

func (f *fakeRunner) RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	f.got = req
	if f.err != nil {
		return "", f.err
	}
	return req.Job + "-async", nil
}

func (f *fakeRunner) GetStatus(ctx context.Context, runID string) (*workflows.WorkflowStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func post(h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func TestHandleProcess(t *testing.T) {
	runner := &fakeRunner{result: &workflows.WorkflowResult{
		Success:   true,
		SeenCount: 2,
		Outcome:   &pipeline.ProcessOutcome{Status: pipeline.StatusOK, Summary: "RES: 2.10"},
	}}
	rec := post(NewSyncHandler(runner).HandleProcess, "/v1/process", `{"image":"/data/img_1.cbf"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if runner.got.Job != pipeline.JobIntegrate {
		t.Fatalf("job not defaulted: %q", runner.got.Job)
	}

	var resp pipeline.ProcessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RunID != "integrate-1" || resp.SeenCount != 2 || resp.Outcome.Status != "ok" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleTriageForcesJob(t *testing.T) {
	runner := &fakeRunner{result: &workflows.WorkflowResult{Outcome: &pipeline.ProcessOutcome{Status: "failed triage"}}}
	rec := post(NewSyncHandler(runner).HandleTriage, "/v1/triage", `{"image":"img.cbf","job":"integrate"}`)
	if rec.Code != http.StatusOK || runner.got.Job != pipeline.JobTriage {
		t.Fatalf("status %d job %q", rec.Code, runner.got.Job)
	}
}

func TestHandleProcessRejectsBadRequests(t *testing.T) {
	h := NewSyncHandler(&fakeRunner{}).HandleProcess
	if rec := post(h, "/v1/process", `{"job":"integrate"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing image: status %d", rec.Code)
	}
	if rec := post(h, "/v1/process", `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status %d", rec.Code)
	}

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/v1/process", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: status %d", rec.Code)
	}

	unknown := NewSyncHandler(&fakeRunner{err: workflows.ErrWorkflowNotFound}).HandleProcess
	if rec := post(unknown, "/v1/process", `{"image":"a.cbf","job":"thumbnail"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown job: status %d", rec.Code)
	}
}

func TestHandleProcessAsync(t *testing.T) {
	runner := &fakeRunner{}
	rec := post(NewAsyncHandler(runner).HandleProcessAsync, "/v1/process", `{"image":"img.cbf"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}
	var resp pipeline.ProcessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RunID != "integrate-async" || resp.Outcome != nil {
		t.Fatalf("unexpected response %+v", resp)
	}

	failing := NewAsyncHandler(&fakeRunner{err: errors.New("queue down")}).HandleProcessAsync
	if rec := post(failing, "/v1/process", `{"image":"img.cbf"}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("enqueue failure: status %d", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	runner := &fakeRunner{status: &workflows.WorkflowStatus{RunID: "integrate-9", State: "running", StartedAt: started}}

	rec := httptest.NewRecorder()
	NewAsyncHandler(runner).HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/integrate-9", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":"running"`) {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}

	codes := map[error]int{
		dbosruntime.ErrUnknownWorkflow: http.StatusNotFound,
		workflows.ErrNoRuntime:         http.StatusNotImplemented,
	}
	for err, want := range codes {
		rec := httptest.NewRecorder()
		NewAsyncHandler(&fakeRunner{err: err}).HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/x", nil))
		if rec.Code != want {
			t.Fatalf("%v: status %d, want %d", err, rec.Code, want)
		}
	}

	rec = httptest.NewRecorder()
	NewAsyncHandler(runner).HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty id: status %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Fatalf("status %d body %q", rec.Code, rec.Body)
	}
}
