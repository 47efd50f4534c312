package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
	"github.com/tendant/xtal-pipeline/internal/dbosruntime"
	"github.com/tendant/xtal-pipeline/internal/engine"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

type fakeRecorder struct {
	image, runID, status, info string
	count                      int
}

func (f *fakeRecorder) Record(ctx context.Context, image, runID, status, info string) (int, error) {
	f.image, f.runID, f.status, f.info = image, runID, status, info
	f.count++
	return f.count, nil
}

type fakeStatus struct {
	info *dbosruntime.WorkflowStatusInfo
	err  error
}

func (f fakeStatus) GetWorkflowStatus(ctx context.Context, id string) (*dbosruntime.WorkflowStatusInfo, error) {
	return f.info, f.err
}

func TestRunUnknownJob(t *testing.T) {
	r := NewWorkflowRunner(nil)
	_, err := r.Run(&WorkflowContext{Ctx: context.Background(), Request: pipeline.ProcessRequest{Job: "thumbnail"}})
	if !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestRunRecordsOutcome(t *testing.T) {
	r := NewWorkflowRunner(nil)
	rec := &fakeRecorder{}
	r.SetRecorder(rec)
	r.Register(pipeline.JobTriage, NewTriageWorkflow(&fakeEngine{spots: make(crystal.ObservationSet, 20)}, config.DefaultParams(), config.DefaultProcessing(), nil))

	wctx := &WorkflowContext{Ctx: context.Background(), Request: pipeline.ProcessRequest{Image: "img_1.cbf", Job: pipeline.JobTriage}}
	res, err := r.Run(wctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(wctx.RunID, "triage-") {
		t.Fatalf("run id not assigned: %q", wctx.RunID)
	}
	if rec.image != "img_1.cbf" || rec.status != "ok" || rec.info != "ACCEPTED! 20 observed reflections." || res.SeenCount != 1 {
		t.Fatalf("unexpected record %+v seen=%d", rec, res.SeenCount)
	}
}

func TestRunAsyncRequiresRuntime(t *testing.T) {
	_, err := NewWorkflowRunner(nil).RunAsync(context.Background(), pipeline.ProcessRequest{Job: pipeline.JobIntegrate})
	if !errors.Is(err, ErrNoRuntime) {
		t.Fatalf("expected ErrNoRuntime, got %v", err)
	}
}

func TestGetStatusMapsDBOSState(t *testing.T) {
	r := NewWorkflowRunner(nil)
	if _, err := r.GetStatus(context.Background(), "x"); !errors.Is(err, ErrNoRuntime) {
		t.Fatalf("expected ErrNoRuntime, got %v", err)
	}

	r.status = fakeStatus{info: &dbosruntime.WorkflowStatusInfo{
		WorkflowUUID: "integrate-1",
		Status:       "SUCCESS",
		Name:         "executeWorkflowDBOS",
		CreatedAt:    1_700_000_000_000,
		UpdatedAt:    1_700_000_005_000,
	}}
	st, err := r.GetStatus(context.Background(), "integrate-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.State != "succeeded" || st.FinishedAt == nil || st.FinishedAt.Sub(st.StartedAt).Seconds() != 5 {
		t.Fatalf("unexpected status %+v", st)
	}

	r.status = fakeStatus{info: &dbosruntime.WorkflowStatusInfo{WorkflowUUID: "integrate-2", Status: "ENQUEUED"}}
	st, _ = r.GetStatus(context.Background(), "integrate-2")
	if st.State != "pending" || st.FinishedAt != nil {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestDescribe(t *testing.T) {
	err := &engine.Error{Class: "Sorry", Message: strings.Repeat("x", 60)}
	got := Describe(err)
	if got != "Sorry: "+strings.Repeat("x", 50) {
		t.Fatalf("Describe = %q", got)
	}
	if got := Describe(errors.New("line one\nline two")); got != "line one line two" {
		t.Fatalf("Describe = %q", got)
	}
	if Describe(nil) != "" {
		t.Fatalf("nil error must describe as empty")
	}
}

func TestStageStatusIsSetOnce(t *testing.T) {
	var s StageStatus
	if !s.OK() || s.String() != "ok" {
		t.Fatalf("new status must be ok")
	}
	if !s.Fail(&StageError{Kind: KindIndexing}) {
		t.Fatalf("first failure not recorded")
	}
	if s.Fail(&StageError{Kind: KindFilter}) {
		t.Fatalf("second failure overwrote the first")
	}
	if s.String() != "failed indexing" {
		t.Fatalf("status = %q", s.String())
	}
	wrapped := errors.Join(errors.New("ctx"), s.Err())
	if KindOf(wrapped) != KindIndexing {
		t.Fatalf("KindOf did not unwrap")
	}
}
