package workflows

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/tendant/xtal-pipeline/internal/capture"
	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
	"github.com/tendant/xtal-pipeline/internal/engine"
	"github.com/tendant/xtal-pipeline/internal/logging"
	"github.com/tendant/xtal-pipeline/internal/metrics"
	"github.com/tendant/xtal-pipeline/internal/selection"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// Job is one image to integrate.
type Job struct {
	RunID string
	Image string
	// ObjectDir receives the engine's per-image files.
	ObjectDir string
	// FinalPath is the integration artifact, written only on success.
	FinalPath string
	// LogPath, when set, receives the captured console output.
	LogPath         string
	Gain            float64
	CenterIntensity float64
}

// Outcome is the result of one integration run.
type Outcome struct {
	// Err is nil when every stage passed.
	Err *StageError
	// Stage is StageDone or StageFailed.
	Stage  Stage
	Result pipeline.FinalResult
	// Log is the human-readable summary text for the run.
	Log string
	// Lattice is the Bravais family the run was reindexed to, if any.
	Lattice string
	Dropped int
}

// Status is "ok" or the failure status.
func (o *Outcome) Status() string {
	if o.Err == nil {
		return pipeline.StatusOK
	}
	return o.Err.Kind.Status()
}

// IntegrationWorkflow runs spot finding, indexing, optional symmetry
// determination, refinement and integration for one image, then applies
// the acceptance filter. Stages run in order and the first failure skips
// everything after it.
type IntegrationWorkflow struct {
	proc    *Processor
	params  config.Params
	base    config.Processing
	metrics *metrics.Recorder
}

// NewIntegrationWorkflow creates the workflow. base is the settings template
// every image's settings are built from.
func NewIntegrationWorkflow(proc *Processor, params config.Params, base config.Processing, m *metrics.Recorder) *IntegrationWorkflow {
	return &IntegrationWorkflow{
		proc:    proc,
		params:  params,
		base:    base.Clone(),
		metrics: m,
	}
}

// Name returns the workflow name
func (w *IntegrationWorkflow) Name() string {
	return "IntegrationWorkflow"
}

// run is the per-invocation state. Nothing in it is shared between runs.
type run struct {
	ctx      context.Context
	job      Job
	settings config.Processing
	console  *capture.Buffer
	log      *charmlog.Logger
	metrics  *metrics.Recorder
	status   StageStatus
	stage    Stage
}

// step runs fn as stage when no earlier stage failed. An error or panic
// from fn fails the run with kind.
func (r *run) step(stage Stage, kind Kind, fn func() error) bool {
	if !r.status.OK() {
		return false
	}
	r.stage = stage
	start := time.Now()
	err := guard(fn)
	r.metrics.ObserveStage(stage.metricLabel(), time.Since(start))
	if err != nil {
		r.report(kind, err)
		r.fail(NewStageError(kind, err))
		return false
	}
	return true
}

// report writes a stage failure to the console so it reaches the image log.
func (r *run) report(kind Kind, err error) {
	var c classed
	if errors.As(err, &c) && c.ClassName() != "" {
		r.console.Println(c.ClassName(), "for "+r.job.Image+":")
	} else {
		r.console.Printf("%s error for %s:\n", kind.Label(), r.job.Image)
	}
	r.console.Println(Describe(err))
}

func (r *run) fail(err *StageError) {
	if r.status.Fail(err) {
		r.log.Error("Stage failed", "stage", r.stage, "status", err.Kind.Status(), "cause", err.Cause)
		r.stage = StageFailed
	}
}

func (r *run) banner(format string, args ...any) {
	r.console.Println(capture.Banner(fmt.Sprintf(format, args...)))
}

// Process runs the pipeline for job. It never panics on engine failures and
// always returns a complete outcome.
func (w *IntegrationWorkflow) Process(ctx context.Context, job Job) *Outcome {
	settings := config.Build(w.base, w.params, config.Inputs{
		Image:           job.Image,
		ObjectDir:       job.ObjectDir,
		FinalPath:       job.FinalPath,
		Gain:            job.Gain,
		CenterIntensity: job.CenterIntensity,
	})
	r := &run{
		job:      job,
		settings: settings,
		console:  capture.NewBuffer(),
		log:      logging.ForRun(job.RunID),
		metrics:  w.metrics,
	}
	r.ctx = capture.WithConsole(ctx, r.console)
	out := &Outcome{}

	r.log.Info("Step 1: spot finding", "image", job.Image)
	r.banner(" SPOTFINDING: ")
	var spots crystal.ObservationSet
	if r.step(StageSpotfinding, KindSpotfinding, func() (err error) {
		spots, err = w.proc.FindSpots(r.ctx, job.Image, settings)
		return err
	}) {
		r.banner(" FOUND %d SPOTS: ", spots.Len())
	}

	var model *crystal.Model
	var indexed crystal.ObservationSet
	if r.status.OK() {
		r.log.Info("Step 2: indexing", "spots", spots.Len())
		r.banner(" INDEXING: ")
	}
	if r.step(StageIndexing, KindIndexing, func() (err error) {
		model, indexed, err = w.proc.Index(r.ctx, job.Image, settings, spots)
		return err
	}) {
		r.banner(" USED %d INDEXED REFLECTIONS: ", indexed.Len())
	}

	if r.status.OK() && settings.Indexing.KnownSymmetry.SpaceGroup == "" && w.params.Engine.DetermineSGAndReindex {
		r.log.Info("Step 3: symmetry determination")
		indexed = w.resolveSymmetry(r, model, indexed, out)
	}

	var frame *engine.Frame
	if r.status.OK() {
		r.log.Info("Step 4: refinement and integration", "reflections", indexed.Active().Len())
		r.banner(" INTEGRATING: ")
	}
	if r.step(StageIntegration, KindIntegration, func() error {
		refined, reflections, err := w.proc.Refine(r.ctx, settings, model, indexed.Active())
		if err != nil {
			return err
		}
		frame, err = w.proc.Integrate(r.ctx, settings, refined, reflections)
		return err
	}) {
		r.banner(" FINAL %d INTEGRATED REFLECTIONS ", frame.Observations.Len())
	}

	var res pipeline.FinalResult
	if r.status.OK() {
		res = w.summarize(frame)
	}

	if r.status.OK() && w.params.Engine.Filter.FlagOn {
		r.log.Info("Step 5: acceptance filter")
		r.stage = StageFilter
		verdict := selection.Evaluate(selection.FromParams(w.params.Engine.Filter), selection.Observed{
			Cell:       frame.Cell,
			PointGroup: frame.PointGroup,
			Strong:     res.Strong,
			HighRes:    res.Res,
		})
		if !verdict.Accepted {
			r.fail(&StageError{Kind: KindFilter, Cause: truncateCause(verdict.Reason)})
		}
	}

	// The artifact is the last thing written so a rejected run leaves none.
	if r.status.OK() {
		if err := guard(func() error { return w.proc.WriteOutput(r.ctx, settings, frame) }); err != nil {
			r.report(KindIntegration, err)
			r.fail(NewStageError(KindIntegration, err))
		}
	}

	w.assemble(r, out, res)
	w.metrics.ObserveRun(out.Status())
	w.writeLog(r)
	return out
}

// resolveSymmetry runs lattice selection and reindexing. Nothing here fails
// the run: any error keeps the current symmetry.
func (w *IntegrationWorkflow) resolveSymmetry(r *run, model *crystal.Model, indexed crystal.ObservationSet, out *Outcome) crystal.ObservationSet {
	r.stage = StageSymmetry
	r.banner(" DETERMINING SPACE GROUP : ")
	start := time.Now()
	defer func() { r.metrics.ObserveStage(StageSymmetry.metricLabel(), time.Since(start)) }()

	var sol *crystal.BravaisSolution
	err := guard(func() (err error) {
		sol, err = w.proc.RefineBravaisSettings(r.ctx, r.settings, model, indexed)
		return err
	})
	if err != nil {
		r.console.Println("Bravais / Reindexing Error: ", err)
		r.log.Warn("Symmetry determination failed, keeping current symmetry", "err", NewStageError(KindSymmetry, err).Cause)
	}
	if sol == nil {
		r.banner(" RETAINED TRICLINIC (P1) SYMMETRY ")
		r.metrics.ObserveSymmetry("retained", 0)
		return indexed
	}

	var reindexed crystal.ObservationSet
	var dropped int
	err = guard(func() (err error) {
		reindexed, dropped, err = w.proc.Reindex(r.ctx, model, sol, indexed)
		return err
	})
	if err != nil {
		r.console.Println("Bravais / Reindexing Error: ", err)
		r.log.Warn("Reindexing failed, keeping current symmetry", "lattice", sol.Bravais, "err", NewStageError(KindSymmetry, err).Cause)
		r.banner(" RETAINED TRICLINIC (P1) SYMMETRY ")
		r.metrics.ObserveSymmetry("retained", 0)
		return indexed
	}

	if sg := model.CompactSpaceGroup(); sg != crystal.TriclinicSpaceGroup {
		r.banner(" REINDEXED TO SPACE GROUP %s ", sg)
	} else {
		r.banner(" RETAINED TRICLINIC (P1) SYMMETRY ")
	}
	r.log.Info("Reindexed", "lattice", sol.Bravais, "space_group", model.SpaceGroup, "dropped", dropped)
	r.metrics.ObserveSymmetry(sol.Bravais, dropped)
	out.Lattice = sol.Bravais
	out.Dropped = dropped
	return reindexed
}

// summarize extracts the result record from a successful integration.
func (w *IntegrationWorkflow) summarize(frame *engine.Frame) pipeline.FinalResult {
	lres, res := frame.Observations.ResolutionRange(frame.Cell)
	c := frame.Cell
	return pipeline.FinalResult{
		SpaceGroup: frame.PointGroup,
		A:          c.A,
		B:          c.B,
		C:          c.C,
		Alpha:      c.Alpha,
		Beta:       c.Beta,
		Gamma:      c.Gamma,
		Wavelength: frame.Wavelength,
		Distance:   frame.Distance,
		BeamX:      frame.BeamX,
		BeamY:      frame.BeamY,
		Strong:     frame.Observations.CountStrong(w.params.Selection.MinSigma),
		Res:        res,
		LRes:       lres,
		Mos:        round6(valueOrZero(frame.HalfMosaicityDeg)),
		DomainSize: valueOrZero(frame.DomainSizeAng),
		EPV:        valueOrZero(frame.EwaldProximalVolume),
	}
}

// assemble fills out from the final run state.
func (w *IntegrationWorkflow) assemble(r *run, out *Outcome, res pipeline.FinalResult) {
	out.Err = r.status.Err()
	if out.Err != nil {
		out.Stage = StageFailed
		out.Result = pipeline.FinalResult{Info: "not integrated -- " + out.Err.Cause}
		out.Log = fmt.Sprintf("\n %s FAILED - %s", out.Err.Kind.Step(), out.Err.Cause)
		r.log.Info("Integration workflow failed", "status", out.Status())
		return
	}

	out.Stage = StageDone
	res.OK = true
	res.ArtifactPath = r.job.FinalPath
	res.Info = fmt.Sprintf("RES: %-4.2f  NSREF: %-4d  SG: %-5s  CELL: %s",
		res.Res, res.Strong, res.SpaceGroup, crystal.NewUnitCell([6]float64{res.A, res.B, res.C, res.Alpha, res.Beta, res.Gamma}))
	out.Result = res

	base := config.ImageBasename(r.job.Image)
	out.Log = strings.Join([]string{
		"\n",
		"Integration:",
		fmt.Sprintf("%-*s --->  %s", len(base)+2, base, res.Info),
	}, "\n")
	r.log.Info("Integration workflow completed successfully", "info", res.Info)
}

func (w *IntegrationWorkflow) writeLog(r *run) {
	if r.job.LogPath == "" {
		return
	}
	if err := capture.WriteLog(r.job.LogPath, r.console.Lines()); err != nil {
		r.log.Error("Failed to write image log", "path", r.job.LogPath, "err", err)
	}
}

// Execute runs the integration pipeline for the request image
func (w *IntegrationWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	req := wctx.Request
	if req.Image == "" {
		return &WorkflowResult{Success: false, Error: "image is required"}, fmt.Errorf("%w: image is required", ErrInvalidRequest)
	}

	job := JobFromRequest(wctx.RunID, req)
	logging.ForRun(wctx.RunID).Info("Starting integration workflow", "image", job.Image, "final", job.FinalPath)

	out := w.Process(wctx.Ctx, job)
	outcome := &pipeline.ProcessOutcome{
		Status:  out.Status(),
		Summary: out.Result.Info,
		Log:     out.Log,
	}
	result := out.Result
	outcome.Result = &result
	return &WorkflowResult{Success: out.Err == nil, Outcome: outcome}, nil
}

// JobFromRequest fills the per-image paths a request leaves out: files go
// next to the image, the artifact is int-<name>.json and the log <name>.log.
func JobFromRequest(runID string, req pipeline.ProcessRequest) Job {
	job := Job{
		RunID:           runID,
		Image:           req.Image,
		ObjectDir:       req.ObjectDir,
		FinalPath:       req.FinalPath,
		LogPath:         req.LogPath,
		Gain:            req.Gain,
		CenterIntensity: req.CenterIntensity,
	}
	if job.ObjectDir == "" {
		job.ObjectDir = filepath.Dir(req.Image)
	}
	name := config.ImageBasename(req.Image)
	if job.FinalPath == "" {
		job.FinalPath = filepath.Join(job.ObjectDir, "int-"+name+".json")
	}
	if job.LogPath == "" {
		job.LogPath = filepath.Join(job.ObjectDir, name+".log")
	}
	return job
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
