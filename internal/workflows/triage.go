package workflows

import (
	"context"
	"fmt"

	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
	"github.com/tendant/xtal-pipeline/internal/engine"
	"github.com/tendant/xtal-pipeline/internal/logging"
	"github.com/tendant/xtal-pipeline/internal/metrics"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// TriageWorkflow screens an image by spot count alone.
type TriageWorkflow struct {
	spots   engine.SpotFinder
	params  config.Params
	base    config.Processing
	metrics *metrics.Recorder
}

// NewTriageWorkflow creates a triage workflow. base is the settings
// template; params supplies the detector overrides and the spot minimum.
func NewTriageWorkflow(spots engine.SpotFinder, params config.Params, base config.Processing, m *metrics.Recorder) *TriageWorkflow {
	return &TriageWorkflow{
		spots:   spots,
		params:  params,
		base:    base.Clone(),
		metrics: m,
	}
}

// Name returns the workflow name
func (w *TriageWorkflow) Name() string {
	return "TriageWorkflow"
}

// Triage runs spot finding on image and accepts it when at least
// triage.min_bragg_peaks reflections are found. The returned error is nil
// on acceptance; spot-finding failures are rejections, never errors.
func (w *TriageWorkflow) Triage(ctx context.Context, image string, gain, centerIntensity float64) (*StageError, string) {
	settings := config.BuildTriage(w.base, w.params, gain, centerIntensity)

	var spots crystal.ObservationSet
	err := guard(func() error {
		var err error
		spots, err = w.spots.FindSpots(ctx, image, settings)
		return err
	})
	if err != nil {
		w.metrics.ObserveTriage(false)
		return NewStageError(KindTriage, err), "REJECTED! SPOT-FINDING ERROR!"
	}

	n := spots.Len()
	if n >= w.params.Triage.MinBraggPeaks {
		w.metrics.ObserveTriage(true)
		return nil, fmt.Sprintf("ACCEPTED! %d observed reflections.", n)
	}
	w.metrics.ObserveTriage(false)
	return &StageError{Kind: KindTriage, Cause: fmt.Sprintf("%d of %d bragg peaks", n, w.params.Triage.MinBraggPeaks)},
		fmt.Sprintf("REJECTED! %d observed reflections.", n)
}

// Execute runs triage for the request image
func (w *TriageWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	log := logging.ForRun(wctx.RunID)
	if wctx.Request.Image == "" {
		return &WorkflowResult{Success: false, Error: "image is required"}, fmt.Errorf("%w: image is required", ErrInvalidRequest)
	}

	log.Info("Starting triage", "image", wctx.Request.Image)
	serr, summary := w.Triage(wctx.Ctx, wctx.Request.Image, wctx.Request.Gain, wctx.Request.CenterIntensity)

	outcome := &pipeline.ProcessOutcome{Status: pipeline.StatusOK, Summary: summary}
	if serr != nil {
		outcome.Status = serr.Kind.Status()
		log.Info("Triage rejected image", "summary", summary, "cause", serr.Cause)
	} else {
		log.Info("Triage accepted image", "summary", summary)
	}
	return &WorkflowResult{Success: serr == nil, Outcome: outcome}, nil
}

// guard runs fn, turning a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
