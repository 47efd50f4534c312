package runner

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tendant/xtal-pipeline/internal/logging"
	"github.com/tendant/xtal-pipeline/internal/workflows"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// WorkflowRunner runs one request synchronously.
type WorkflowRunner interface {
	Run(wctx *workflows.WorkflowContext) (*workflows.WorkflowResult, error)
}

// Batch processes many images in-process. Every image gets its own run;
// runs share nothing but the registered workflows, which are read-only
// after construction.
type Batch struct {
	runner WorkflowRunner
	limit  int
}

// ImageResult is the outcome of one image in a batch.
type ImageResult struct {
	Image    string                    `json:"image"`
	RunID    string                    `json:"run_id"`
	Result   *workflows.WorkflowResult `json:"result,omitempty"`
	Err      error                     `json:"-"`
	Duration time.Duration             `json:"duration"`
}

// NewBatch creates a batch over runner with at most limit concurrent runs.
// limit <= 0 means one run at a time.
func NewBatch(runner WorkflowRunner, limit int) *Batch {
	if limit <= 0 {
		limit = 1
	}
	return &Batch{runner: runner, limit: limit}
}

// Run processes reqs and returns one result per request in input order.
// A failing image does not stop the others; only cancellation of ctx does,
// in which case images not yet started are skipped and ctx's error is
// returned.
func (b *Batch) Run(ctx context.Context, reqs []pipeline.ProcessRequest) ([]ImageResult, error) {
	results := make([]ImageResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit)
	for i, req := range reqs {
		results[i].Image = req.Image
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			wctx := &workflows.WorkflowContext{Ctx: gctx, Request: req}
			res, err := b.runner.Run(wctx)
			results[i] = ImageResult{
				Image:    req.Image,
				RunID:    wctx.RunID,
				Result:   res,
				Err:      err,
				Duration: time.Since(start),
			}
			if err != nil {
				logging.ForRun(wctx.RunID).Warn("Image not processed", "image", req.Image, "err", err)
			}
			return nil
		})
	}
	return results, g.Wait()
}

// Summary counts the results by outcome status. Requests that never
// produced an outcome are counted under "error".
func Summary(results []ImageResult) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		switch {
		case r.Result != nil && r.Result.Outcome != nil:
			counts[r.Result.Outcome.Status]++
		default:
			counts["error"]++
		}
	}
	return counts
}
