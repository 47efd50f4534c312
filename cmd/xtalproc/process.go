package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tendant/xtal-pipeline/internal/workflows"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
	"github.com/tendant/xtal-pipeline/pkg/runner"
)

var (
	parallel   int
	objectDir  string
	gain       float64
	jsonOutput bool
)

// processCmd integrates images
var processCmd = &cobra.Command{
	Use:   "process IMAGE...",
	Short: "integrate images",
	Long: `Run the full pipeline on every image. Each image writes its engine
files to the object directory, an integration artifact int-<name>.json on
success and a <name>.log with the captured engine output.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, pipeline.JobIntegrate, args)
	},
	SilenceUsage: true,
}

// triageCmd screens images by spot count
var triageCmd = &cobra.Command{
	Use:   "triage IMAGE...",
	Short: "accept or reject images by spot count",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, pipeline.JobTriage, args)
	},
	SilenceUsage: true,
}

func init() {
	for _, c := range []*cobra.Command{processCmd, triageCmd} {
		c.Flags().IntVarP(&parallel, "jobs", "j", 1, "images processed at once")
		c.Flags().Float64Var(&gain, "gain", 0, "detector gain estimate, used when advanced.estimate_gain is set")
		c.Flags().BoolVar(&jsonOutput, "json", false, "print one JSON record per image")
	}
	processCmd.Flags().StringVarP(&objectDir, "object-dir", "o", "", "directory for per-image engine files (default: next to the image)")
}

func runBatch(cmd *cobra.Command, job string, images []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params, err := env.Params(paramsPath)
	if err != nil {
		return err
	}
	p, err := env.Pipeline(params, nil)
	if err != nil {
		return err
	}

	wr := workflows.NewWorkflowRunner(nil)
	runner.Register(wr, p)
	closeLedger, err := env.AttachLedger(ctx, wr)
	if err != nil {
		return err
	}
	defer closeLedger()

	reqs := make([]pipeline.ProcessRequest, len(images))
	for i, image := range images {
		reqs[i] = pipeline.ProcessRequest{Image: image, Job: job, ObjectDir: objectDir, Gain: gain}
	}

	results, err := runner.NewBatch(wr, parallel).Run(ctx, reqs)
	report(cmd.OutOrStdout(), results)
	if err != nil {
		return err
	}
	if n := countErrors(results); n > 0 {
		return fmt.Errorf("%d of %d images could not be processed", n, len(results))
	}
	return nil
}

func report(w io.Writer, results []runner.ImageResult) {
	enc := json.NewEncoder(w)
	for _, r := range results {
		status, summary := "error", ""
		switch {
		case r.Err != nil:
			summary = r.Err.Error()
		case r.Result != nil && r.Result.Outcome != nil:
			status, summary = r.Result.Outcome.Status, r.Result.Outcome.Summary
		default:
			status = "skipped"
		}
		if jsonOutput {
			enc.Encode(map[string]any{
				"image":      r.Image,
				"run_id":     r.RunID,
				"status":     status,
				"summary":    summary,
				"seconds":    r.Duration.Seconds(),
				"seen_count": seenCount(r),
			})
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Image, status, summary)
	}
	if jsonOutput {
		return
	}

	counts := runner.Summary(results)
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(os.Stderr, "%-22s %d\n", s, counts[s])
	}
}

func seenCount(r runner.ImageResult) int {
	if r.Result == nil {
		return 0
	}
	return r.Result.SeenCount
}

func countErrors(results []runner.ImageResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
