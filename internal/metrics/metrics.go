// Package metrics exposes Prometheus collectors for pipeline outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the pipeline collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	runs     *prometheus.CounterVec
	triage   *prometheus.CounterVec
	stage    *prometheus.HistogramVec
	dropped  prometheus.Counter
	symmetry *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xtal_runs_total",
			Help: "Integration runs by final status.",
		}, []string{"status"}),
		triage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xtal_triage_total",
			Help: "Triage verdicts.",
		}, []string{"verdict"}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xtal_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xtal_reindex_dropped_reflections_total",
			Help: "Reflections excluded because their reindexed Miller index was non-integral.",
		}),
		symmetry: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xtal_symmetry_resolutions_total",
			Help: "Symmetry resolution outcomes by lattice family; retained means the triclinic setting was kept.",
		}, []string{"lattice"}),
	}
	reg.MustRegister(r.runs, r.triage, r.stage, r.dropped, r.symmetry)
	return r
}

// ObserveRun counts one finished integration run. status is "ok" or a
// failure status such as "failed indexing".
func (r *Recorder) ObserveRun(status string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
}

// ObserveTriage counts one triage verdict.
func (r *Recorder) ObserveTriage(accepted bool) {
	if r == nil {
		return
	}
	verdict := "rejected"
	if accepted {
		verdict = "accepted"
	}
	r.triage.WithLabelValues(verdict).Inc()
}

// ObserveStage records how long stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stage.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveSymmetry records the lattice a run was reindexed to, or "retained".
func (r *Recorder) ObserveSymmetry(lattice string, dropped int) {
	if r == nil {
		return
	}
	r.symmetry.WithLabelValues(lattice).Inc()
	if dropped > 0 {
		r.dropped.Add(float64(dropped))
	}
}
