package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("ok")
	m.ObserveRun("failed indexing")
	m.ObserveRun("ok")
	if got := testutil.ToFloat64(m.runs.WithLabelValues("ok")); got != 2 {
		t.Fatalf("expected 2 ok runs, got %f", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("failed indexing")); got != 1 {
		t.Fatalf("expected 1 indexing failure, got %f", got)
	}

	m.ObserveTriage(true)
	m.ObserveTriage(false)
	m.ObserveTriage(false)
	if got := testutil.ToFloat64(m.triage.WithLabelValues("rejected")); got != 2 {
		t.Fatalf("expected 2 rejections, got %f", got)
	}

	m.ObserveSymmetry("oP", 7)
	m.ObserveSymmetry("retained", 0)
	if got := testutil.ToFloat64(m.dropped); got != 7 {
		t.Fatalf("expected 7 dropped reflections, got %f", got)
	}

	m.ObserveStage("spotfinding", 250*time.Millisecond)
	if n := testutil.CollectAndCount(m.stage); n != 1 {
		t.Fatalf("expected one stage series, got %d", n)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var m *Recorder
	m.ObserveRun("ok")
	m.ObserveTriage(true)
	m.ObserveStage("indexing", time.Second)
	m.ObserveSymmetry("mP", 1)
}
