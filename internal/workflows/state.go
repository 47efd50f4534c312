package workflows

import (
	"fmt"

	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// Stage is a state of the integration state machine. Runs move strictly
// forward and may jump to StageFailed from any stage before StageDone.
type Stage int

const (
	StageSpotfinding Stage = iota
	StageIndexing
	StageSymmetry
	StageIntegration
	StageFilter
	StageDone
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageSpotfinding:
		return "SPOTFINDING"
	case StageIndexing:
		return "INDEXING"
	case StageSymmetry:
		return "SYMMETRY_RESOLUTION"
	case StageIntegration:
		return "REFINEMENT+INTEGRATION"
	case StageFilter:
		return "FILTER"
	case StageDone:
		return "DONE"
	case StageFailed:
		return "FAILED"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// metricLabel is the stage label used for duration metrics.
func (s Stage) metricLabel() string {
	switch s {
	case StageSpotfinding:
		return "spotfinding"
	case StageIndexing:
		return "indexing"
	case StageSymmetry:
		return "symmetry"
	case StageIntegration:
		return "integration"
	case StageFilter:
		return "filter"
	}
	return "other"
}

// StageStatus is the single status of one run. It starts ok and can be set
// to a failure once; later failures are ignored.
type StageStatus struct {
	err *StageError
}

// Fail records err unless a failure is already recorded. It reports whether
// err was recorded.
func (s *StageStatus) Fail(err *StageError) bool {
	if s.err != nil || err == nil {
		return false
	}
	s.err = err
	return true
}

// OK reports whether no failure has been recorded.
func (s *StageStatus) OK() bool { return s.err == nil }

// Err returns the recorded failure, or nil.
func (s *StageStatus) Err() *StageError { return s.err }

func (s *StageStatus) String() string {
	if s.err == nil {
		return pipeline.StatusOK
	}
	return s.err.Kind.Status()
}
