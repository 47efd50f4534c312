package workflows

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not registered
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidRequest is returned when the request is invalid
	ErrInvalidRequest = errors.New("invalid workflow request")

	// ErrNoRuntime is returned for async operations without a DBOS runtime
	ErrNoRuntime = errors.New("DBOS runtime not initialized")
)

// Kind is the pipeline stage a failure belongs to.
type Kind int

const (
	KindSpotfinding Kind = iota + 1
	KindIndexing
	// KindSymmetry failures never fail a run; they are logged and the
	// current symmetry is kept.
	KindSymmetry
	KindIntegration
	KindFilter
	KindTriage
)

func (k Kind) String() string {
	switch k {
	case KindSpotfinding:
		return "spotfinding"
	case KindIndexing:
		return "indexing"
	case KindSymmetry:
		return "symmetry"
	case KindIntegration:
		return "integration"
	case KindFilter:
		return "filter"
	case KindTriage:
		return "triage"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status is the run status reported for this kind, e.g. "failed indexing".
func (k Kind) Status() string {
	return "failed " + k.String()
}

// Step is the upper-case stage name used in log text.
func (k Kind) Step() string {
	return strings.ToUpper(k.String())
}

// Label is the capitalised stage name used in console failure lines, e.g.
// "Indexing".
func (k Kind) Label() string {
	name := k.String()
	return strings.ToUpper(name[:1]) + name[1:]
}

// maxCauseRunes bounds the cause text carried in statuses and logs.
const maxCauseRunes = 50

// StageError is a classified stage failure.
type StageError struct {
	Kind Kind
	// Cause is the short, single-line description surfaced to callers.
	Cause string
	Err   error
}

func (e *StageError) Error() string {
	if e.Cause == "" {
		return e.Kind.Status()
	}
	return e.Kind.Status() + ": " + e.Cause
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError classifies err as a failure of kind.
func NewStageError(kind Kind, err error) *StageError {
	return &StageError{Kind: kind, Cause: Describe(err), Err: err}
}

// KindOf returns the stage kind of err, or 0 if err is not a StageError.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// classed is implemented by engine errors that carry a failure family.
type classed interface {
	error
	ClassName() string
}

// Describe renders err for a status line: at most 50 runes of the message
// with newlines collapsed to spaces, prefixed by the engine failure class
// when there is one.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var c classed
	if errors.As(err, &c) && c.ClassName() != "" {
		msg := strings.TrimPrefix(c.Error(), c.ClassName()+": ")
		return c.ClassName() + ": " + truncateCause(msg)
	}
	return truncateCause(err.Error())
}

func truncateCause(s string) string {
	r := []rune(s)
	if len(r) > maxCauseRunes {
		r = r[:maxCauseRunes]
	}
	return strings.ReplaceAll(string(r), "\n", " ")
}
