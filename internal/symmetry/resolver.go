// Package symmetry decides whether a triclinic indexing result supports a
// higher-symmetry lattice and re-expresses the reflections in that lattice.
package symmetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendant/xtal-pipeline/internal/capture"
	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
	"github.com/tendant/xtal-pipeline/internal/engine"
)

// Fixed bounds for candidate generation.
const (
	OutlierAlgorithm = "tukey"
	LepageMaxDelta   = 5.0
	RefinerVerbosity = 10
)

// ErrNoRefinedCrystal is returned by Reindex for a solution without a model.
var ErrNoRefinedCrystal = errors.New("symmetry: solution has no refined crystal")

// Resolver picks the highest-symmetry lattice the candidate engine
// recommends.
type Resolver struct {
	candidates engine.CandidateGenerator
}

// NewResolver creates a resolver backed by gen.
func NewResolver(gen engine.CandidateGenerator) *Resolver {
	return &Resolver{candidates: gen}
}

// Resolve runs candidate generation for the triclinic model and returns the
// accepted solution, or nil to keep the current symmetry.
//
// A generation failure also yields nil: model is restored to its state
// before the call and the engine error is returned for logging only.
func (r *Resolver) Resolve(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*crystal.BravaisSolution, error) {
	params := engine.CandidateParams{
		Settings:         settings.Clone(),
		OutlierAlgorithm: OutlierAlgorithm,
		LepageMaxDelta:   LepageMaxDelta,
		RefinerVerbosity: RefinerVerbosity,
	}
	params.Settings.Refinement.OutlierAlgorithm = OutlierAlgorithm

	triclinic := model.Clone()
	solutions, err := r.generate(ctx, params, model, indexed)
	if err != nil {
		model.Restore(triclinic)
		return nil, err
	}
	return Select(solutions), nil
}

func (r *Resolver) generate(ctx context.Context, params engine.CandidateParams, model *crystal.Model, indexed crystal.ObservationSet) (sols []crystal.BravaisSolution, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("candidate generation panicked: %v", p)
		}
	}()
	return r.candidates.GenerateBravaisCandidates(ctx, params, model, indexed)
}

// Select returns the recommended solution of the highest-symmetry lattice
// family, breaking ties within the family by the smallest maximum angular
// difference (first in list order on equality). It returns nil when nothing
// is recommended or no recommended family is in the lattice table.
func Select(solutions []crystal.BravaisSolution) *crystal.BravaisSolution {
	best := ""
	bestNumber := 0
	for _, s := range solutions {
		if !s.Recommended {
			continue
		}
		n, ok := crystal.LatticeSpaceGroupNumber(s.Bravais)
		if ok && n > bestNumber {
			best, bestNumber = s.Bravais, n
		}
	}
	if best == "" {
		return nil
	}

	var chosen *crystal.BravaisSolution
	for i := range solutions {
		s := &solutions[i]
		if !s.Recommended || s.Bravais != best {
			continue
		}
		if chosen == nil || s.MaxAngularDifference < chosen.MaxAngularDifference {
			chosen = s
		}
	}
	out := *chosen
	return &out
}

// Reindex moves model to the solution's refined crystal and transforms every
// Miller index by the solution's change of basis. Reflections whose new index
// is not integral are excluded with a zeroed index; the returned count is the
// number newly excluded. The change of basis is validated before model is
// touched, so on error model and indexed are unchanged.
func Reindex(ctx context.Context, model *crystal.Model, sol *crystal.BravaisSolution, indexed crystal.ObservationSet) (crystal.ObservationSet, int, error) {
	if sol.RefinedCrystal == nil {
		return nil, 0, ErrNoRefinedCrystal
	}
	cb, err := crystal.ParseChangeOfBasis(sol.ChangeOfBasis)
	if err != nil {
		return nil, 0, err
	}

	console := capture.Console(ctx)
	fmt.Fprintln(console, "Old crystal:")
	fmt.Fprintln(console, model)
	model.Update(sol.RefinedCrystal)
	fmt.Fprintln(console, "New crystal:")
	fmt.Fprintln(console, model)

	out := indexed.Clone()
	dropped := 0
	for i := range out {
		if out[i].Excluded {
			continue
		}
		h, ok := cb.Apply(out[i].Index)
		if !ok {
			out[i].Index = crystal.MillerIndex{}
			out[i].Excluded = true
			dropped++
			continue
		}
		out[i].Index = h
	}
	if dropped > 0 {
		fmt.Fprintf(console, "Removing %d/%d reflections (change of basis results in non-integral indices)\n", dropped, len(out))
	}
	return out, dropped, nil
}
