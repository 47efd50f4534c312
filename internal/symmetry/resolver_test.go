package symmetry

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/tendant/xtal-pipeline/internal/capture"
	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
	"github.com/tendant/xtal-pipeline/internal/engine"
)

type fakeGenerator struct {
	fn     func(params engine.CandidateParams, model *crystal.Model) ([]crystal.BravaisSolution, error)
	params engine.CandidateParams
}

func (f *fakeGenerator) GenerateBravaisCandidates(_ context.Context, params engine.CandidateParams, model *crystal.Model, _ crystal.ObservationSet) ([]crystal.BravaisSolution, error) {
	f.params = params
	return f.fn(params, model)
}

func solution(bravais string, recommended bool, angle float64) crystal.BravaisSolution {
	return crystal.BravaisSolution{
		Bravais:              bravais,
		Recommended:          recommended,
		MaxAngularDifference: angle,
		ChangeOfBasis:        "a,b,c",
		RefinedCrystal:       &crystal.Model{SpaceGroup: bravais},
	}
}

func triclinicModel() *crystal.Model {
	return &crystal.Model{
		SpaceGroup: "P 1",
		Cell:       crystal.NewUnitCell([6]float64{78.1, 78.3, 37.0, 90.1, 89.9, 90.2}),
		A:          [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Extra:      map[string]float64{"rmsd": 0.12},
	}
}

func TestSelectPrefersHighestSymmetryFamily(t *testing.T) {
	got := Select([]crystal.BravaisSolution{
		solution("mP", true, 0.1),
		solution("aP", true, 0.0),
		solution("oP", true, 0.4),
	})
	if got == nil || got.Bravais != "oP" {
		t.Fatalf("expected oP, got %+v", got)
	}
}

func TestSelectBreaksTiesByAngularDifference(t *testing.T) {
	got := Select([]crystal.BravaisSolution{
		solution("tP", true, 0.9),
		solution("tP", true, 0.2),
		solution("tP", false, 0.0),
		solution("oC", true, 0.05),
	})
	if got == nil || got.Bravais != "tP" || got.MaxAngularDifference != 0.2 {
		t.Fatalf("expected recommended tP with 0.2, got %+v", got)
	}
}

func TestSelectEqualAnglesKeepsFirst(t *testing.T) {
	a := solution("mC", true, 0.3)
	a.ChangeOfBasis = "a+b,-a+b,c"
	b := solution("mC", true, 0.3)
	got := Select([]crystal.BravaisSolution{a, b})
	if got == nil || got.ChangeOfBasis != "a+b,-a+b,c" {
		t.Fatalf("expected first mC, got %+v", got)
	}
}

func TestSelectNothingRecommended(t *testing.T) {
	if got := Select([]crystal.BravaisSolution{solution("oP", false, 0.1)}); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
	if got := Select(nil); got != nil {
		t.Fatalf("expected nil for empty list")
	}
	if got := Select([]crystal.BravaisSolution{solution("xQ", true, 0.1)}); got != nil {
		t.Fatalf("unknown family must be ignored, got %+v", got)
	}
}

func TestResolveUsesFixedCandidateBounds(t *testing.T) {
	gen := &fakeGenerator{fn: func(engine.CandidateParams, *crystal.Model) ([]crystal.BravaisSolution, error) {
		return []crystal.BravaisSolution{solution("aP", true, 0), solution("mP", true, 0.1)}, nil
	}}
	settings := config.DefaultProcessing()
	sol, err := NewResolver(gen).Resolve(context.Background(), settings, triclinicModel(), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sol == nil || sol.Bravais != "mP" {
		t.Fatalf("expected mP, got %+v", sol)
	}
	if gen.params.LepageMaxDelta != 5 || gen.params.RefinerVerbosity != 10 || gen.params.OutlierAlgorithm != "tukey" {
		t.Fatalf("unexpected params %+v", gen.params)
	}
	if gen.params.Settings.Refinement.OutlierAlgorithm != "tukey" {
		t.Fatalf("outlier algorithm not set on settings")
	}
	if settings.Refinement.OutlierAlgorithm != "" {
		t.Fatalf("caller settings mutated")
	}
}

func TestResolveRestoresModelOnFailure(t *testing.T) {
	gen := &fakeGenerator{fn: func(_ engine.CandidateParams, model *crystal.Model) ([]crystal.BravaisSolution, error) {
		model.SpaceGroup = "C 2"
		model.Cell = crystal.NewUnitCell([6]float64{110, 78, 37, 90, 95, 90})
		model.A[0] = 42
		model.Extra["rmsd"] = 9
		return nil, &engine.Error{Class: "RuntimeError", Message: "refinement failed"}
	}}
	model := triclinicModel()
	before := triclinicModel()

	sol, err := NewResolver(gen).Resolve(context.Background(), config.DefaultProcessing(), model, nil)
	if sol != nil {
		t.Fatalf("expected no solution, got %+v", sol)
	}
	if err == nil {
		t.Fatalf("expected generation error to be reported")
	}
	if !reflect.DeepEqual(model, before) {
		t.Fatalf("model not restored:\n got %+v\nwant %+v", model, before)
	}
}

func TestResolveRecoversPanic(t *testing.T) {
	gen := &fakeGenerator{fn: func(_ engine.CandidateParams, model *crystal.Model) ([]crystal.BravaisSolution, error) {
		model.SpaceGroup = "I 4"
		panic("index out of range")
	}}
	model := triclinicModel()
	sol, err := NewResolver(gen).Resolve(context.Background(), config.DefaultProcessing(), model, nil)
	if sol != nil || err == nil {
		t.Fatalf("expected recovered panic, got %v %v", sol, err)
	}
	if model.SpaceGroup != "P 1" {
		t.Fatalf("model not restored after panic: %s", model.SpaceGroup)
	}
}

func TestReindexDropsNonIntegralIndices(t *testing.T) {
	indexed := crystal.ObservationSet{
		{Index: crystal.MillerIndex{2, 4, 1}, Intensity: 10, Sigma: 1},
		{Index: crystal.MillerIndex{1, 2, 0}, Intensity: 10, Sigma: 1},
		{Index: crystal.MillerIndex{1, 1, 0}, Intensity: 10, Sigma: 1},
		{Index: crystal.MillerIndex{0, 2, 5}, Intensity: 10, Sigma: 1},
	}
	sol := solution("oC", true, 0.1)
	sol.ChangeOfBasis = "1/2*a+1/2*b,b/2,c"
	sol.RefinedCrystal = &crystal.Model{SpaceGroup: "C 2 2 2"}
	model := triclinicModel()
	buf := capture.NewBuffer()
	ctx := capture.WithConsole(context.Background(), buf)

	out, dropped, err := Reindex(ctx, model, &sol, indexed)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	active := out.Active()
	if dropped+active.Len() != indexed.Len() {
		t.Fatalf("dropped %d + retained %d != %d", dropped, active.Len(), indexed.Len())
	}
	for _, r := range out {
		if r.Excluded && !r.Index.IsZero() {
			t.Fatalf("excluded reflection kept index %v", r.Index)
		}
	}
	if active[0].Index != (crystal.MillerIndex{3, 2, 1}) || active[1].Index != (crystal.MillerIndex{1, 1, 5}) {
		t.Fatalf("unexpected reindexed indices %v %v", active[0].Index, active[1].Index)
	}
	if model.SpaceGroup != "C 2 2 2" {
		t.Fatalf("model not updated: %s", model.SpaceGroup)
	}
	if indexed[1].Excluded {
		t.Fatalf("input set mutated")
	}
	if !strings.Contains(strings.Join(buf.Lines(), "\n"), "Removing 2/4 reflections") {
		t.Fatalf("missing removal line in %q", buf.Lines())
	}
}

func TestReindexIdentityPrintsNoRemovalLine(t *testing.T) {
	indexed := crystal.ObservationSet{
		{Index: crystal.MillerIndex{1, 2, 3}, Intensity: 10, Sigma: 1},
		{Index: crystal.MillerIndex{0, 0, 4}, Intensity: 10, Sigma: 1},
	}
	sol := solution("mP", true, 0.1)
	sol.ChangeOfBasis = "a,b,c"
	sol.RefinedCrystal = &crystal.Model{SpaceGroup: "P 1 2 1"}
	buf := capture.NewBuffer()
	ctx := capture.WithConsole(context.Background(), buf)

	_, dropped, err := Reindex(ctx, triclinicModel(), &sol, indexed)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if dropped != 0 {
		t.Fatalf("identity dropped %d", dropped)
	}
	for _, line := range buf.Lines() {
		if strings.Contains(line, "Removing") {
			t.Fatalf("unexpected removal line %q", line)
		}
	}
}

func TestReindexRejectsBadOperatorBeforeUpdating(t *testing.T) {
	sol := solution("mP", true, 0.1)
	sol.ChangeOfBasis = "a,b"
	model := triclinicModel()
	if _, _, err := Reindex(context.Background(), model, &sol, nil); err == nil {
		t.Fatalf("expected parse error")
	}
	if model.SpaceGroup != "P 1" {
		t.Fatalf("model changed on error")
	}

	sol = solution("mP", true, 0.1)
	sol.RefinedCrystal = nil
	if _, _, err := Reindex(context.Background(), model, &sol, nil); !errors.Is(err, ErrNoRefinedCrystal) {
		t.Fatalf("expected ErrNoRefinedCrystal, got %v", err)
	}
}
