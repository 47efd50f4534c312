package workflows

import (
	"context"
	"fmt"
	"sync"

	"github.com/tendant/xtal-pipeline/internal/capture"
	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
	"github.com/tendant/xtal-pipeline/internal/engine"
	"github.com/tendant/xtal-pipeline/pkg/pipeline"
)

// fakeEngine scripts every engine capability and records the call order.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string

	console []string

	spots      crystal.ObservationSet
	spotsErr   error
	indexPanic any
	indexErr   error
	model      *crystal.Model
	indexed    crystal.ObservationSet

	candidates []crystal.BravaisSolution
	candErr    error

	refineErr      error
	refinedGroup   string
	refinedIndices []crystal.MillerIndex

	frame        *engine.Frame
	integrateErr error
}

func (f *fakeEngine) called(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeEngine) FindSpots(ctx context.Context, image string, settings config.Processing) (crystal.ObservationSet, error) {
	f.called("find_spots")
	for _, line := range f.console {
		fmt.Fprintln(capture.Console(ctx), line)
	}
	if f.spotsErr != nil {
		return nil, f.spotsErr
	}
	return f.spots, nil
}

func (f *fakeEngine) Index(ctx context.Context, image string, settings config.Processing, spots crystal.ObservationSet) (*crystal.Model, crystal.ObservationSet, error) {
	f.called("index")
	if f.indexPanic != nil {
		panic(f.indexPanic)
	}
	if f.indexErr != nil {
		return nil, nil, f.indexErr
	}
	return f.model.Clone(), f.indexed.Clone(), nil
}

func (f *fakeEngine) GenerateBravaisCandidates(ctx context.Context, params engine.CandidateParams, model *crystal.Model, indexed crystal.ObservationSet) ([]crystal.BravaisSolution, error) {
	f.called("bravais")
	if f.candErr != nil {
		model.SpaceGroup = "C 1 2 1"
		model.A[4] = -3
		return nil, f.candErr
	}
	return f.candidates, nil
}

func (f *fakeEngine) Refine(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*crystal.Model, crystal.ObservationSet, error) {
	f.called("refine")
	f.mu.Lock()
	f.refinedGroup = model.SpaceGroup
	f.refinedIndices = nil
	for _, r := range indexed {
		f.refinedIndices = append(f.refinedIndices, r.Index)
	}
	f.mu.Unlock()
	if f.refineErr != nil {
		return nil, nil, f.refineErr
	}
	return model, indexed, nil
}

func (f *fakeEngine) Integrate(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*engine.Frame, error) {
	f.called("integrate")
	if f.integrateErr != nil {
		return nil, f.integrateErr
	}
	return f.frame, nil
}

// memStore is an in-memory artifact writer.
type memStore struct {
	mu        sync.Mutex
	artifacts map[string]any
	err       error
}

func newMemStore() *memStore {
	return &memStore{artifacts: map[string]any{}}
}

func (s *memStore) WriteArtifact(ctx context.Context, key string, v any) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[key] = v
	return nil
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.artifacts[key]
	return ok
}

// happyEngine returns an engine whose every stage succeeds and whose
// candidates include a recommended primitive orthorhombic lattice.
func happyEngine() *fakeEngine {
	hpl := func(h, k, l int) crystal.MillerIndex { return crystal.MillerIndex{h, k, l} }
	mosaicity := 0.01234567
	domain := 1500.0
	return &fakeEngine{
		spots: make(crystal.ObservationSet, 40),
		model: &crystal.Model{
			SpaceGroup: "P 1",
			Cell:       crystal.NewUnitCell([6]float64{78.1, 77.9, 37.0, 90.1, 89.9, 90.0}),
			A:          [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		},
		indexed: crystal.ObservationSet{
			{Index: hpl(1, 0, 0), Intensity: 100, Sigma: 10},
			{Index: hpl(0, 0, 10), Intensity: 200, Sigma: 10},
			{Index: hpl(2, 2, 5), Intensity: 10, Sigma: 10},
		},
		candidates: []crystal.BravaisSolution{
			{Bravais: "aP", Recommended: true, ChangeOfBasis: "a,b,c", RefinedCrystal: &crystal.Model{SpaceGroup: "P 1"}},
			{Bravais: "mP", Recommended: true, MaxAngularDifference: 0.1, ChangeOfBasis: "a,b,c", RefinedCrystal: &crystal.Model{SpaceGroup: "P 1 2 1"}},
			{Bravais: "oP", Recommended: true, MaxAngularDifference: 0.2, ChangeOfBasis: "a,b,c", RefinedCrystal: &crystal.Model{SpaceGroup: "P 2 2 2"}},
		},
		frame: &engine.Frame{
			Observations: crystal.ObservationSet{
				{Index: hpl(1, 0, 0), Intensity: 100, Sigma: 10},
				{Index: hpl(0, 0, 10), Intensity: 200, Sigma: 10},
				{Index: hpl(2, 2, 5), Intensity: 10, Sigma: 10},
			},
			PointGroup:       "P222",
			Cell:             crystal.NewUnitCell([6]float64{78, 78, 37, 90, 90, 90}),
			Wavelength:       1.30,
			Distance:         150,
			BeamX:            96.5,
			BeamY:            97.2,
			HalfMosaicityDeg: &mosaicity,
			DomainSizeAng:    &domain,
		},
	}
}

func pipelineRequest(image string) pipeline.ProcessRequest {
	return pipeline.ProcessRequest{Image: image, Job: pipeline.JobIntegrate}
}
