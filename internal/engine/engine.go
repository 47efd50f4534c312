// Package engine defines the contracts of the numerical processing engines
// the pipeline drives. Spot finding, indexing, lattice candidate generation,
// refinement and integration are opaque: implementations live behind these
// interfaces and report failure through returned errors.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
)

// ErrNoEngine is returned by Composite for a capability it was not given.
var ErrNoEngine = errors.New("engine: capability not configured")

// SpotFinder detects strong spots on one image.
type SpotFinder interface {
	FindSpots(ctx context.Context, image string, settings config.Processing) (crystal.ObservationSet, error)
}

// Indexer finds a lattice consistent with the spots.
type Indexer interface {
	Index(ctx context.Context, image string, settings config.Processing, spots crystal.ObservationSet) (*crystal.Model, crystal.ObservationSet, error)
}

// CandidateParams bounds candidate lattice generation.
type CandidateParams struct {
	Settings         config.Processing
	OutlierAlgorithm string
	LepageMaxDelta   float64
	RefinerVerbosity int
}

// CandidateGenerator proposes higher-symmetry lattices for a triclinic
// model. Implementations may modify model in place, even when failing.
type CandidateGenerator interface {
	GenerateBravaisCandidates(ctx context.Context, params CandidateParams, model *crystal.Model, indexed crystal.ObservationSet) ([]crystal.BravaisSolution, error)
}

// Refiner refines the crystal model against the indexed reflections.
type Refiner interface {
	Refine(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*crystal.Model, crystal.ObservationSet, error)
}

// Integrator measures intensities under the refined model.
type Integrator interface {
	Integrate(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*Frame, error)
}

// Engine is the full capability set.
type Engine interface {
	SpotFinder
	Indexer
	CandidateGenerator
	Refiner
	Integrator
}

// Frame is the integrated result for one image.
type Frame struct {
	Observations crystal.ObservationSet `json:"observations"`
	PointGroup   string                 `json:"pointgroup"`
	Cell         crystal.UnitCell       `json:"unit_cell"`
	Crystal      *crystal.Model         `json:"crystal,omitempty"`
	Wavelength   float64                `json:"wavelength"`
	Distance     float64                `json:"distance"`
	BeamX        float64                `json:"xbeam"`
	BeamY        float64                `json:"ybeam"`
	PixelSize    float64                `json:"pixel_size,omitempty"`

	// Estimates below are optional; nil means the integrator did not
	// produce them.
	HalfMosaicityDeg    *float64 `json:"ML_half_mosaicity_deg,omitempty"`
	DomainSizeAng       *float64 `json:"ML_domain_size_ang,omitempty"`
	EwaldProximalVolume *float64 `json:"ewald_proximal_volume,omitempty"`
}

// Error is a classified engine failure. Class names the failure family the
// engine reports (e.g. "Sorry") and is kept in status messages.
type Error struct {
	Class   string
	Message string
}

func (e *Error) Error() string {
	if e.Class == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// ClassName returns the failure family.
func (e *Error) ClassName() string { return e.Class }

// Composite assembles an Engine from independent capability providers, so
// one capability can be served locally while the rest go to a remote engine.
type Composite struct {
	Spots       SpotFinder
	Indexing    Indexer
	Candidates  CandidateGenerator
	Refinement  Refiner
	Integration Integrator
}

var _ Engine = Composite{}

func (c Composite) FindSpots(ctx context.Context, image string, settings config.Processing) (crystal.ObservationSet, error) {
	if c.Spots == nil {
		return nil, fmt.Errorf("spot finding: %w", ErrNoEngine)
	}
	return c.Spots.FindSpots(ctx, image, settings)
}

func (c Composite) Index(ctx context.Context, image string, settings config.Processing, spots crystal.ObservationSet) (*crystal.Model, crystal.ObservationSet, error) {
	if c.Indexing == nil {
		return nil, nil, fmt.Errorf("indexing: %w", ErrNoEngine)
	}
	return c.Indexing.Index(ctx, image, settings, spots)
}

func (c Composite) GenerateBravaisCandidates(ctx context.Context, params CandidateParams, model *crystal.Model, indexed crystal.ObservationSet) ([]crystal.BravaisSolution, error) {
	if c.Candidates == nil {
		return nil, fmt.Errorf("bravais settings: %w", ErrNoEngine)
	}
	return c.Candidates.GenerateBravaisCandidates(ctx, params, model, indexed)
}

func (c Composite) Refine(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*crystal.Model, crystal.ObservationSet, error) {
	if c.Refinement == nil {
		return nil, nil, fmt.Errorf("refinement: %w", ErrNoEngine)
	}
	return c.Refinement.Refine(ctx, settings, model, indexed)
}

func (c Composite) Integrate(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*Frame, error) {
	if c.Integration == nil {
		return nil, fmt.Errorf("integration: %w", ErrNoEngine)
	}
	return c.Integration.Integrate(ctx, settings, model, indexed)
}
