package workflows

import (
	"context"
	"errors"

	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
	"github.com/tendant/xtal-pipeline/internal/engine"
	"github.com/tendant/xtal-pipeline/internal/storage"
	"github.com/tendant/xtal-pipeline/internal/symmetry"
)

// Processor is the stage executor the workflows drive. Spot finding,
// indexing, refinement and integration go straight to the engine; lattice
// selection, reindexing and artifact output are implemented here.
type Processor struct {
	engine   engine.Engine
	resolver *symmetry.Resolver
	store    storage.ArtifactWriter
}

// NewProcessor wraps eng. store receives the integration artifact.
func NewProcessor(eng engine.Engine, store storage.ArtifactWriter) *Processor {
	return &Processor{
		engine:   eng,
		resolver: symmetry.NewResolver(eng),
		store:    store,
	}
}

func (p *Processor) FindSpots(ctx context.Context, image string, settings config.Processing) (crystal.ObservationSet, error) {
	return p.engine.FindSpots(ctx, image, settings)
}

func (p *Processor) Index(ctx context.Context, image string, settings config.Processing, spots crystal.ObservationSet) (*crystal.Model, crystal.ObservationSet, error) {
	model, indexed, err := p.engine.Index(ctx, image, settings, spots)
	if err != nil {
		return nil, nil, err
	}
	if model == nil {
		return nil, nil, errors.New("indexing produced no crystal model")
	}
	return model, indexed, nil
}

// RefineBravaisSettings returns the accepted higher-symmetry solution for a
// triclinic model, or nil to keep the current one. On error model is left
// as it was before the call.
func (p *Processor) RefineBravaisSettings(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*crystal.BravaisSolution, error) {
	return p.resolver.Resolve(ctx, settings, model, indexed)
}

// Reindex moves model and indexed into sol's setting and returns the new
// set with the number of reflections dropped.
func (p *Processor) Reindex(ctx context.Context, model *crystal.Model, sol *crystal.BravaisSolution, indexed crystal.ObservationSet) (crystal.ObservationSet, int, error) {
	return symmetry.Reindex(ctx, model, sol, indexed)
}

func (p *Processor) Refine(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*crystal.Model, crystal.ObservationSet, error) {
	refined, reflections, err := p.engine.Refine(ctx, settings, model, indexed)
	if err != nil {
		return nil, nil, err
	}
	if refined == nil {
		return nil, nil, errors.New("refinement produced no crystal model")
	}
	return refined, reflections, nil
}

func (p *Processor) Integrate(ctx context.Context, settings config.Processing, model *crystal.Model, indexed crystal.ObservationSet) (*engine.Frame, error) {
	frame, err := p.engine.Integrate(ctx, settings, model, indexed)
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, errors.New("integration produced no frame")
	}
	return frame, nil
}

// WriteOutput persists frame to the configured integration artifact path.
// Nothing is written when no path is configured.
func (p *Processor) WriteOutput(ctx context.Context, settings config.Processing, frame *engine.Frame) error {
	path := settings.Output.IntegrationArtifact
	if path == "" || p.store == nil {
		return nil
	}
	return p.store.WriteArtifact(ctx, path, frame)
}
