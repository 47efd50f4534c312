// Package config holds the two settings layers of the pipeline: Params, the
// operator-facing pipeline configuration, and Processing, the engine
// settings bundle built once per image.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/tendant/xtal-pipeline/internal/crystal"
	"gopkg.in/yaml.v3"
)

// Params is the pipeline configuration file.
type Params struct {
	ImageImport ImageImport     `yaml:"image_import"`
	Advanced    Advanced        `yaml:"advanced"`
	Engine      EngineParams    `yaml:"engine"`
	Triage      TriageParams    `yaml:"triage"`
	Selection   SelectionParams `yaml:"selection"`
}

type BeamCenter struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// ImageImport carries detector overrides applied to every image.
type ImageImport struct {
	BeamCenter BeamCenter `yaml:"beam_center"`
	Distance   float64    `yaml:"distance"`
	Mask       string     `yaml:"mask"`
}

type Advanced struct {
	EstimateGain bool `yaml:"estimate_gain"`
}

// EngineParams selects engine behaviour per run.
type EngineParams struct {
	// Target is an optional Processing settings file used as the base template.
	Target                string             `yaml:"target"`
	TargetSpaceGroup      string             `yaml:"target_space_group"`
	TargetUnitCell        *crystal.UnitCell  `yaml:"target_unit_cell"`
	UseFFT3D              bool               `yaml:"use_fft3d"`
	SignificanceFilter    SignificanceParams `yaml:"significance_filter"`
	AutoThreshold         bool               `yaml:"auto_threshold"`
	DetermineSGAndReindex bool               `yaml:"determine_sg_and_reindex"`
	Filter                FilterParams       `yaml:"filter"`
}

type SignificanceParams struct {
	FlagOn bool     `yaml:"flag_on"`
	Sigma  *float64 `yaml:"sigma"`
}

// FilterParams configures the post-integration acceptance filter. Every
// criterion is optional.
type FilterParams struct {
	FlagOn            bool              `yaml:"flag_on"`
	TargetUCTolerance float64           `yaml:"target_uc_tolerance"`
	TargetPointGroup  string            `yaml:"target_pointgroup"`
	TargetUnitCell    *crystal.UnitCell `yaml:"target_unit_cell"`
	MinReflections    int               `yaml:"min_reflections"`
	MinResolution     *float64          `yaml:"min_resolution"`
}

type TriageParams struct {
	MinBraggPeaks int `yaml:"min_bragg_peaks"`
}

type SelectionParams struct {
	// MinSigma is the I/sigma(I) bound for counting a reflection as strong.
	MinSigma float64 `yaml:"min_sigma"`
}

// DefaultParams returns the settings used when no file is given.
func DefaultParams() Params {
	return Params{
		Engine: EngineParams{
			DetermineSGAndReindex: true,
			Filter: FilterParams{
				TargetUCTolerance: 0.05,
			},
		},
		Triage:    TriageParams{MinBraggPeaks: 10},
		Selection: SelectionParams{MinSigma: 5},
	}
}

// LoadParams reads a YAML file over DefaultParams. Keys absent from the file
// keep their default.
func LoadParams(path string) (*Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	p := DefaultParams()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &p, nil
}

func (p *Params) normalize() {
	p.ImageImport.Mask = strings.TrimSpace(p.ImageImport.Mask)
	p.Engine.Target = strings.TrimSpace(p.Engine.Target)
	p.Engine.TargetSpaceGroup = strings.TrimSpace(p.Engine.TargetSpaceGroup)
	p.Engine.Filter.TargetPointGroup = strings.TrimSpace(p.Engine.Filter.TargetPointGroup)
}

// Validate rejects settings no run could honour.
func (p Params) Validate() error {
	if p.Engine.Filter.TargetUCTolerance < 0 {
		return fmt.Errorf("engine.filter.target_uc_tolerance must be >= 0")
	}
	if p.Engine.Filter.MinReflections < 0 {
		return fmt.Errorf("engine.filter.min_reflections must be >= 0")
	}
	if r := p.Engine.Filter.MinResolution; r != nil && *r <= 0 {
		return fmt.Errorf("engine.filter.min_resolution must be > 0")
	}
	if p.Triage.MinBraggPeaks < 0 {
		return fmt.Errorf("triage.min_bragg_peaks must be >= 0")
	}
	if s := p.Engine.SignificanceFilter.Sigma; s != nil && *s < 0 {
		return fmt.Errorf("engine.significance_filter.sigma must be >= 0")
	}
	return nil
}
