package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tendant/xtal-pipeline/internal/crystal"
	"gopkg.in/yaml.v3"
)

// Processing is the settings bundle handed to the engine for one image.
// It is built once per image and must not be mutated after the run starts;
// use Clone to derive a modified copy.
type Processing struct {
	Geometry           Geometry     `yaml:"geometry" json:"geometry"`
	Spotfinder         Spotfinder   `yaml:"spotfinder" json:"spotfinder"`
	Integration        Integration  `yaml:"integration" json:"integration"`
	Indexing           Indexing     `yaml:"indexing" json:"indexing"`
	SignificanceFilter Significance `yaml:"significance_filter" json:"significance_filter"`
	Refinement         Refinement   `yaml:"refinement" json:"refinement"`
	Output             Output       `yaml:"output" json:"output"`
}

type Geometry struct {
	Detector Detector `yaml:"detector" json:"detector"`
}

type Detector struct {
	// SlowFastBeamCentre is "slow fast" in pixels, empty for image header value.
	SlowFastBeamCentre string  `yaml:"slow_fast_beam_centre,omitempty" json:"slow_fast_beam_centre,omitempty"`
	Distance           float64 `yaml:"distance,omitempty" json:"distance,omitempty"`
}

type Spotfinder struct {
	Threshold Threshold `yaml:"threshold" json:"threshold"`
	Lookup    Lookup    `yaml:"lookup" json:"lookup"`
}

type Threshold struct {
	Dispersion Dispersion `yaml:"dispersion" json:"dispersion"`
}

type Dispersion struct {
	Gain            float64 `yaml:"gain" json:"gain"`
	GlobalThreshold float64 `yaml:"global_threshold" json:"global_threshold"`
	SigmaStrong     float64 `yaml:"sigma_strong" json:"sigma_strong"`
	MinSpotSize     int     `yaml:"min_spot_size" json:"min_spot_size"`
}

type Lookup struct {
	Mask string `yaml:"mask,omitempty" json:"mask,omitempty"`
}

type Integration struct {
	Lookup Lookup `yaml:"lookup" json:"lookup"`
}

type Indexing struct {
	KnownSymmetry KnownSymmetry `yaml:"known_symmetry" json:"known_symmetry"`
	Stills        Stills        `yaml:"stills" json:"stills"`
}

type KnownSymmetry struct {
	SpaceGroup string            `yaml:"space_group,omitempty" json:"space_group,omitempty"`
	UnitCell   *crystal.UnitCell `yaml:"unit_cell,omitempty" json:"unit_cell,omitempty"`
}

type Stills struct {
	MethodList []string `yaml:"method_list,omitempty" json:"method_list,omitempty"`
}

type Significance struct {
	Enable      bool    `yaml:"enable" json:"enable"`
	ISigICutoff float64 `yaml:"isigi_cutoff" json:"isigi_cutoff"`
}

type Refinement struct {
	OutlierAlgorithm string `yaml:"outlier_algorithm,omitempty" json:"outlier_algorithm,omitempty"`
}

// Output names every per-image file the engine may write. Empty means the
// file is not written.
type Output struct {
	DatablockFilename             string `yaml:"datablock_filename,omitempty" json:"datablock_filename,omitempty"`
	StrongFilename                string `yaml:"strong_filename,omitempty" json:"strong_filename,omitempty"`
	IndexedFilename               string `yaml:"indexed_filename,omitempty" json:"indexed_filename,omitempty"`
	RefinedExperimentsFilename    string `yaml:"refined_experiments_filename,omitempty" json:"refined_experiments_filename,omitempty"`
	IntegratedExperimentsFilename string `yaml:"integrated_experiments_filename,omitempty" json:"integrated_experiments_filename,omitempty"`
	IntegratedFilename            string `yaml:"integrated_filename,omitempty" json:"integrated_filename,omitempty"`
	ProfileFilename               string `yaml:"profile_filename,omitempty" json:"profile_filename,omitempty"`
	IntegrationArtifact           string `yaml:"integration_artifact,omitempty" json:"integration_artifact,omitempty"`
}

// DefaultProcessing mirrors the engine's built-in defaults.
func DefaultProcessing() Processing {
	return Processing{
		Spotfinder: Spotfinder{
			Threshold: Threshold{Dispersion: Dispersion{
				Gain:        1,
				SigmaStrong: 3,
				MinSpotSize: 2,
			}},
		},
		SignificanceFilter: Significance{ISigICutoff: 1},
	}
}

// LoadProcessing reads a settings file over DefaultProcessing.
func LoadProcessing(path string) (Processing, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Processing{}, fmt.Errorf("config: read settings %s: %w", path, err)
	}
	p := DefaultProcessing()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Processing{}, fmt.Errorf("config: parse settings %s: %w", path, err)
	}
	return p, nil
}

// BaseProcessing returns the template for params: the target settings file
// when one is configured, otherwise the defaults.
func BaseProcessing(params Params) (Processing, error) {
	if params.Engine.Target == "" {
		return DefaultProcessing(), nil
	}
	return LoadProcessing(params.Engine.Target)
}

// Clone returns a copy sharing no slices or pointers with p.
func (p Processing) Clone() Processing {
	out := p
	if p.Indexing.KnownSymmetry.UnitCell != nil {
		uc := *p.Indexing.KnownSymmetry.UnitCell
		out.Indexing.KnownSymmetry.UnitCell = &uc
	}
	if p.Indexing.Stills.MethodList != nil {
		out.Indexing.Stills.MethodList = append([]string(nil), p.Indexing.Stills.MethodList...)
	}
	return out
}

// Inputs are the per-image values that complete a Processing bundle.
type Inputs struct {
	Image     string
	ObjectDir string
	FinalPath string
	// Gain is applied only when Params.Advanced.EstimateGain is set.
	Gain float64
	// CenterIntensity seeds the global threshold when auto_threshold is on.
	CenterIntensity float64
}

var fft3dMethods = []string{"fft1d", "fft3d", "real_space_grid_search"}

// Build applies params and per-image inputs to base and returns the bundle
// for one integration run.
func Build(base Processing, params Params, in Inputs) Processing {
	p := base.Clone()
	applyDetector(&p, params, in)

	name := ImageBasename(in.Image)
	dir := in.ObjectDir
	p.Output = Output{
		DatablockFilename:             filepath.Join(dir, name+".json"),
		IndexedFilename:               filepath.Join(dir, name+"_indexed.pickle"),
		StrongFilename:                filepath.Join(dir, name+"_strong.pickle"),
		RefinedExperimentsFilename:    filepath.Join(dir, name+"_refined_experiments.json"),
		IntegratedExperimentsFilename: filepath.Join(dir, name+"_integrated_experiments.json"),
		IntegratedFilename:            filepath.Join(dir, name+"_integrated.pickle"),
		ProfileFilename:               filepath.Join(dir, name+"_profile.phil"),
		IntegrationArtifact:           in.FinalPath,
	}

	if sg := params.Engine.TargetSpaceGroup; sg != "" {
		p.Indexing.KnownSymmetry.SpaceGroup = sg
	}
	if uc := params.Engine.TargetUnitCell; uc != nil {
		cell := *uc
		p.Indexing.KnownSymmetry.UnitCell = &cell
	}
	if params.Engine.UseFFT3D {
		p.Indexing.Stills.MethodList = append([]string(nil), fft3dMethods...)
	}
	if sf := params.Engine.SignificanceFilter; sf.FlagOn && sf.Sigma != nil {
		p.SignificanceFilter.Enable = true
		p.SignificanceFilter.ISigICutoff = *sf.Sigma
	}
	return p
}

// BuildTriage prepares the lighter bundle used for spot-finding-only triage.
// No per-image files are written.
func BuildTriage(base Processing, params Params, gain, centerIntensity float64) Processing {
	p := base.Clone()
	applyDetector(&p, params, Inputs{Gain: gain, CenterIntensity: centerIntensity})
	p.Output = Output{}
	return p
}

func applyDetector(p *Processing, params Params, in Inputs) {
	bc := params.ImageImport.BeamCenter
	if bc.X != 0 || bc.Y != 0 {
		p.Geometry.Detector.SlowFastBeamCentre = strconv.FormatFloat(bc.Y, 'f', -1, 64) + " " +
			strconv.FormatFloat(bc.X, 'f', -1, 64)
	}
	if d := params.ImageImport.Distance; d != 0 {
		p.Geometry.Detector.Distance = d
	}
	if mask := params.ImageImport.Mask; mask != "" {
		p.Spotfinder.Lookup.Mask = mask
		p.Integration.Lookup.Mask = mask
	}
	if params.Engine.AutoThreshold {
		p.Spotfinder.Threshold.Dispersion.GlobalThreshold = float64(int(in.CenterIntensity))
	}
	if params.Advanced.EstimateGain {
		p.Spotfinder.Threshold.Dispersion.Gain = in.Gain
	}
}

// ImageBasename is the file name of image without directory or extension.
func ImageBasename(image string) string {
	base := filepath.Base(image)
	if i := strings.Index(base, "."); i > 0 {
		return base[:i]
	}
	return base
}
