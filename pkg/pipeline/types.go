package pipeline

import "encoding/json"

// ProcessRequest represents a request to process one detector image
type ProcessRequest struct {
	Image string `json:"image"`
	Job   string `json:"job"` // integrate, triage

	// ObjectDir receives the per-image engine files; defaults to the
	// image's directory.
	ObjectDir string `json:"object_dir,omitempty"`
	// FinalPath is where the integration artifact is written on success.
	FinalPath string `json:"final_path,omitempty"`
	// LogPath receives the captured engine console output.
	LogPath string `json:"log_path,omitempty"`

	Gain            float64           `json:"gain,omitempty"`
	CenterIntensity float64           `json:"center_intensity,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ProcessResponse represents the response from triggering processing
type ProcessResponse struct {
	RunID     string          `json:"run_id"`
	SeenCount int             `json:"seen_count"`
	Outcome   *ProcessOutcome `json:"outcome,omitempty"`
}

// ProcessOutcome is the verdict of one run.
type ProcessOutcome struct {
	// Status is "ok" or a failure status such as "failed indexing".
	Status string `json:"status"`
	// Summary is the one-line verdict: the triage summary or the
	// integration info line.
	Summary string       `json:"summary"`
	Log     string       `json:"log,omitempty"`
	Result  *FinalResult `json:"result,omitempty"`
}

// OK reports whether the run passed.
func (o *ProcessOutcome) OK() bool {
	return o != nil && o.Status == StatusOK
}

// StatusOK is the status of a run that passed every stage.
const StatusOK = "ok"

// JobType constants
const (
	JobIntegrate = "integrate"
	JobTriage    = "triage"
)

// FinalResult is the structured record of one integration run. On failure
// only Info is set and ArtifactPath is empty. A successful record always
// carries every measured field, zeros included.
type FinalResult struct {
	OK           bool   `json:"ok"`
	Info         string `json:"info"`
	ArtifactPath string `json:"final,omitempty"`

	SpaceGroup string  `json:"sg"`
	A          float64 `json:"a"`
	B          float64 `json:"b"`
	C          float64 `json:"c"`
	Alpha      float64 `json:"alpha"`
	Beta       float64 `json:"beta"`
	Gamma      float64 `json:"gamma"`

	Wavelength float64 `json:"wavelength"`
	Distance   float64 `json:"distance"`
	BeamX      float64 `json:"beamX"`
	BeamY      float64 `json:"beamY"`

	Strong int     `json:"strong"`
	Res    float64 `json:"res"`
	LRes   float64 `json:"lres"`
	Mos    float64 `json:"mos"`
	// DomainSize is the estimated mosaic domain size in Angstrom.
	DomainSize float64 `json:"domain_size"`
	EPV        float64 `json:"epv"`
}

// MarshalJSON drops the measured fields from failed records.
func (r FinalResult) MarshalJSON() ([]byte, error) {
	if !r.OK {
		return json.Marshal(struct {
			OK   bool   `json:"ok"`
			Info string `json:"info"`
		}{Info: r.Info})
	}
	type record FinalResult
	return json.Marshal(record(r))
}

// Fields returns the record as the keyed values a caller merges into its
// own per-image aggregate. A failed run yields only info and a nil final
// path, so merging never leaves stale values from a previous success
// alongside a failure.
func (r FinalResult) Fields() map[string]any {
	if !r.OK {
		return map[string]any{
			"info":  r.Info,
			"final": nil,
		}
	}
	return map[string]any{
		"sg":          r.SpaceGroup,
		"a":           r.A,
		"b":           r.B,
		"c":           r.C,
		"alpha":       r.Alpha,
		"beta":        r.Beta,
		"gamma":       r.Gamma,
		"wavelength":  r.Wavelength,
		"distance":    r.Distance,
		"beamX":       r.BeamX,
		"beamY":       r.BeamY,
		"strong":      r.Strong,
		"res":         r.Res,
		"lres":        r.LRes,
		"mos":         r.Mos,
		"domain_size": r.DomainSize,
		"epv":         r.EPV,
		"info":        r.Info,
		"ok":          true,
		"final":       r.ArtifactPath,
	}
}

// Merge copies r's fields into dst, removing ok for failed runs.
func (r FinalResult) Merge(dst map[string]any) {
	if !r.OK {
		delete(dst, "ok")
	}
	for k, v := range r.Fields() {
		dst[k] = v
	}
}
