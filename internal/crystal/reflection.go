package crystal

import (
	"fmt"
	"math"
)

// MillerIndex is an (h, k, l) triple.
type MillerIndex [3]int

// IsZero reports whether the index is (0, 0, 0), the marker for an
// unindexed or excluded reflection.
func (h MillerIndex) IsZero() bool {
	return h[0] == 0 && h[1] == 0 && h[2] == 0
}

func (h MillerIndex) String() string {
	return fmt.Sprintf("(%d, %d, %d)", h[0], h[1], h[2])
}

// Reflection is one observed spot. Spot finding fills the centroid and
// intensity; indexing assigns the Miller index.
type Reflection struct {
	Index     MillerIndex `json:"miller_index"`
	Intensity float64     `json:"intensity"`
	Sigma     float64     `json:"sigma"`
	X         float64     `json:"x,omitempty"`
	Y         float64     `json:"y,omitempty"`
	Excluded  bool        `json:"excluded,omitempty"`
}

// SignalToNoise returns I/sigma. A zero sigma follows IEEE division.
func (r Reflection) SignalToNoise() float64 {
	return r.Intensity / r.Sigma
}

// ObservationSet is an ordered list of reflections.
type ObservationSet []Reflection

// Len counts every reflection, excluded or not.
func (s ObservationSet) Len() int { return len(s) }

// Active returns the reflections still selected for processing.
func (s ObservationSet) Active() ObservationSet {
	out := make(ObservationSet, 0, len(s))
	for _, r := range s {
		if !r.Excluded {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns an independent copy.
func (s ObservationSet) Clone() ObservationSet {
	if s == nil {
		return nil
	}
	out := make(ObservationSet, len(s))
	copy(out, s)
	return out
}

// CountStrong counts reflections with I/sigma >= minSigma.
func (s ObservationSet) CountStrong(minSigma float64) int {
	n := 0
	for _, r := range s {
		if r.SignalToNoise() >= minSigma {
			n++
		}
	}
	return n
}

// ResolutionRange returns (d_max, d_min) over the indexed reflections
// under cell. Both are zero when no reflection has a finite spacing.
func (s ObservationSet) ResolutionRange(cell UnitCell) (lowRes, highRes float64) {
	lowRes = 0
	highRes = math.Inf(1)
	for _, r := range s {
		d := cell.DSpacing(r.Index)
		if math.IsInf(d, 0) || math.IsNaN(d) {
			continue
		}
		if d > lowRes {
			lowRes = d
		}
		if d < highRes {
			highRes = d
		}
	}
	if math.IsInf(highRes, 1) {
		return 0, 0
	}
	return lowRes, highRes
}
