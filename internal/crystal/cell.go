package crystal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// UnitCell holds the six lattice parameters: edge lengths in Angstrom and
// inter-axial angles in degrees.
type UnitCell struct {
	A     float64 `json:"a" yaml:"a"`
	B     float64 `json:"b" yaml:"b"`
	C     float64 `json:"c" yaml:"c"`
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta" yaml:"beta"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
}

// NewUnitCell builds a cell from the conventional parameter order.
func NewUnitCell(p [6]float64) UnitCell {
	return UnitCell{A: p[0], B: p[1], C: p[2], Alpha: p[3], Beta: p[4], Gamma: p[5]}
}

// ParseUnitCell accepts six numbers separated by spaces and/or commas,
// e.g. "78 78 37 90 90 90" or "78.0, 78.0, 37.0, 90, 90, 90".
func ParseUnitCell(s string) (UnitCell, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != 6 {
		return UnitCell{}, fmt.Errorf("crystal: unit cell needs 6 parameters, got %d in %q", len(fields), s)
	}
	var p [6]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return UnitCell{}, fmt.Errorf("crystal: unit cell parameter %d: %w", i+1, err)
		}
		p[i] = v
	}
	return NewUnitCell(p), nil
}

// Parameters returns (a, b, c, alpha, beta, gamma).
func (u UnitCell) Parameters() [6]float64 {
	return [6]float64{u.A, u.B, u.C, u.Alpha, u.Beta, u.Gamma}
}

// String formats the cell the way status lines print it.
func (u UnitCell) String() string {
	p := u.Parameters()
	return fmt.Sprintf("%6.2f, %6.2f, %6.2f, %6.2f, %6.2f, %6.2f", p[0], p[1], p[2], p[3], p[4], p[5])
}

// WithinTolerance reports whether every parameter of u differs from the
// matching parameter of target by no more than target*tol.
func (u UnitCell) WithinTolerance(target UnitCell, tol float64) bool {
	obs := u.Parameters()
	ref := target.Parameters()
	for i := range obs {
		if math.Abs(obs[i]-ref[i]) > ref[i]*tol {
			return false
		}
	}
	return true
}

// MarshalYAML and UnmarshalYAML let settings files write a cell as a
// six-number string.
func (u UnitCell) MarshalYAML() (interface{}, error) {
	p := u.Parameters()
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, " "), nil
}

func (u *UnitCell) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		var list []float64
		if lerr := unmarshal(&list); lerr != nil {
			return err
		}
		if len(list) != 6 {
			return fmt.Errorf("crystal: unit cell needs 6 parameters, got %d", len(list))
		}
		var p [6]float64
		copy(p[:], list)
		*u = NewUnitCell(p)
		return nil
	}
	parsed, err := ParseUnitCell(raw)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// DSpacing returns the interplanar spacing for h using the reciprocal
// metric tensor. Zero indices and degenerate cells yield +Inf.
func (u UnitCell) DSpacing(h MillerIndex) float64 {
	if h.IsZero() {
		return math.Inf(1)
	}
	g, ok := u.reciprocalMetric()
	if !ok {
		return math.Inf(1)
	}
	hv := [3]float64{float64(h[0]), float64(h[1]), float64(h[2])}
	var s float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s += hv[i] * g[i][j] * hv[j]
		}
	}
	if s <= 0 {
		return math.Inf(1)
	}
	return 1 / math.Sqrt(s)
}

func (u UnitCell) reciprocalMetric() ([3][3]float64, bool) {
	ca := math.Cos(u.Alpha * math.Pi / 180)
	cb := math.Cos(u.Beta * math.Pi / 180)
	cg := math.Cos(u.Gamma * math.Pi / 180)
	m := [3][3]float64{
		{u.A * u.A, u.A * u.B * cg, u.A * u.C * cb},
		{u.A * u.B * cg, u.B * u.B, u.B * u.C * ca},
		{u.A * u.C * cb, u.B * u.C * ca, u.C * u.C},
	}
	return invert3(m)
}

func invert3(m [3][3]float64) ([3][3]float64, bool) {
	det := m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
	if det == 0 || math.IsNaN(det) {
		return [3][3]float64{}, false
	}
	inv := [3][3]float64{
		{m[1][1]*m[2][2] - m[1][2]*m[2][1], m[0][2]*m[2][1] - m[0][1]*m[2][2], m[0][1]*m[1][2] - m[0][2]*m[1][1]},
		{m[1][2]*m[2][0] - m[1][0]*m[2][2], m[0][0]*m[2][2] - m[0][2]*m[2][0], m[0][2]*m[1][0] - m[0][0]*m[1][2]},
		{m[1][0]*m[2][1] - m[1][1]*m[2][0], m[0][1]*m[2][0] - m[0][0]*m[2][1], m[0][0]*m[1][1] - m[0][1]*m[1][0]},
	}
	for i := range inv {
		for j := range inv[i] {
			inv[i][j] /= det
		}
	}
	return inv, true
}
