package crystal

import (
	"fmt"
	"strings"
)

// TriclinicSpaceGroup is the maximally general symmetry indexing starts from.
const TriclinicSpaceGroup = "P1"

// Model is the crystal model an indexing engine produces: a symmetry
// assignment, its cell and the setting matrix (row-major A = UB).
type Model struct {
	SpaceGroup string             `json:"space_group"`
	Cell       UnitCell           `json:"unit_cell"`
	A          [9]float64         `json:"a_matrix"`
	Mosaicity  float64            `json:"mosaicity,omitempty"`
	Extra      map[string]float64 `json:"extra,omitempty"`
}

// Clone returns a deep copy so callers can restore a model an engine may
// have modified in place.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	out := *m
	if m.Extra != nil {
		out.Extra = make(map[string]float64, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// Restore overwrites m with a copy of src.
func (m *Model) Restore(src *Model) {
	if m == nil || src == nil {
		return
	}
	*m = *src.Clone()
}

// Update replaces the symmetry, cell and orientation with other's.
func (m *Model) Update(other *Model) {
	m.Restore(other)
}

// CompactSpaceGroup returns the space group symbol with whitespace removed.
func (m *Model) CompactSpaceGroup() string {
	if m == nil {
		return ""
	}
	return CompactSymbol(m.SpaceGroup)
}

// CompactSymbol strips all whitespace from a symmetry symbol so
// "P 4 2 2" and "P422" compare equal.
func CompactSymbol(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func (m *Model) String() string {
	if m == nil {
		return "Crystal: <none>"
	}
	return fmt.Sprintf("Crystal:\n    Unit cell: (%s)\n    Space group: %s", m.Cell, m.SpaceGroup)
}
