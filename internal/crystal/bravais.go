package crystal

// BravaisSolution is one candidate lattice for a triclinic indexing result.
type BravaisSolution struct {
	// Bravais is the two-letter lattice symbol, e.g. "mP" or "oC".
	Bravais              string  `json:"bravais"`
	Recommended          bool    `json:"recommended"`
	MaxAngularDifference float64 `json:"max_angular_difference"`
	RMSD                 float64 `json:"rmsd,omitempty"`
	// ChangeOfBasis maps the input (triclinic) setting to this solution's
	// best setting, in abc notation such as "a+b,-a+b,c".
	ChangeOfBasis  string `json:"cb_op_inp_best"`
	RefinedCrystal *Model `json:"refined_crystal"`
}

// latticeSpaceGroup maps each of the 14 Bravais classes to the number of its
// lowest-symmetry space group. Higher numbers mean higher symmetry.
var latticeSpaceGroup = map[string]int{
	"aP": 1,
	"mP": 3,
	"mC": 5,
	"oP": 16,
	"oC": 20,
	"oF": 22,
	"oI": 23,
	"tP": 75,
	"tI": 79,
	"hP": 143,
	"hR": 146,
	"cP": 195,
	"cF": 196,
	"cI": 197,
}

// LatticeSpaceGroupNumber returns the table entry for a Bravais symbol.
func LatticeSpaceGroupNumber(bravais string) (int, bool) {
	n, ok := latticeSpaceGroup[bravais]
	return n, ok
}

// LatticeFamilies returns the number of Bravais classes in the table.
func LatticeFamilies() int { return len(latticeSpaceGroup) }
