// Package selection is the post-integration quality gate. Each criterion is
// optional and only rejects when it is configured.
package selection

import (
	"fmt"

	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
)

// Criteria are the caller's acceptance targets.
type Criteria struct {
	TargetUnitCell *crystal.UnitCell
	// Tolerance is the allowed fractional deviation per cell parameter.
	Tolerance        float64
	TargetPointGroup string
	MinReflections   int
	// MinResolution, when set, rejects results whose high-resolution limit
	// is not finer than it.
	MinResolution *float64
}

// FromParams reads the filter section of the pipeline configuration.
func FromParams(f config.FilterParams) Criteria {
	return Criteria{
		TargetUnitCell:   f.TargetUnitCell,
		Tolerance:        f.TargetUCTolerance,
		TargetPointGroup: f.TargetPointGroup,
		MinReflections:   f.MinReflections,
		MinResolution:    f.MinResolution,
	}
}

// Observed is what integration produced.
type Observed struct {
	Cell       crystal.UnitCell
	PointGroup string
	// Strong is the strong-reflection count.
	Strong int
	// HighRes is the high-resolution limit (d_min) in Angstrom.
	HighRes float64
}

// Verdict is the gate outcome. Reason names the first failed criterion.
type Verdict struct {
	Accepted bool
	Reason   string
}

// Evaluate applies every configured criterion. The result is accepted only
// when all of them pass.
func Evaluate(c Criteria, o Observed) Verdict {
	if c.TargetUnitCell != nil && !o.Cell.WithinTolerance(*c.TargetUnitCell, c.Tolerance) {
		return Verdict{Reason: fmt.Sprintf("unit cell (%s) outside %.3g of target", o.Cell, c.Tolerance)}
	}
	if o.Strong <= c.MinReflections {
		return Verdict{Reason: fmt.Sprintf("%d reflections, need more than %d", o.Strong, c.MinReflections)}
	}
	if c.MinResolution != nil && o.HighRes >= *c.MinResolution {
		return Verdict{Reason: fmt.Sprintf("resolution %.2f not better than %.2f", o.HighRes, *c.MinResolution)}
	}
	if c.TargetPointGroup != "" && crystal.CompactSymbol(c.TargetPointGroup) != crystal.CompactSymbol(o.PointGroup) {
		return Verdict{Reason: fmt.Sprintf("point group %s does not match %s", o.PointGroup, c.TargetPointGroup)}
	}
	return Verdict{Accepted: true}
}
