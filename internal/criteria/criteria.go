// Package criteria holds the per-class acceptance rules for pose estimates and
// the classifier that applies them.
package criteria

import (
	"fmt"

	"github.com/golang/geo/r3"
)

const (
	DefaultTranslationThreshold = 0.0025
	DefaultRotationThresholdDeg = 10.0
)

// AxisTolerance is a symmetry axis with the largest deviation, in degrees,
// an error axis may have from it (or from its opposite).
type AxisTolerance struct {
	Axis             r3.Vector
	AxisDeviationDeg float64
}

// RotationalAxis describes an n-fold symmetry: rotations by k*360/Order
// degrees about Axis are indistinguishable.
type RotationalAxis struct {
	Axis             r3.Vector
	Order            int
	ToleranceDeg     float64
	AxisDeviationDeg float64
}

// Interval returns the symmetry period in degrees.
func (ra RotationalAxis) Interval() float64 {
	return 360 / float64(ra.Order)
}

type SymmetryCriteria struct {
	TranslationThreshold float64
	RotationThresholdDeg float64

	CylinderLike *AxisTolerance
	Circular     *AxisTolerance
	Rotational   []RotationalAxis
}

// Default returns criteria with the stock thresholds and no symmetry.
func Default() SymmetryCriteria {
	return SymmetryCriteria{
		TranslationThreshold: DefaultTranslationThreshold,
		RotationThresholdDeg: DefaultRotationThresholdDeg,
	}
}

// Normalize fills unset thresholds, normalizes axes and disables any symmetry
// block that cannot be evaluated. It returns one warning per disabled block.
func (c *SymmetryCriteria) Normalize() []string {
	var warnings []string
	if c.TranslationThreshold <= 0 {
		c.TranslationThreshold = DefaultTranslationThreshold
	}
	if c.RotationThresholdDeg <= 0 {
		c.RotationThresholdDeg = DefaultRotationThresholdDeg
	}

	if c.CylinderLike != nil {
		if w := normalizeAxis("cylinder_like", c.CylinderLike); w != "" {
			warnings = append(warnings, w)
			c.CylinderLike = nil
		}
	}
	if c.Circular != nil {
		if w := normalizeAxis("circular_symmetry", c.Circular); w != "" {
			warnings = append(warnings, w)
			c.Circular = nil
		}
	}

	kept := c.Rotational[:0]
	for i, ra := range c.Rotational {
		switch {
		case ra.Order < 2:
			warnings = append(warnings, fmt.Sprintf("rotational_symmetry axis_%d: order %d must be at least 2", i, ra.Order))
		case ra.ToleranceDeg < 0 || ra.AxisDeviationDeg < 0:
			warnings = append(warnings, fmt.Sprintf("rotational_symmetry axis_%d: tolerances must not be negative", i))
		case ra.Axis.Norm() == 0:
			warnings = append(warnings, fmt.Sprintf("rotational_symmetry axis_%d: zero axis", i))
		default:
			ra.Axis = ra.Axis.Normalize()
			kept = append(kept, ra)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	c.Rotational = kept
	return warnings
}

func normalizeAxis(block string, at *AxisTolerance) string {
	if at.Axis.Norm() == 0 {
		return block + ": zero axis"
	}
	if at.AxisDeviationDeg < 0 {
		return block + ": axis_deviation_threshold must not be negative"
	}
	at.Axis = at.Axis.Normalize()
	return ""
}

// Template is one model file a class can be instantiated from.
type Template struct {
	SDFPath    string
	Proportion int
}

// TargetClass is a family of objects sharing a model-name prefix and one set
// of acceptance criteria.
type TargetClass struct {
	Name      string
	Templates []Template
	Criteria  SymmetryCriteria
}

// Proportion is the total selection weight of the class.
func (tc TargetClass) Proportion() int {
	total := 0
	for _, t := range tc.Templates {
		if t.Proportion > 0 {
			total += t.Proportion
		}
	}
	return total
}

// MarkerName is the name of the model that visualizes results for the class.
func (tc TargetClass) MarkerName() string {
	return "result_visualize_" + tc.Name
}
