package criteria

import (
	"math"
	"strings"

	"github.com/san-kum/stackeval/internal/geom"
)

// Reason explains why an estimate was rejected.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonWrongModel        Reason = "wrong_model"
	ReasonTranslation       Reason = "translation"
	ReasonRotation          Reason = "rotation"
	ReasonAxisDeviation     Reason = "axis_deviation"
	ReasonSymmetryTolerance Reason = "symmetry_tolerance"
)

// Rule names the check that accepted an estimate.
type Rule string

const (
	RuleNone         Rule = ""
	RuleDirect       Rule = "direct"
	RuleCylinderFlip Rule = "cylinder_flip"
	RuleCylinderAxis Rule = "cylinder_axis"
	RuleCircular     Rule = "circular_symmetry"
	RuleRotational   Rule = "rotational_symmetry"
)

// Input is the error of one estimate against its matched ground truth.
type Input struct {
	// RecognizedClass is the class name the estimator reported.
	RecognizedClass string
	// MatchedObject is the name of the nearest unestimated ground-truth object.
	MatchedObject string
	// Rotation is the rotation error expressed in the ground-truth frame.
	Rotation         geom.AxisAngle
	TranslationError float64
	Criteria         SymmetryCriteria
}

type Verdict struct {
	Accepted bool
	Reason   Reason
	Rule     Rule
	// AngleDeg is the rotation error angle that was evaluated.
	AngleDeg float64
	// AxisDeviationDeg is the last axis deviation computed, if any.
	AxisDeviationDeg float64
}

func accept(rule Rule, angle float64) Verdict {
	return Verdict{Accepted: true, Rule: rule, AngleDeg: angle}
}

// Classify decides whether an estimate is correct. Checks run in a fixed
// order: model identity, translation, raw rotation, then the cylinder-like
// rule or, failing that, circular and rotational symmetry.
func Classify(in Input) Verdict {
	c := in.Criteria
	angle := in.Rotation.Degrees()
	axis := in.Rotation.Axis

	if !strings.HasPrefix(in.MatchedObject, in.RecognizedClass) {
		return Verdict{Reason: ReasonWrongModel, AngleDeg: angle}
	}
	if in.TranslationError >= c.TranslationThreshold {
		return Verdict{Reason: ReasonTranslation, AngleDeg: angle}
	}
	if angle < c.RotationThresholdDeg {
		return accept(RuleDirect, angle)
	}

	if cyl := c.CylinderLike; cyl != nil {
		if math.Abs(180-angle) < c.RotationThresholdDeg {
			return accept(RuleCylinderFlip, angle)
		}
		d := geom.AxisDeviationDeg(axis, cyl.Axis)
		if d < cyl.AxisDeviationDeg || 180-d < cyl.AxisDeviationDeg {
			v := accept(RuleCylinderAxis, angle)
			v.AxisDeviationDeg = d
			return v
		}
		return Verdict{Reason: ReasonAxisDeviation, AngleDeg: angle, AxisDeviationDeg: d}
	}

	v := Verdict{Reason: ReasonRotation, AngleDeg: angle}
	if cir := c.Circular; cir != nil {
		d := geom.AxisDeviationDeg(axis, cir.Axis)
		if d < cir.AxisDeviationDeg || 180-d < cir.AxisDeviationDeg {
			ok := accept(RuleCircular, angle)
			ok.AxisDeviationDeg = d
			return ok
		}
		v.Reason = ReasonAxisDeviation
		v.AxisDeviationDeg = d
	}

	for _, ra := range c.Rotational {
		d := geom.AxisDeviationDeg(axis, ra.Axis)
		v.AxisDeviationDeg = d
		if !(d < ra.AxisDeviationDeg || 180-d < ra.AxisDeviationDeg) {
			if v.Reason != ReasonSymmetryTolerance {
				v.Reason = ReasonAxisDeviation
			}
			continue
		}
		interval := ra.Interval()
		for k := 0; k < ra.Order; k++ {
			if geom.AngularDistanceDeg(angle, interval*float64(k)) < ra.ToleranceDeg {
				ok := accept(RuleRotational, angle)
				ok.AxisDeviationDeg = d
				return ok
			}
		}
		v.Reason = ReasonSymmetryTolerance
	}
	return v
}

// Recognize resolves an estimator label to a target class index. A label
// names a class when it starts with the class name; the longest such name
// wins so that "box" and "box_large" can coexist.
func Recognize(label string, classes []TargetClass) (int, bool) {
	best, bestLen := -1, -1
	for i, tc := range classes {
		if strings.HasPrefix(label, tc.Name) && len(tc.Name) > bestLen {
			best, bestLen = i, len(tc.Name)
		}
	}
	return best, best >= 0
}
