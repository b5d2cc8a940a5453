package config

import "sort"

func axes(order int, tol float64, vs ...[]float64) []RotationalAxisConfig {
	out := make([]RotationalAxisConfig, 0, len(vs))
	for _, v := range vs {
		out = append(out, RotationalAxisConfig{Axis: v, Order: order, ToleranceDegree: tol, AxisDeviationThreshold: tol})
	}
	return out
}

var (
	axisX = []float64{1, 0, 0}
	axisY = []float64{0, 1, 0}
	axisZ = []float64{0, 0, 1}
)

// Presets are target definitions for common part shapes.
var Presets = map[string]TargetConfig{
	"cube": {
		Name: "cube", SDFFilePath: "models/cube/model.sdf", Proportion: 1,
		TranslationThreshold: 0.0025, QuaternionDegreeThreshold: 10,
		RotationalSymmetry: &RotationalSymmetryConfig{Enable: true, Axes: axes(4, 5, axisX, axisY, axisZ)},
	},
	"box": {
		Name: "box", SDFFilePath: "models/box/model.sdf", Proportion: 1,
		TranslationThreshold: 0.0025, QuaternionDegreeThreshold: 10,
		RotationalSymmetry: &RotationalSymmetryConfig{Enable: true, Axes: axes(2, 5, axisX, axisY, axisZ)},
	},
	"cylinder": {
		Name: "cylinder", SDFFilePath: "models/cylinder/model.sdf", Proportion: 1,
		TranslationThreshold: 0.0025, QuaternionDegreeThreshold: 10,
		CylinderLike: &CylinderLikeConfig{Enable: true, CylinderAxis: axisZ, AxisDeviationThreshold: 5},
	},
	"ring": {
		Name: "ring", SDFFilePath: "models/ring/model.sdf", Proportion: 1,
		TranslationThreshold: 0.0025, QuaternionDegreeThreshold: 10,
		CircularSymmetry:   &CircularSymmetryConfig{Enable: true, Axis: axisZ, AxisDeviationThreshold: 5},
		RotationalSymmetry: &RotationalSymmetryConfig{Enable: true, Axes: axes(2, 5, axisX)},
	},
	"hex_nut": {
		Name: "hex_nut", SDFFilePath: "models/hex_nut/model.sdf", Proportion: 1,
		TranslationThreshold: 0.0025, QuaternionDegreeThreshold: 10,
		RotationalSymmetry: &RotationalSymmetryConfig{Enable: true, Axes: append(axes(6, 5, axisZ), axes(2, 5, axisX)...)},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *TargetConfig {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	return &p
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
