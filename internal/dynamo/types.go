package dynamo

import (
	"math"

	"github.com/golang/geo/r3"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Vec reads the three components starting at i.
func (s State) Vec(i int) r3.Vector {
	return r3.Vector{X: s[i], Y: s[i+1], Z: s[i+2]}
}

// SetVec writes v into the three components starting at i.
func (s State) SetVec(i int, v r3.Vector) {
	s[i], s[i+1], s[i+2] = v.X, v.Y, v.Z
}

type Control []float64

type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

type AdaptiveIntegrator interface {
	Integrator
	StepAdaptive(dyn System, x State, u Control, t, dt, tol float64) (State, float64, error)
}
