package physics

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/san-kum/stackeval/internal/dynamo"
	"github.com/san-kum/stackeval/internal/geom"
)

// Body state layout. Rot accumulates the rotation vector since the last call
// to Spin.
const (
	PosIdx       = 0
	RotIdx       = 3
	VelIdx       = 6
	AngIdx       = 9
	BodyStateDim = 12
)

type Body struct {
	Mass           float64
	Gravity        float64
	LinearDamping  float64
	AngularDamping float64
	Restitution    float64
	Friction       float64
	// HalfHeight is the distance from the body origin to its support.
	HalfHeight float64
	// RestSpeed is the bounce speed below which a contact stops the body.
	RestSpeed float64
}

func NewBody() *Body {
	return &Body{
		Mass:           0.05,
		Gravity:        9.81,
		LinearDamping:  0.8,
		AngularDamping: 2.0,
		Restitution:    0.3,
		Friction:       0.5,
		HalfHeight:     0.015,
		RestSpeed:      0.05,
	}
}

// NewState returns the state of a body at rest at p.
func NewState(p r3.Vector) dynamo.State {
	x := make(dynamo.State, BodyStateDim)
	x.SetVec(PosIdx, p)
	return x
}

func (b *Body) StateDim() int {
	return BodyStateDim
}

func (b *Body) ControlDim() int {
	return 0
}

func (b *Body) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	v := x.Vec(VelIdx)
	w := x.Vec(AngIdx)

	acc := r3.Vector{Z: -b.Gravity}.Sub(v.Mul(b.LinearDamping))
	alpha := w.Mul(-b.AngularDamping)

	dx := make(dynamo.State, BodyStateDim)
	dx.SetVec(PosIdx, v)
	dx.SetVec(RotIdx, w)
	dx.SetVec(VelIdx, acc)
	dx.SetVec(AngIdx, alpha)
	return dx
}

func (b *Body) Energy(x dynamo.State) float64 {
	v := x.Vec(VelIdx)
	return 0.5*b.Mass*v.Norm2() + b.Mass*b.Gravity*x[PosIdx+2]
}

// Contact resolves penetration of the support plane at height floor, applying
// restitution to the normal speed and Coulomb friction to the tangential
// motion. It reports whether the body touches the plane.
func (b *Body) Contact(x dynamo.State, floor, dt float64) bool {
	bottom := floor + b.HalfHeight
	if x[PosIdx+2] > bottom {
		return false
	}
	x[PosIdx+2] = bottom

	if vz := x[VelIdx+2]; vz < 0 {
		vz = -vz * b.Restitution
		if vz < b.RestSpeed {
			vz = 0
		}
		x[VelIdx+2] = vz
	}

	slow := b.Friction * b.Gravity * dt
	tangential := r3.Vector{X: x[VelIdx], Y: x[VelIdx+1]}
	x.SetVec(VelIdx, r3.Vector{Z: x[VelIdx+2]}.Add(shrink(tangential, slow)))
	if b.HalfHeight > 0 {
		x.SetVec(AngIdx, shrink(x.Vec(AngIdx), slow/b.HalfHeight))
	}
	return true
}

// Confine keeps the body origin inside the horizontal box [lo, hi],
// reflecting the velocity off the walls.
func (b *Body) Confine(x dynamo.State, lo, hi r3.Vector) {
	for i, bounds := range [][2]float64{{lo.X, hi.X}, {lo.Y, hi.Y}} {
		switch p := x[PosIdx+i]; {
		case p < bounds[0]:
			x[PosIdx+i] = bounds[0]
			x[VelIdx+i] = math.Abs(x[VelIdx+i]) * b.Restitution
		case p > bounds[1]:
			x[PosIdx+i] = bounds[1]
			x[VelIdx+i] = -math.Abs(x[VelIdx+i]) * b.Restitution
		}
	}
}

func (b *Body) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":            b.Mass,
		"gravity":         b.Gravity,
		"linear_damping":  b.LinearDamping,
		"angular_damping": b.AngularDamping,
		"restitution":     b.Restitution,
		"friction":        b.Friction,
		"half_height":     b.HalfHeight,
		"rest_speed":      b.RestSpeed,
	}
}

func (b *Body) SetParam(name string, value float64) error {
	switch name {
	case "mass":
		b.Mass = value
	case "gravity":
		b.Gravity = value
	case "linear_damping":
		b.LinearDamping = value
	case "angular_damping":
		b.AngularDamping = value
	case "restitution":
		b.Restitution = value
	case "friction":
		b.Friction = value
	case "half_height":
		b.HalfHeight = value
	case "rest_speed":
		b.RestSpeed = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}

// Spin applies the accumulated rotation of x to q and clears it.
func Spin(q quat.Number, x dynamo.State) quat.Number {
	phi := x.Vec(RotIdx)
	x.SetVec(RotIdx, r3.Vector{})
	angle := phi.Norm()
	if angle == 0 {
		return q
	}
	return geom.Normalize(quat.Mul(geom.FromAxisAngle(phi, angle), q))
}

func shrink(v r3.Vector, by float64) r3.Vector {
	n := v.Norm()
	if n <= by {
		return r3.Vector{}
	}
	return v.Mul((n - by) / n)
}
