package geom

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// DegToRad converts degrees to radians.
func DegToRad(d float64) float64 { return d * degToRad }

// RadToDeg converts radians to degrees.
func RadToDeg(r float64) float64 { return r * radToDeg }

// IdentityQuat is the zero rotation.
var IdentityQuat = quat.Number{Real: 1}

// AxisAngle is a rotation of Theta radians about a unit Axis.
//
// Values produced by ToAxisAngle are canonical: Theta lies in [0, π] and the
// axis carries the sign. A rotation of θ about a is the same as 2π-θ about -a,
// so consumers comparing axes must treat a and -a as equivalent.
type AxisAngle struct {
	Axis  r3.Vector
	Theta float64
}

// Degrees returns Theta in degrees.
func (aa AxisAngle) Degrees() float64 { return aa.Theta * radToDeg }

// Quat returns the unit quaternion for aa.
func (aa AxisAngle) Quat() quat.Number {
	return FromAxisAngle(aa.Axis, aa.Theta)
}

// FromAxisAngle builds a unit quaternion rotating theta radians about axis.
// A zero axis yields the identity.
func FromAxisAngle(axis r3.Vector, theta float64) quat.Number {
	n := axis.Norm()
	if n == 0 {
		return IdentityQuat
	}
	s := math.Sin(theta/2) / n
	return quat.Number{
		Real: math.Cos(theta / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// ToAxisAngle converts a quaternion to a canonical axis-angle, the same way
// Eigen's AngleAxis does but folding the sign of the scalar part into the axis.
func ToAxisAngle(q quat.Number) AxisAngle {
	q = Normalize(q)
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	denom := v.Norm()
	if denom < 1e-12 {
		return AxisAngle{Axis: r3.Vector{X: 1}, Theta: 0}
	}
	theta := 2 * math.Atan2(denom, math.Abs(q.Real))
	axis := v.Mul(1 / denom)
	if q.Real < 0 {
		axis = axis.Mul(-1)
	}
	return AxisAngle{Axis: axis, Theta: theta}
}

// FromEuler builds a quaternion from roll (x), pitch (y) and yaw (z) in
// radians, applied in that order (q = yaw * pitch * roll).
func FromEuler(roll, pitch, yaw float64) quat.Number {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// ToEuler returns roll, pitch and yaw in radians as the X, Y and Z components.
// See https://en.wikipedia.org/wiki/Conversion_between_quaternions_and_Euler_angles
func ToEuler(q quat.Number) r3.Vector {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	sinp := 2 * (w*y - x*z)
	if sinp > 1 {
		sinp = 1
	} else if sinp < -1 {
		sinp = -1
	}
	return r3.Vector{
		X: math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y)),
		Y: math.Asin(sinp),
		Z: math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z)),
	}
}

// Normalize scales q to unit length. The zero quaternion maps to identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return IdentityQuat
	}
	return quat.Scale(1/n, q)
}

// Rotate applies q to v. q need not be normalized.
func Rotate(q quat.Number, v r3.Vector) r3.Vector {
	q = Normalize(q)
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// AxisDeviationDeg returns the angle in degrees between two directions, in
// [0, 180]. Zero vectors report 180 so they never pass a tolerance check.
func AxisDeviationDeg(a, b r3.Vector) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 180
	}
	c := a.Dot(b) / (na * nb)
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c) * radToDeg
}

// AxisWithin reports whether a is within tolDeg of b or of -b.
func AxisWithin(a, b r3.Vector, tolDeg float64) bool {
	d := AxisDeviationDeg(a, b)
	return d < tolDeg || 180-d < tolDeg
}

// AngularDistanceDeg is the shortest distance between two angles in degrees,
// modulo 360. The result lies in [0, 180].
func AngularDistanceDeg(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
