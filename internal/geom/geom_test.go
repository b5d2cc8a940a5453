package geom

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func vectorsAlmostEqual(t *testing.T, got, want r3.Vector, tol float64) {
	t.Helper()
	test.That(t, got.X, test.ShouldAlmostEqual, want.X, tol)
	test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, tol)
	test.That(t, got.Z, test.ShouldAlmostEqual, want.Z, tol)
}

func TestAxisAngleRoundTrip(t *testing.T) {
	cases := []struct {
		axis  r3.Vector
		theta float64
	}{
		{r3.Vector{X: 1}, 0.3},
		{r3.Vector{Y: 1}, math.Pi / 2},
		{r3.Vector{X: 1, Y: 1, Z: 1}.Normalize(), 2.5},
		{r3.Vector{Z: 1}, math.Pi - 1e-3},
	}
	for _, c := range cases {
		aa := ToAxisAngle(FromAxisAngle(c.axis, c.theta))
		test.That(t, aa.Theta, test.ShouldAlmostEqual, c.theta, 1e-9)
		vectorsAlmostEqual(t, aa.Axis, c.axis, 1e-9)
	}
}

func TestAxisAngleCanonical(t *testing.T) {
	// 300 degrees about +z is 60 degrees about -z.
	aa := ToAxisAngle(FromAxisAngle(r3.Vector{Z: 1}, DegToRad(300)))
	test.That(t, aa.Degrees(), test.ShouldAlmostEqual, 60, 1e-9)
	vectorsAlmostEqual(t, aa.Axis, r3.Vector{Z: -1}, 1e-9)

	// q and -q are the same rotation.
	q := FromAxisAngle(r3.Vector{X: 1}, 0.4)
	neg := quat.Scale(-1, q)
	a, b := ToAxisAngle(q), ToAxisAngle(neg)
	test.That(t, a.Theta, test.ShouldAlmostEqual, b.Theta, 1e-12)
	vectorsAlmostEqual(t, a.Axis, b.Axis, 1e-12)

	id := ToAxisAngle(IdentityQuat)
	test.That(t, id.Theta, test.ShouldEqual, 0.0)
}

func TestEulerRoundTrip(t *testing.T) {
	q := FromEuler(0.1, -0.4, 1.2)
	e := ToEuler(q)
	vectorsAlmostEqual(t, e, r3.Vector{X: 0.1, Y: -0.4, Z: 1.2}, 1e-9)
}

func TestComposeInverse(t *testing.T) {
	p := NewPoseFromEuler(0.2, -0.1, 0.5, 0.3, 0.2, -1.0)
	id := p.Compose(p.Inverse())
	vectorsAlmostEqual(t, id.Point, r3.Vector{}, 1e-12)
	test.That(t, ToAxisAngle(id.Orientation).Theta, test.ShouldAlmostEqual, 0, 1e-9)

	pt := r3.Vector{X: 1, Y: 2, Z: 3}
	vectorsAlmostEqual(t, p.Inverse().Transform(p.Transform(pt)), pt, 1e-12)
}

func TestBetween(t *testing.T) {
	gt := NewPoseFromEuler(0.1, 0.2, 0.3, 0, 0, 0.5)
	delta := NewPose(r3.Vector{X: 0.001}, FromAxisAngle(r3.Vector{Z: 1}, DegToRad(8)))
	est := gt.Compose(delta)

	err := Between(gt, est)
	vectorsAlmostEqual(t, err.Point, delta.Point, 1e-12)
	test.That(t, ToAxisAngle(err.Orientation).Degrees(), test.ShouldAlmostEqual, 8, 1e-9)
	test.That(t, err.Point.Norm(), test.ShouldAlmostEqual, gt.Point.Distance(est.Point), 1e-12)
}

func TestMatrixRoundTrip(t *testing.T) {
	p := NewPoseFromEuler(0.4, -0.7, 1.1, 2.0, -0.3, 0.9)
	back, err := PoseFromRowMajor(p.RowMajor())
	test.That(t, err, test.ShouldBeNil)
	vectorsAlmostEqual(t, back.Point, p.Point, 1e-12)
	rel := ToAxisAngle(Between(p, back).Orientation)
	test.That(t, rel.Theta, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestPoseFromRowMajorRejects(t *testing.T) {
	_, err := PoseFromRowMajor(make([]float64, 12))
	test.That(t, err, test.ShouldNotBeNil)

	scaled := Identity().RowMajor()
	scaled[0] = 2
	_, err = PoseFromRowMajor(scaled)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAxisDeviation(t *testing.T) {
	z := r3.Vector{Z: 1}
	test.That(t, AxisDeviationDeg(z, z), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, AxisDeviationDeg(z, z.Mul(-1)), test.ShouldAlmostEqual, 180, 1e-9)
	test.That(t, AxisDeviationDeg(z, r3.Vector{X: 1}), test.ShouldAlmostEqual, 90, 1e-9)
	test.That(t, AxisDeviationDeg(z, r3.Vector{}), test.ShouldEqual, 180.0)

	tilted := FromAxisAngle(r3.Vector{X: 1}, DegToRad(3))
	a := Rotate(tilted, z)
	test.That(t, AxisWithin(a, z, 5), test.ShouldBeTrue)
	test.That(t, AxisWithin(a.Mul(-1), z, 5), test.ShouldBeTrue)
	test.That(t, AxisWithin(a, z, 2), test.ShouldBeFalse)
}

func TestAngularDistance(t *testing.T) {
	test.That(t, AngularDistanceDeg(10, 350), test.ShouldAlmostEqual, 20, 1e-9)
	test.That(t, AngularDistanceDeg(90, 450), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, AngularDistanceDeg(0, 180), test.ShouldAlmostEqual, 180, 1e-9)
}

func TestOpticalCorrectionIsRotation(t *testing.T) {
	c := OpticalCorrection()
	aa := ToAxisAngle(c.Orientation)
	// pitch and yaw of -90 degrees compose to a 120 degree rotation.
	test.That(t, aa.Degrees(), test.ShouldAlmostEqual, 120, 1e-9)
	vectorsAlmostEqual(t, c.Point, r3.Vector{}, 0)
}

func TestFormatMatrix(t *testing.T) {
	out := FormatMatrix(Identity().Matrix())
	test.That(t, out, test.ShouldEqual, "1 0 0 0\n0 1 0 0\n0 0 1 0\n0 0 0 1\n")
}
