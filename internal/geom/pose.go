package geom

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// ErrNotRigid is returned when a matrix is not a homogeneous rigid transform.
var ErrNotRigid = errors.New("geom: matrix is not a rigid transform")

// Pose is a rigid transform: rotate by Orientation, then translate by Point.
type Pose struct {
	Point       r3.Vector
	Orientation quat.Number
}

// NewPose returns a pose with a normalized orientation.
func NewPose(p r3.Vector, q quat.Number) Pose {
	return Pose{Point: p, Orientation: Normalize(q)}
}

// NewPoseFromEuler mirrors the x y z roll pitch yaw pose constructor used in
// scene descriptions.
func NewPoseFromEuler(x, y, z, roll, pitch, yaw float64) Pose {
	return NewPose(r3.Vector{X: x, Y: y, Z: z}, FromEuler(roll, pitch, yaw))
}

// Identity is the pose that leaves points in place.
func Identity() Pose {
	return Pose{Orientation: IdentityQuat}
}

// Compose returns p*o, the pose o expressed in the parent frame of p.
func (p Pose) Compose(o Pose) Pose {
	return Pose{
		Point:       p.Point.Add(Rotate(p.Orientation, o.Point)),
		Orientation: Normalize(quat.Mul(p.Orientation, o.Orientation)),
	}
}

// Inverse returns the pose that undoes p.
func (p Pose) Inverse() Pose {
	inv := quat.Conj(Normalize(p.Orientation))
	return Pose{
		Point:       Rotate(inv, p.Point).Mul(-1),
		Orientation: inv,
	}
}

// Transform maps a point from the local frame of p to its parent frame.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	return p.Point.Add(Rotate(p.Orientation, v))
}

// Between returns the pose of to expressed in the frame of from.
func Between(from, to Pose) Pose {
	return from.Inverse().Compose(to)
}

// String formats the pose as "x y z roll pitch yaw" with angles in radians.
func (p Pose) String() string {
	e := ToEuler(p.Orientation)
	return fmt.Sprintf("%s %s", FormatVector(p.Point), FormatVector(e))
}

// FormatVector formats v as space separated components.
func FormatVector(v r3.Vector) string {
	return fmt.Sprintf("%g %g %g", v.X, v.Y, v.Z)
}

// RotationMatrix returns the 3x3 rotation matrix of q in row-major order.
func RotationMatrix(q quat.Number) [3][3]float64 {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// QuatFromRotationMatrix converts a row-major rotation matrix to a unit
// quaternion using Shepperd's branch on the largest diagonal term.
func QuatFromRotationMatrix(m [3][3]float64) quat.Number {
	tr := m[0][0] + m[1][1] + m[2][2]
	var q quat.Number
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{
			Real: 0.25 * s,
			Imag: (m[2][1] - m[1][2]) / s,
			Jmag: (m[0][2] - m[2][0]) / s,
			Kmag: (m[1][0] - m[0][1]) / s,
		}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		q = quat.Number{
			Real: (m[2][1] - m[1][2]) / s,
			Imag: 0.25 * s,
			Jmag: (m[0][1] + m[1][0]) / s,
			Kmag: (m[0][2] + m[2][0]) / s,
		}
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		q = quat.Number{
			Real: (m[0][2] - m[2][0]) / s,
			Imag: (m[0][1] + m[1][0]) / s,
			Jmag: 0.25 * s,
			Kmag: (m[1][2] + m[2][1]) / s,
		}
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		q = quat.Number{
			Real: (m[1][0] - m[0][1]) / s,
			Imag: (m[0][2] + m[2][0]) / s,
			Jmag: (m[1][2] + m[2][1]) / s,
			Kmag: 0.25 * s,
		}
	}
	return Normalize(q)
}

// Matrix returns p as a 4x4 homogeneous transform.
func (p Pose) Matrix() *mat.Dense {
	r := RotationMatrix(p.Orientation)
	return mat.NewDense(4, 4, []float64{
		r[0][0], r[0][1], r[0][2], p.Point.X,
		r[1][0], r[1][1], r[1][2], p.Point.Y,
		r[2][0], r[2][1], r[2][2], p.Point.Z,
		0, 0, 0, 1,
	})
}

// PoseFromMatrix reads a 4x4 homogeneous transform. The rotation block must be
// orthonormal with determinant +1 to within tolerance.
func PoseFromMatrix(m mat.Matrix) (Pose, error) {
	rows, cols := m.Dims()
	if rows != 4 || cols != 4 {
		return Pose{}, errors.Wrapf(ErrNotRigid, "got %dx%d matrix", rows, cols)
	}
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m.At(i, j)
		}
	}
	rot := mat.NewDense(3, 3, []float64{
		r[0][0], r[0][1], r[0][2],
		r[1][0], r[1][1], r[1][2],
		r[2][0], r[2][1], r[2][2],
	})
	const tol = 1e-3
	if det := mat.Det(rot); math.Abs(det-1) > tol {
		return Pose{}, errors.Wrapf(ErrNotRigid, "rotation determinant %g", det)
	}
	var rrt mat.Dense
	rrt.Mul(rot, rot.T())
	if !mat.EqualApprox(&rrt, eye3, tol) {
		return Pose{}, errors.Wrap(ErrNotRigid, "rotation block is not orthonormal")
	}
	t := r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
	return Pose{Point: t, Orientation: QuatFromRotationMatrix(r)}, nil
}

// PoseFromRowMajor reads 16 row-major values as a 4x4 transform.
func PoseFromRowMajor(values []float64) (Pose, error) {
	if len(values) != 16 {
		return Pose{}, errors.Wrapf(ErrNotRigid, "expected 16 values, got %d", len(values))
	}
	data := make([]float64, 16)
	copy(data, values)
	return PoseFromMatrix(mat.NewDense(4, 4, data))
}

// RowMajor flattens p into 16 row-major values.
func (p Pose) RowMajor() []float64 {
	return p.Matrix().RawMatrix().Data
}

// FormatMatrix renders a matrix one row per line, space separated.
func FormatMatrix(m mat.Matrix) string {
	rows, cols := m.Dims()
	var b strings.Builder
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if j > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%g", m.At(i, j))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

var eye3 = mat.NewDiagDense(3, []float64{1, 1, 1})

// OpticalCorrection is the fixed rotation from the depth sensor model frame to
// the optical frame estimates are reported in: pitch -90° then yaw -90°.
func OpticalCorrection() Pose {
	pitch := FromEuler(0, -math.Pi/2, 0)
	yaw := FromEuler(0, 0, -math.Pi/2)
	return Pose{Orientation: Normalize(quat.Mul(pitch, yaw))}
}
