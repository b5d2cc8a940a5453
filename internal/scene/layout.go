package scene

import (
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/san-kum/stackeval/internal/geom"
)

// Grid is the throw layout: Width x Height objects per layer, Layers layers
// stacked Spacing apart above Center.
type Grid struct {
	Width   int
	Height  int
	Layers  int
	Spacing float64
	Center  r3.Vector
}

func (g Grid) Count() int { return g.Width * g.Height * g.Layers }

// Position returns the drop point of object i. The grid is centred on Center
// for both odd and even sizes.
func (g Grid) Position(i int) r3.Vector {
	perLayer := g.Width * g.Height
	layer := i / perLayer
	cell := i % perLayer

	p := g.Center.Add(r3.Vector{Z: float64(layer) * g.Spacing})
	p.X += axisOffset(cell%g.Width, g.Width) * g.Spacing
	p.Y += axisOffset(cell/g.Width, g.Height) * g.Spacing
	return p
}

func axisOffset(k, n int) float64 {
	off := float64(k - n/2)
	if n%2 == 0 {
		off += 0.5
	}
	return off
}

// RandomOrientation is a rotation by a multiple of 45 degrees about x or y.
func RandomOrientation(rng *rand.Rand) quat.Number {
	angle := geom.DegToRad(45 * float64(rng.IntN(8)))
	axis := r3.Vector{X: 1}
	if rng.IntN(2) == 1 {
		axis = r3.Vector{Y: 1}
	}
	return geom.FromAxisAngle(axis, angle)
}

// Throw returns a fresh drop pose for every grid slot.
func (g Grid) Throw(rng *rand.Rand) []geom.Pose {
	poses := make([]geom.Pose, g.Count())
	for i := range poses {
		poses[i] = geom.NewPose(g.Position(i), RandomOrientation(rng))
	}
	return poses
}

// ParkPosition is where accepted object idx is moved, clear of the bin.
func ParkPosition(idx int, spacing float64) r3.Vector {
	return r3.Vector{X: spacing * 2 * float64(idx), Y: 1, Z: 2}
}

// MarkerPark is the resting place of the result marker of class idx.
func MarkerPark(idx int, spacing float64) r3.Vector {
	return r3.Vector{X: -spacing * 2 * float64(idx+1), Y: 1, Z: 2}
}

// Extent returns the half size of the grid footprint along x and y.
func (g Grid) Extent() (float64, float64) {
	return math.Max(float64(g.Width)-1, 0) * g.Spacing / 2, math.Max(float64(g.Height)-1, 0) * g.Spacing / 2
}
