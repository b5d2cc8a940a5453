package scene

import (
	"math"

	"github.com/golang/geo/r3"
)

// Located is a candidate object with its current world position.
type Located struct {
	Index    int
	Name     string
	Position r3.Vector
}

type Match struct {
	Index    int
	Name     string
	Distance float64
}

// Nearest returns the candidate closest to target. Ties keep the earliest
// candidate. ok is false when there are no candidates.
func Nearest(target r3.Vector, candidates []Located) (m Match, ok bool) {
	best := math.Inf(1)
	for _, c := range candidates {
		d := target.Distance(c.Position)
		if d < best {
			best = d
			m = Match{Index: c.Index, Name: c.Name, Distance: d}
			ok = true
		}
	}
	return m, ok
}
