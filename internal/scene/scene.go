// Package scene tracks the objects of a stacking trial: which class each
// instance belongs to, whether it has been estimated, and where it is thrown.
package scene

import (
	"fmt"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/san-kum/stackeval/internal/criteria"
)

var ErrNoProportion = errors.New("scene: no target class has a positive proportion")

// Object is one instance of a target class in the pile.
type Object struct {
	Name      string
	Class     int
	Estimated bool
}

// Scene is the ordered set of objects of a trial. Enumeration order is the
// creation order and is stable for the lifetime of the scene.
type Scene struct {
	objects []Object
}

func New(objects []Object) *Scene {
	s := &Scene{objects: make([]Object, len(objects))}
	copy(s.objects, objects)
	return s
}

func (s *Scene) Len() int { return len(s.objects) }

// Objects returns a copy of every object.
func (s *Scene) Objects() []Object {
	out := make([]Object, len(s.objects))
	copy(out, s.objects)
	return out
}

func (s *Scene) Object(i int) Object { return s.objects[i] }

// Unestimated returns the indices of objects not yet estimated, in order.
func (s *Scene) Unestimated() []int {
	var idx []int
	for i, o := range s.objects {
		if !o.Estimated {
			idx = append(idx, i)
		}
	}
	return idx
}

func (s *Scene) UnestimatedCount() int {
	n := 0
	for _, o := range s.objects {
		if !o.Estimated {
			n++
		}
	}
	return n
}

func (s *Scene) MarkEstimated(i int) { s.objects[i].Estimated = true }

func (s *Scene) MarkAllEstimated() {
	for i := range s.objects {
		s.objects[i].Estimated = true
	}
}

// Reset clears every estimated flag.
func (s *Scene) Reset() {
	for i := range s.objects {
		s.objects[i].Estimated = false
	}
}

// Names returns object names in enumeration order.
func (s *Scene) Names() []string {
	names := make([]string, len(s.objects))
	for i, o := range s.objects {
		names[i] = o.Name
	}
	return names
}

// PickClass draws a class index with probability proportional to its weight.
func PickClass(rng *rand.Rand, classes []criteria.TargetClass) (int, error) {
	total := 0
	for _, c := range classes {
		total += c.Proportion()
	}
	if total <= 0 {
		return -1, ErrNoProportion
	}
	r := rng.IntN(total)
	acc := 0
	for i, c := range classes {
		acc += c.Proportion()
		if r < acc {
			return i, nil
		}
	}
	return -1, ErrNoProportion
}

// Populate creates count objects with classes drawn by proportion. Objects are
// named "<class>_<n>" with n counting per class from zero.
func Populate(rng *rand.Rand, classes []criteria.TargetClass, count int) (*Scene, error) {
	perClass := make([]int, len(classes))
	objects := make([]Object, 0, count)
	for i := 0; i < count; i++ {
		c, err := PickClass(rng, classes)
		if err != nil {
			return nil, err
		}
		objects = append(objects, Object{
			Name:  fmt.Sprintf("%s_%d", classes[c].Name, perClass[c]),
			Class: c,
		})
		perClass[c]++
	}
	return New(objects), nil
}
