package integrators

import "github.com/san-kum/stackeval/internal/dynamo"

// Euler is the explicit first order method.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(sys dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	out := make(dynamo.State, len(x))
	axpy(out, x, sys.Derive(x, u, t), dt)
	return out
}

// axpy sets dst = x + h*k.
func axpy(dst, x, k dynamo.State, h float64) {
	for i := range dst {
		dst[i] = x[i] + h*k[i]
	}
}

// sized returns s when it already holds n components, a new state otherwise.
func sized(s dynamo.State, n int) dynamo.State {
	if len(s) != n {
		return make(dynamo.State, n)
	}
	return s
}
