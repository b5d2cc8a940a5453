package integrators

import "github.com/san-kum/stackeval/internal/dynamo"

// rk4Nodes are the time offsets, as fractions of dt, of the second to fourth
// stages; each stage starts from the slope of the one before.
var rk4Nodes = [3]float64{0.5, 0.5, 1}

// RK4 is the classical fourth order Runge-Kutta method.
type RK4 struct {
	k     [4]dynamo.State
	stage dynamo.State
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) Step(sys dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	n := len(x)
	r.stage = sized(r.stage, n)
	for i := range r.k {
		r.k[i] = sized(r.k[i], n)
	}

	copy(r.k[0], sys.Derive(x, u, t))
	for i, c := range rk4Nodes {
		axpy(r.stage, x, r.k[i], c*dt)
		copy(r.k[i+1], sys.Derive(r.stage, u, t+c*dt))
	}

	out := make(dynamo.State, n)
	h := dt / 6
	for i := range out {
		out[i] = x[i] + h*(r.k[0][i]+2*r.k[1][i]+2*r.k[2][i]+r.k[3][i])
	}
	return out
}
