package integrators

import "github.com/san-kum/stackeval/internal/dynamo"

// Verlet and Leapfrog treat the first half of a state as coordinates and the
// second half as their rates. A body state is laid out that way: position and
// rotation accumulator, then linear and angular velocity.

// Verlet is velocity Verlet. The new rates average the accelerations at the
// old and the drifted coordinates.
type Verlet struct {
	probe dynamo.State
}

func NewVerlet() *Verlet {
	return &Verlet{}
}

func (v *Verlet) Step(sys dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	n := len(x)
	h := n / 2
	out := make(dynamo.State, n)

	a0 := sys.Derive(x, u, t)
	for i := 0; i < h; i++ {
		out[i] = x[i] + dt*x[h+i] + 0.5*dt*dt*a0[h+i]
	}

	v.probe = sized(v.probe, n)
	copy(v.probe[:h], out[:h])
	copy(v.probe[h:], x[h:])
	a1 := sys.Derive(v.probe, u, t+dt)

	for i := h; i < n; i++ {
		out[i] = x[i] + 0.5*dt*(a0[i]+a1[i])
	}
	return out
}

// Leapfrog is the kick-drift-kick scheme.
type Leapfrog struct {
	mid dynamo.State
}

func NewLeapfrog() *Leapfrog {
	return &Leapfrog{}
}

func (l *Leapfrog) Step(sys dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	n := len(x)
	h := n / 2
	l.mid = sized(l.mid, n)

	a0 := sys.Derive(x, u, t)
	for i := h; i < n; i++ {
		l.mid[i] = x[i] + 0.5*dt*a0[i]
	}
	for i := 0; i < h; i++ {
		l.mid[i] = x[i] + dt*l.mid[h+i]
	}

	a1 := sys.Derive(l.mid, u, t+dt)
	out := l.mid.Clone()
	for i := h; i < n; i++ {
		out[i] += 0.5 * dt * a1[i]
	}
	return out
}
