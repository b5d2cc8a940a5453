// Package integrators advances body states of the world simulation.
package integrators

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/san-kum/stackeval/internal/dynamo"
)

// ErrUnknownIntegrator is returned by New for an unregistered name.
var ErrUnknownIntegrator = errors.New("integrators: unknown integrator")

var registry = map[string]func() dynamo.Integrator{
	"euler":    func() dynamo.Integrator { return NewEuler() },
	"rk4":      func() dynamo.Integrator { return NewRK4() },
	"rk45":     func() dynamo.Integrator { return NewRK45() },
	"verlet":   func() dynamo.Integrator { return NewVerlet() },
	"leapfrog": func() dynamo.Integrator { return NewLeapfrog() },
}

// New returns a fresh integrator by name. Integrators keep scratch buffers,
// so each body needs its own.
func New(name string) (dynamo.Integrator, error) {
	f, ok := registry[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownIntegrator, "%q", name)
	}
	return f(), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MinDt is the smallest sub-step Advance accepts from an adaptive integrator.
const MinDt = 1e-9

// Advance moves x forward by dt. Adaptive integrators take as many sub-steps
// as their error control asks for.
func Advance(integ dynamo.Integrator, dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt, tol float64) (dynamo.State, error) {
	adaptive, ok := integ.(dynamo.AdaptiveIntegrator)
	if !ok {
		return integ.Step(dyn, x, u, t, dt), nil
	}

	h := dt
	elapsed := 0.0
	for elapsed < dt {
		if rest := dt - elapsed; h > rest {
			h = rest
		}
		next, hNext, err := adaptive.StepAdaptive(dyn, x, u, t+elapsed, h, tol)
		if err != nil {
			return x, err
		}
		if hNext < h {
			if hNext < MinDt {
				return x, dynamo.ErrStepTooSmall
			}
			h = hNext
			continue
		}
		x = next
		elapsed += h
		h = hNext
	}
	return x, nil
}
