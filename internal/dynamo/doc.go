// Package dynamo holds the state-space primitives the world simulation is
// built on.
//
//   - [State]: flat state vector of one body
//   - [System]: dX/dt = f(X, u, t)
//   - [Integrator]: advances a State by one step
//   - [AdaptiveIntegrator]: an Integrator that also proposes the next step size
//
// # Example
//
//	body := physics.NewBody(physics.DefaultBodyParams())
//	integ := integrators.NewRK4()
//	x = integ.Step(body, x, nil, t, dt)
package dynamo
