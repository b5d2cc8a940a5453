// Package physics models the free bodies of the stacking world.
//
// A [Body] implements [dynamo.System] for a rigid object falling under
// gravity with linear and angular damping. Contacts with the bin floor,
// with resting objects below and with the bin walls are resolved between
// integration steps by [Body.Contact] and [Body.Confine].
//
//	body := physics.NewBody()
//	x = integ.Step(body, x, nil, t, dt)
//	body.Contact(x, floor, dt)
//	q = physics.Spin(q, x)
package physics
