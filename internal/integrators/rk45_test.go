package integrators

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/stackeval/internal/dynamo"
)

func TestRK45_Step(t *testing.T) {
	integrator := NewRK45()
	dyn := &harmonicOscillator{}
	x := dynamo.State{1.0, 0.0}
	dt := 0.01

	for i := 0; i < 1000; i++ {
		x = integrator.Step(dyn, x, nil, float64(i)*dt, dt)
	}

	if !x.IsValid() {
		t.Error("RK45 produced invalid state")
	}
}

func TestRK45_EnergyConservation(t *testing.T) {
	integrator := NewRK45()
	dyn := &harmonicOscillator{}
	x0 := dynamo.State{1.0, 0.0}

	initialEnergy := dyn.Energy(x0)
	x := x0.Clone()
	dt := 0.01

	for i := 0; i < 10000; i++ {
		x = integrator.Step(dyn, x, nil, float64(i)*dt, dt)
	}

	drift := math.Abs(dyn.Energy(x)-initialEnergy) / initialEnergy
	if drift > 1e-6 {
		t.Errorf("RK45 energy drift too high: %e", drift)
	}
}

func TestRK45_RejectsLargeStep(t *testing.T) {
	integrator := NewRK45()
	dyn := &harmonicOscillator{}
	x0 := dynamo.State{1.0, 0.0}

	x, next, err := integrator.StepAdaptive(dyn, x0, nil, 0, 1.0, 1e-12)
	if err != nil {
		t.Fatalf("StepAdaptive returned error: %v", err)
	}
	if next >= 1.0 {
		t.Errorf("expected a smaller proposal, got %f", next)
	}
	if x[0] != x0[0] || x[1] != x0[1] {
		t.Error("rejected step should return the input state")
	}
}

func TestRK45_DimensionMismatch(t *testing.T) {
	_, _, err := NewRK45().StepAdaptive(&harmonicOscillator{}, dynamo.State{1}, nil, 0, 0.1, 1e-6)
	if !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestAdvance(t *testing.T) {
	dyn := &harmonicOscillator{}

	x, err := Advance(NewRK45(), dyn, dynamo.State{1, 0}, nil, 0, 1.0, 1e-10)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(x[0]-math.Cos(1)) > 1e-7 || math.Abs(x[1]+math.Sin(1)) > 1e-7 {
		t.Errorf("adaptive advance off: got [%.9f, %.9f]", x[0], x[1])
	}

	// Fixed step integrators take exactly one step.
	x, err = Advance(NewEuler(), dyn, dynamo.State{1, 0}, nil, 0, 0.5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if x[0] != 1 || x[1] != -0.5 {
		t.Errorf("unexpected euler step %v", x)
	}
}
