package integrators

import (
	"testing"

	"github.com/san-kum/stackeval/internal/dynamo"
)

func benchmarkStep(b *testing.B, name string, dyn dynamo.System, x dynamo.State, dt float64) {
	integrator, err := New(name)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x = integrator.Step(dyn, x, nil, 0, dt)
	}
}

func BenchmarkEuler(b *testing.B) {
	benchmarkStep(b, "euler", &harmonicOscillator{}, dynamo.State{1.0, 0.0}, 0.01)
}

func BenchmarkRK4(b *testing.B) {
	benchmarkStep(b, "rk4", &harmonicOscillator{}, dynamo.State{1.0, 0.0}, 0.01)
}

func BenchmarkRK45(b *testing.B) {
	benchmarkStep(b, "rk45", &harmonicOscillator{}, dynamo.State{1.0, 0.0}, 0.01)
}

func BenchmarkVerlet(b *testing.B) {
	benchmarkStep(b, "verlet", &harmonicOscillator{}, dynamo.State{1.0, 0.0}, 0.01)
}

func BenchmarkLeapfrog(b *testing.B) {
	benchmarkStep(b, "leapfrog", &harmonicOscillator{}, dynamo.State{1.0, 0.0}, 0.01)
}

func BenchmarkRK4_Drag(b *testing.B) {
	benchmarkStep(b, "rk4", &drag{g: 9.81, c: 2}, dynamo.State{1.0, 0.0}, 0.001)
}
