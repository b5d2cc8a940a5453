// Package metrics aggregates trial events into run-level figures.
package metrics

import (
	"github.com/san-kum/stackeval/internal/trial"
)

type Metric interface {
	Name() string
	Observe(e trial.Event)
	Value() float64
	Reset()
}

// Standard returns the metrics recorded for every run.
func Standard() []Metric {
	return []Metric{
		NewSuccessRate(),
		NewCount("evaluated", trial.EventEvaluated),
		NewCount("inestimable", trial.EventInestimable),
		NewCount("rethrows", trial.EventRethrow),
		NewTimeToSteady(false),
		NewTimeToSteady(true),
		NewLongestRun(),
	}
}
