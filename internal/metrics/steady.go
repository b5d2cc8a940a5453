package metrics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/stackeval/internal/trial"
)

// TimeToSteady summarizes the wall-clock seconds a fresh pile takes to settle,
// as its mean or its standard deviation.
type TimeToSteady struct {
	name    string
	stddev  bool
	samples []float64
}

func NewTimeToSteady(stddev bool) *TimeToSteady {
	name := "time_to_steady_mean"
	if stddev {
		name = "time_to_steady_stddev"
	}
	return &TimeToSteady{name: name, stddev: stddev}
}

func (t *TimeToSteady) Name() string {
	return t.name
}

func (t *TimeToSteady) Observe(e trial.Event) {
	if e.Kind == trial.EventSteady && e.HasTime {
		t.samples = append(t.samples, e.TimeToSteady.Seconds())
	}
}

func (t *TimeToSteady) Value() float64 {
	if len(t.samples) == 0 {
		return 0
	}
	mean, std := stat.MeanStdDev(t.samples, nil)
	if t.stddev {
		if len(t.samples) < 2 {
			return 0
		}
		return std
	}
	return mean
}

func (t *TimeToSteady) Reset() {
	t.samples = t.samples[:0]
}
