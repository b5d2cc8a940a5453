package metrics

import (
	"github.com/san-kum/stackeval/internal/trial"
)

type SuccessRate struct {
	name     string
	accepted int
	samples  int
}

func NewSuccessRate() *SuccessRate {
	return &SuccessRate{
		name: "success_rate",
	}
}

func (s *SuccessRate) Name() string {
	return s.name
}

func (s *SuccessRate) Observe(e trial.Event) {
	if e.Kind != trial.EventEvaluated {
		return
	}
	s.samples++
	if e.Accepted {
		s.accepted++
	}
}

func (s *SuccessRate) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.accepted) / float64(s.samples)
}

func (s *SuccessRate) Reset() {
	s.accepted = 0
	s.samples = 0
}

// Count counts events of one kind.
type Count struct {
	name string
	kind trial.EventKind
	n    int
}

func NewCount(name string, kind trial.EventKind) *Count {
	return &Count{name: name, kind: kind}
}

func (c *Count) Name() string { return c.name }

func (c *Count) Observe(e trial.Event) {
	if e.Kind == c.kind {
		c.n++
	}
}

func (c *Count) Value() float64 { return float64(c.n) }

func (c *Count) Reset() { c.n = 0 }

// LongestRun is the longest streak of accepted estimates. An inestimable
// pile breaks the streak like a failure does.
type LongestRun struct {
	current int
	longest int
}

func NewLongestRun() *LongestRun { return &LongestRun{} }

func (l *LongestRun) Name() string { return "longest_success_run" }

func (l *LongestRun) Observe(e trial.Event) {
	switch {
	case e.Kind == trial.EventEvaluated && e.Accepted:
		l.current++
		if l.current > l.longest {
			l.longest = l.current
		}
	case e.Kind == trial.EventEvaluated, e.Kind == trial.EventInestimable:
		l.current = 0
	}
}

func (l *LongestRun) Value() float64 { return float64(l.longest) }

func (l *LongestRun) Reset() {
	l.current = 0
	l.longest = 0
}
