package metrics

import (
	"sync"

	"github.com/san-kum/stackeval/internal/storage"
	"github.com/san-kum/stackeval/internal/trial"
)

// Collector feeds trial events to a set of metrics and keeps the event
// timeline. It is safe to read from another goroutine while the run writes.
type Collector struct {
	mu      sync.Mutex
	metrics []Metric
	rows    []storage.EventRow
	last    trial.Event
	seen    int
}

func NewCollector(metrics ...Metric) *Collector {
	if len(metrics) == 0 {
		metrics = Standard()
	}
	return &Collector{metrics: metrics}
}

func (c *Collector) OnEvent(e trial.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.metrics {
		m.Observe(e)
	}
	c.last = e
	c.seen++

	switch e.Kind {
	case trial.EventEvaluated, trial.EventInestimable, trial.EventRethrow:
		c.rows = append(c.rows, storage.EventRow{
			Trial:     e.Trial,
			Kind:      kindName(e.Kind),
			Object:    e.Object,
			Accepted:  e.Accepted,
			Reason:    string(e.Reason),
			AngleDeg:  e.Verdict.AngleDeg,
			Remaining: e.Unestimated,
		})
	}
}

// Summary returns the current value of every metric by name.
func (c *Collector) Summary() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]float64, len(c.metrics))
	for _, m := range c.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}

// Rows returns a copy of the recorded timeline.
func (c *Collector) Rows() []storage.EventRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]storage.EventRow, len(c.rows))
	copy(out, c.rows)
	return out
}

// Last returns the most recent event and how many events were seen.
func (c *Collector) Last() (trial.Event, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.seen
}

func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.metrics {
		m.Reset()
	}
	c.rows = nil
	c.seen = 0
}

func kindName(k trial.EventKind) string {
	switch k {
	case trial.EventSteady:
		return "steady"
	case trial.EventEvaluated:
		return "evaluated"
	case trial.EventRoundEnded:
		return "round_ended"
	case trial.EventInestimable:
		return "inestimable"
	case trial.EventRethrow:
		return "rethrow"
	default:
		return "unknown"
	}
}
