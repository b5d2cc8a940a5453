package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/san-kum/stackeval/internal/criteria"
	"github.com/san-kum/stackeval/internal/trial"
)

func evaluated(accepted bool) trial.Event {
	e := trial.Event{Kind: trial.EventEvaluated, Accepted: accepted, Object: "cube_0"}
	if !accepted {
		e.Reason = criteria.ReasonRotation
	}
	return e
}

func steady(seconds float64) trial.Event {
	return trial.Event{Kind: trial.EventSteady, HasTime: true, TimeToSteady: time.Duration(seconds * float64(time.Second))}
}

func TestSuccessRate(t *testing.T) {
	m := NewSuccessRate()
	if m.Value() != 0 {
		t.Errorf("expected 0 with no samples, got %f", m.Value())
	}
	for _, ok := range []bool{true, true, false, true} {
		m.Observe(evaluated(ok))
	}
	m.Observe(trial.Event{Kind: trial.EventRethrow})
	if math.Abs(m.Value()-0.75) > 1e-12 {
		t.Errorf("expected 0.75, got %f", m.Value())
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestLongestRun(t *testing.T) {
	m := NewLongestRun()
	seq := []trial.Event{
		evaluated(true), evaluated(true), evaluated(false),
		evaluated(true), evaluated(true), evaluated(true),
		{Kind: trial.EventInestimable},
		evaluated(true),
	}
	for _, e := range seq {
		m.Observe(e)
	}
	if m.Value() != 3 {
		t.Errorf("expected longest run 3, got %f", m.Value())
	}
}

func TestTimeToSteady(t *testing.T) {
	mean := NewTimeToSteady(false)
	std := NewTimeToSteady(true)
	for _, s := range []float64{1, 2, 3} {
		mean.Observe(steady(s))
		std.Observe(steady(s))
	}
	// Steady edges without a pending measurement are ignored.
	mean.Observe(trial.Event{Kind: trial.EventSteady})

	if math.Abs(mean.Value()-2) > 1e-9 {
		t.Errorf("expected mean 2, got %f", mean.Value())
	}
	if math.Abs(std.Value()-1) > 1e-9 {
		t.Errorf("expected stddev 1, got %f", std.Value())
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	c.OnEvent(steady(1.5))
	c.OnEvent(evaluated(true))
	c.OnEvent(evaluated(false))
	c.OnEvent(trial.Event{Kind: trial.EventInestimable, Unestimated: 4})

	s := c.Summary()
	if s["evaluated"] != 2 {
		t.Errorf("expected 2 evaluated, got %f", s["evaluated"])
	}
	if s["inestimable"] != 1 {
		t.Errorf("expected 1 inestimable, got %f", s["inestimable"])
	}
	if s["time_to_steady_mean"] != 1.5 {
		t.Errorf("expected mean time to steady 1.5, got %f", s["time_to_steady_mean"])
	}

	rows := c.Rows()
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1].Reason != "rotation" || rows[1].Accepted {
		t.Errorf("unexpected row %+v", rows[1])
	}
	if rows[2].Kind != "inestimable" || rows[2].Remaining != 4 {
		t.Errorf("unexpected row %+v", rows[2])
	}

	if _, seen := c.Last(); seen != 4 {
		t.Errorf("expected 4 events seen, got %d", seen)
	}
}
