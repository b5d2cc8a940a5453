package trial

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Sample is the motion of one unestimated object at a check.
type Sample struct {
	Name    string
	Linear  float64
	Angular float64
}

type SettleConfig struct {
	// Interval is the simulated time between checks, in seconds.
	Interval float64
	// Consecutive is the number of quiet checks in a row that make the pile steady.
	Consecutive int
	// LinearThreshold is the speed, in m/s, below which an object is quiet.
	LinearThreshold float64
}

// SettlingDetector decides when a thrown pile has come to rest. It samples on
// simulated time and measures time to steady on the wall clock.
type SettlingDetector struct {
	cfg    SettleConfig
	clock  clock.Clock
	logger *zap.SugaredLogger

	lastCheck float64
	quiet     int

	stampStart bool
	start      time.Time

	rethrown     bool
	timeToSteady *time.Duration
}

func NewSettlingDetector(cfg SettleConfig, clk clock.Clock, logger *zap.SugaredLogger) *SettlingDetector {
	return &SettlingDetector{
		cfg:        cfg,
		clock:      clk,
		logger:     logger,
		stampStart: true,
		rethrown:   true,
	}
}

// Due reports whether a check is due at simTime and, if so, advances the
// check window. The first call after arming stamps the start of the throw.
func (d *SettlingDetector) Due(simTime float64) bool {
	if d.stampStart {
		d.start = d.clock.Now()
		d.stampStart = false
	}
	if simTime-d.lastCheck <= d.cfg.Interval {
		return false
	}
	d.lastCheck = simTime
	return true
}

// Observe runs one check over the unestimated objects. It returns true on the
// check that completes the run of quiet samples, then starts counting again.
func (d *SettlingDetector) Observe(samples []Sample) bool {
	for _, s := range samples {
		if s.Linear >= d.cfg.LinearThreshold {
			d.logger.Debugw("object still moving", "object", s.Name, "linear_vel", s.Linear)
			d.quiet = 0
			return false
		}
		if s.Angular >= angularLogThreshold {
			d.logger.Debugw("object spinning", "object", s.Name, "angular_vel", s.Angular)
		}
	}

	d.quiet++
	if d.quiet < d.cfg.Consecutive {
		return false
	}
	d.quiet = 0

	if d.rethrown {
		elapsed := d.clock.Since(d.start)
		d.timeToSteady = &elapsed
		d.rethrown = false
	}
	d.stampStart = true
	return true
}

// angularLogThreshold only controls logging; angular speed never blocks steadiness.
const angularLogThreshold = 5.0

// Rearm is called after objects are released again. rethrown marks a fresh
// pile so the next steady edge reports its time to steady.
func (d *SettlingDetector) Rearm(rethrown bool) {
	d.quiet = 0
	d.stampStart = true
	if rethrown {
		d.rethrown = true
	}
}

// TakeTimeToSteady returns the pending time-to-steady measurement, at most
// once per measurement.
func (d *SettlingDetector) TakeTimeToSteady() (time.Duration, bool) {
	if d.timeToSteady == nil {
		return 0, false
	}
	v := *d.timeToSteady
	d.timeToSteady = nil
	return v, true
}
