// Package trial drives the throw, settle, estimate and score cycle of a
// stacking evaluation.
package trial

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/san-kum/stackeval/internal/criteria"
	"github.com/san-kum/stackeval/internal/geom"
	"github.com/san-kum/stackeval/internal/report"
)

var (
	// ErrMalformedEstimate is returned for an estimate that cannot be read as a
	// rigid 4x4 transform. It is not fatal.
	ErrMalformedEstimate = errors.New("trial: malformed pose estimate")
	// ErrUnknownClass is returned when an estimate label names no target class.
	// The run cannot continue.
	ErrUnknownClass = errors.New("trial: recognized object matches no target class")
)

type State int

const (
	AwaitingSteady State = iota
	SteadyCaptured
	AwaitingEstimates
	RoundEvaluation
	Suppressed
)

func (s State) String() string {
	switch s {
	case AwaitingSteady:
		return "awaiting_steady"
	case SteadyCaptured:
		return "steady_captured"
	case AwaitingEstimates:
		return "awaiting_estimates"
	case RoundEvaluation:
		return "round_evaluation"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// ResultID is the code published on the evaluation result topic.
type ResultID int32

const (
	ResultFail        ResultID = 0
	ResultSuccess     ResultID = 1
	ResultInestimable ResultID = 2
)

// Estimate is one pose reported by the estimator. Matrix holds a row-major
// 4x4 transform in the sensor optical frame with translation in millimetres.
type Estimate struct {
	Label     string
	Matrix    []float64
	Timestamp time.Time
}

type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeNoCandidate
	OutcomeAccepted
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoCandidate:
		return "no_candidate"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	default:
		return "ignored"
	}
}

type RoundResult int

const (
	RoundIgnored RoundResult = iota
	RoundContinue
	RoundRethrow
	RoundInestimable
)

// World is the simulated scene as seen by the state machine.
type World interface {
	SimTime() float64
	Pose(name string) (geom.Pose, error)
	SetPose(name string, p geom.Pose) error
	Velocity(name string) (linear, angular r3.Vector, err error)
	// Freeze makes the named objects static and stops their motion.
	Freeze(names ...string) error
	Unfreeze(names ...string) error
	// SensorPose is the pose of the depth sensor model, before the optical correction.
	SensorPose() (geom.Pose, error)
	// Models lists every model in the world.
	Models() []string
}

// Outbox carries the messages the machine publishes.
type Outbox interface {
	RequestSnapshot(ctx context.Context) error
	RequestResimulate(ctx context.Context) error
	PublishResult(ctx context.Context, id ResultID) error
	PublishOnlySnapshot(ctx context.Context, data string) error
}

// Recorder persists evaluation records.
type Recorder interface {
	Evaluation(rec report.Record, accepted bool) error
	Inestimable(rec report.Record) error
	TimeToSteady(d time.Duration) error
	SuccessRun(n int) error
}

type EventKind int

const (
	EventSteady EventKind = iota
	EventEvaluated
	EventRoundEnded
	EventInestimable
	EventRethrow
)

// Event is emitted to the Observer after each transition of interest.
type Event struct {
	Kind         EventKind
	Trial        int
	Object       string
	Accepted     bool
	Reason       criteria.Reason
	Verdict      criteria.Verdict
	Unestimated  int
	TimeToSteady time.Duration
	HasTime      bool
}

type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans an event out to several observers in order.
type Observers []Observer

func (o Observers) OnEvent(e Event) {
	for _, obs := range o {
		obs.OnEvent(e)
	}
}
