// Package estimator is a synthetic pose estimator. It answers every
// snapshot with noisy estimates of the objects in view and then ends the
// round.
package estimator

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/stackeval/internal/criteria"
	"github.com/san-kum/stackeval/internal/geom"
	"github.com/san-kum/stackeval/internal/transport"
	"github.com/san-kum/stackeval/internal/world"
)

type Config struct {
	// TranslationSigma is the per-axis standard deviation in metres.
	TranslationSigma float64
	RotationSigmaDeg float64
	// MissProbability is the chance an object in view is not reported.
	MissProbability float64
	// FlipProbability is the chance an estimate is replaced by a
	// symmetry-equivalent pose of its class.
	FlipProbability float64
	// MaxPerRound caps the estimates of one round. Zero means no cap.
	MaxPerRound int
	// Latency is the delay before each estimate.
	Latency time.Duration
	Classes []criteria.TargetClass
}

// Stats counts what the estimator has done and heard back.
type Stats struct {
	Rounds      int
	Estimates   int
	Missed      int
	Flipped     int
	Aborted     int
	Successes   int
	Failures    int
	Inestimable int
}

type Estimator struct {
	cfg     Config
	inbox   *transport.Inbox
	results *transport.Publisher
	ended   *transport.Publisher
	rng     *rand.Rand
	clock   clock.Clock
	logger  *zap.SugaredLogger
	stats   Stats
	// pending holds messages read while a round was in progress.
	pending []transport.Message
}

func New(cfg Config, bus *transport.Bus, rng *rand.Rand, clk clock.Clock, logger *zap.SugaredLogger) *Estimator {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}
	e := &Estimator{
		cfg:     cfg,
		inbox:   transport.NewInbox(),
		results: bus.Publisher(transport.TopicEstimateResult),
		ended:   bus.Publisher(transport.TopicEstimationEnded),
		rng:     rng,
		clock:   clk,
		logger:  logger,
	}
	bus.Subscribe(e.inbox, transport.TopicSnapshot, transport.TopicResimulate, transport.TopicEvaluationResult)
	return e
}

// Stats is only meaningful once Run has returned.
func (e *Estimator) Stats() Stats { return e.stats }

// Run serves snapshots until ctx is done.
func (e *Estimator) Run(ctx context.Context) error {
	for {
		for len(e.pending) > 0 {
			msg := e.pending[0]
			e.pending = e.pending[1:]
			if err := e.handle(ctx, msg); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-e.inbox.Ready():
			e.pending = append(e.pending, e.inbox.Drain()...)
		}
	}
}

func (e *Estimator) handle(ctx context.Context, msg transport.Message) error {
	switch msg.Topic {
	case transport.TopicSnapshot:
		snap, ok := msg.Payload.(world.Snapshot)
		if !ok {
			e.logger.Warnw("unexpected snapshot payload", "type", msg.Payload)
			return nil
		}
		return e.round(ctx, snap)
	case transport.TopicEvaluationResult:
		if req, ok := msg.Payload.(transport.Request); ok {
			e.tally(req.ID)
		}
	case transport.TopicResimulate:
		e.logger.Debug("resimulate request outside a round")
	}
	return nil
}

func (e *Estimator) tally(id int32) {
	switch id {
	case 0:
		e.stats.Failures++
	case 1:
		e.stats.Successes++
	case 2:
		e.stats.Inestimable++
	}
}

// round publishes estimates for snap in random order and ends the round.
// A resimulate request cuts the round short.
func (e *Estimator) round(ctx context.Context, snap world.Snapshot) error {
	e.stats.Rounds++
	order := e.rng.Perm(len(snap.Objects))
	if n := e.cfg.MaxPerRound; n > 0 && n < len(order) {
		order = order[:n]
	}
	sensor := snap.Sensor.Compose(geom.OpticalCorrection())

	for _, i := range order {
		if e.cfg.Latency > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-e.clock.After(e.cfg.Latency):
			}
		}
		if e.resimulateRequested() {
			e.stats.Aborted++
			e.logger.Infow("round cut short by resimulate request", "seq", snap.Seq)
			break
		}
		obj := snap.Objects[i]
		if e.rng.Float64() < e.cfg.MissProbability {
			e.stats.Missed++
			continue
		}
		local := sensor.Inverse().Compose(e.perturb(obj))
		matrix := local.RowMajor()
		for _, k := range []int{3, 7, 11} {
			matrix[k] *= 1000
		}
		if err := e.results.Publish(transport.PoseEstimationResult{
			Label:     obj.Class,
			Matrix:    matrix,
			Timestamp: e.clock.Now(),
		}); err != nil {
			e.logger.Warnw("estimate dropped", "object", obj.Name, "error", err)
			continue
		}
		e.stats.Estimates++
	}

	e.logger.Debugw("estimation ended", "seq", snap.Seq)
	if err := e.ended.Publish(transport.Request{Request: "estimation_ended"}); err != nil {
		e.logger.Warnw("estimation ended dropped", "error", err)
	}
	return nil
}

// resimulateRequested drains the inbox, keeping everything but resimulate
// requests for later.
func (e *Estimator) resimulateRequested() bool {
	found := false
	kept := e.pending[:0]
	for _, msg := range append(e.pending, e.inbox.Drain()...) {
		if msg.Topic == transport.TopicResimulate {
			found = true
			continue
		}
		kept = append(kept, msg)
	}
	e.pending = kept
	return found
}

func (e *Estimator) perturb(obj world.ObjectPose) geom.Pose {
	p := obj.Pose
	if e.rng.Float64() < e.cfg.FlipProbability {
		if flip, ok := e.equivalent(obj.Class); ok {
			p.Orientation = geom.Normalize(quat.Mul(p.Orientation, flip))
			e.stats.Flipped++
		}
	}

	if s := e.cfg.TranslationSigma; s > 0 {
		n := distuv.Normal{Mu: 0, Sigma: s, Src: e.rng}
		p.Point = p.Point.Add(r3.Vector{X: n.Rand(), Y: n.Rand(), Z: n.Rand()})
	}
	if s := e.cfg.RotationSigmaDeg; s > 0 {
		unit := distuv.Normal{Mu: 0, Sigma: 1, Src: e.rng}
		axis := r3.Vector{X: unit.Rand(), Y: unit.Rand(), Z: unit.Rand()}
		angle := geom.DegToRad(s * unit.Rand())
		p.Orientation = geom.Normalize(quat.Mul(p.Orientation, geom.FromAxisAngle(axis, angle)))
	}
	return p
}

// equivalent picks a rotation, in the object frame, under which an object of
// the class looks the same.
func (e *Estimator) equivalent(class string) (quat.Number, bool) {
	idx, ok := criteria.Recognize(class, e.cfg.Classes)
	if !ok {
		return quat.Number{}, false
	}
	c := e.cfg.Classes[idx].Criteria
	switch {
	case c.CylinderLike != nil:
		return geom.FromAxisAngle(perpendicular(c.CylinderLike.Axis), math.Pi), true
	case c.Circular != nil:
		return geom.FromAxisAngle(c.Circular.Axis, 2*math.Pi*e.rng.Float64()), true
	case len(c.Rotational) > 0:
		ra := c.Rotational[e.rng.IntN(len(c.Rotational))]
		k := 1 + e.rng.IntN(ra.Order-1)
		return geom.FromAxisAngle(ra.Axis, geom.DegToRad(float64(k)*ra.Interval())), true
	}
	return quat.Number{}, false
}

func perpendicular(axis r3.Vector) r3.Vector {
	p := axis.Cross(r3.Vector{X: 1})
	if p.Norm() < 1e-6 {
		p = axis.Cross(r3.Vector{Y: 1})
	}
	return p.Normalize()
}
