package trial

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/san-kum/stackeval/internal/criteria"
	"github.com/san-kum/stackeval/internal/geom"
	"github.com/san-kum/stackeval/internal/report"
	"github.com/san-kum/stackeval/internal/scene"
)

// SnapshotConfig enables only-snapshot mode: no estimates are scored, the
// pile is rethrown on every rethrow event until Total snapshots are taken.
type SnapshotConfig struct {
	Enabled bool
	Total   int
	// Origin is subtracted from object positions before scaling.
	Origin r3.Vector
	// Scale converts metres to image units along x and y.
	Scale r3.Vector
}

type Config struct {
	Settle              SettleConfig
	Grid                scene.Grid
	Classes             []criteria.TargetClass
	ResimulateAfterFail bool
	Snapshot            SnapshotConfig
}

type Deps struct {
	World    World
	Outbox   Outbox
	Recorder Recorder
	Observer Observer
	Clock    clock.Clock
	Rand     *rand.Rand
	Logger   *zap.SugaredLogger
}

// Machine is the trial state machine. It is not safe for concurrent use; all
// handlers are expected to run on one goroutine.
type Machine struct {
	cfg      Config
	world    World
	out      Outbox
	rec      Recorder
	obs      Observer
	rng      *rand.Rand
	logger   *zap.SugaredLogger
	scene    *scene.Scene
	settle   *SettlingDetector
	stagnant *StagnationTracker

	state       State
	sensorFrame geom.Pose

	// inestimable is set when a trial ends inestimable and cleared by the
	// next scored estimate.
	inestimable bool
	successRun  int
	trials      int
	snapshots   int
}

// New builds a machine over sc and throws the pile for the first trial.
func New(cfg Config, sc *scene.Scene, deps Deps) (*Machine, error) {
	if sc.Len() != cfg.Grid.Count() {
		return nil, errors.Errorf("trial: scene has %d objects, grid holds %d", sc.Len(), cfg.Grid.Count())
	}
	if len(cfg.Classes) == 0 {
		return nil, errors.New("trial: no target classes")
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	obs := deps.Observer
	if obs == nil {
		obs = ObserverFunc(func(Event) {})
	}
	rng := deps.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}

	m := &Machine{
		cfg:         cfg,
		world:       deps.World,
		out:         deps.Outbox,
		rec:         deps.Recorder,
		obs:         obs,
		rng:         rng,
		logger:      logger,
		scene:       sc,
		settle:      NewSettlingDetector(cfg.Settle, clk, logger),
		stagnant:    NewStagnationTracker(sc.Len()),
		state:       AwaitingSteady,
		sensorFrame: geom.Identity(),
	}
	if err := m.throw(); err != nil {
		return nil, err
	}
	m.parkMarkers()
	return m, nil
}

func (m *Machine) State() State { return m.state }
func (m *Machine) Trials() int { return m.trials }
func (m *Machine) Snapshots() int { return m.snapshots }
func (m *Machine) Scene() *scene.Scene { return m.scene }
func (m *Machine) SensorFrame() geom.Pose { return m.sensorFrame }

// SnapshotsDone reports whether only-snapshot mode has reached its total.
func (m *Machine) SnapshotsDone() bool {
	return m.cfg.Snapshot.Enabled && m.snapshots >= m.cfg.Snapshot.Total
}

// Tick is called after every simulation step while the pile settles.
func (m *Machine) Tick(ctx context.Context) error {
	if m.state != AwaitingSteady {
		return nil
	}
	if !m.settle.Due(m.world.SimTime()) {
		return nil
	}
	m.logger.Debugw("checking steadiness", "sim_time", m.world.SimTime())

	unest := m.scene.Unestimated()
	samples := make([]Sample, 0, len(unest))
	for _, i := range unest {
		name := m.scene.Object(i).Name
		lin, ang, err := m.world.Velocity(name)
		if err != nil {
			return errors.Wrapf(err, "reading velocity of %s", name)
		}
		samples = append(samples, Sample{Name: name, Linear: lin.Norm(), Angular: ang.Norm()})
	}
	if !m.settle.Observe(samples) {
		return nil
	}
	return m.onSteady(ctx)
}

func (m *Machine) onSteady(ctx context.Context) error {
	m.state = SteadyCaptured
	m.logger.Info("objects stopped")

	ev := Event{Kind: EventSteady, Trial: m.trials, Unestimated: m.scene.UnestimatedCount()}
	if d, ok := m.settle.TakeTimeToSteady(); ok {
		if err := m.rec.TimeToSteady(d); err != nil {
			return err
		}
		ev.TimeToSteady, ev.HasTime = d, true
	}

	if err := m.world.Freeze(m.unestimatedNames()...); err != nil {
		return errors.Wrap(err, "freezing pile")
	}

	m.logger.Info("take one shot request")
	if err := m.out.RequestSnapshot(ctx); err != nil {
		return errors.Wrap(err, "requesting snapshot")
	}
	if m.cfg.Snapshot.Enabled {
		if err := m.out.PublishOnlySnapshot(ctx, m.snapshotData()); err != nil {
			return errors.Wrap(err, "publishing snapshot positions")
		}
	}

	sensor, err := m.world.SensorPose()
	if err != nil {
		return errors.Wrap(err, "reading sensor pose")
	}
	m.sensorFrame = sensor.Compose(geom.OpticalCorrection())

	m.state = AwaitingEstimates
	m.obs.OnEvent(ev)
	return nil
}

// snapshotData encodes the total followed by the image-plane x y of every
// object: "<total> x0 y0 x1 y1 ...".
func (m *Machine) snapshotData() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(m.cfg.Snapshot.Total))
	b.WriteByte(' ')
	for _, o := range m.scene.Objects() {
		p, err := m.world.Pose(o.Name)
		if err != nil {
			m.logger.Warnw("object missing from world", "object", o.Name, "error", err)
			continue
		}
		rel := p.Point.Sub(m.cfg.Snapshot.Origin)
		fmt.Fprintf(&b, "%g %g ", math.Abs(rel.X*m.cfg.Snapshot.Scale.X), math.Abs(rel.Y*m.cfg.Snapshot.Scale.Y))
	}
	return b.String()
}

// HandleEstimate scores one pose estimate. Estimates outside the estimating
// state are dropped.
func (m *Machine) HandleEstimate(ctx context.Context, est Estimate) (Outcome, error) {
	if m.state != AwaitingEstimates || m.cfg.Snapshot.Enabled {
		m.logger.Debugw("dropping estimate", "label", est.Label, "state", m.state)
		return OutcomeIgnored, nil
	}
	if len(est.Matrix) != 16 {
		return OutcomeIgnored, errors.Wrapf(ErrMalformedEstimate, "expected 16 values, got %d", len(est.Matrix))
	}

	local := make([]float64, 16)
	copy(local, est.Matrix)
	for _, i := range []int{3, 7, 11} {
		local[i] *= 0.001
	}
	localPose, err := geom.PoseFromRowMajor(local)
	if err != nil {
		return OutcomeIgnored, errors.Wrap(ErrMalformedEstimate, err.Error())
	}
	estimate := m.sensorFrame.Compose(localPose)
	m.logger.Infow("estimate received", "recognized", est.Label, "pose", estimate.String())

	candidates, err := m.candidates()
	if err != nil {
		return OutcomeIgnored, err
	}
	match, ok := scene.Nearest(estimate.Point, candidates)
	if !ok {
		return OutcomeNoCandidate, nil
	}
	truth, err := m.world.Pose(match.Name)
	if err != nil {
		return OutcomeIgnored, errors.Wrapf(err, "reading pose of %s", match.Name)
	}

	classIdx, ok := criteria.Recognize(est.Label, m.cfg.Classes)
	if !ok {
		return OutcomeIgnored, errors.Wrapf(ErrUnknownClass, "label %q", est.Label)
	}
	m.showMarker(classIdx, estimate)
	class := m.cfg.Classes[classIdx]

	errPose := geom.Between(truth, estimate)
	rotErr := geom.ToAxisAngle(errPose.Orientation)
	verdict := criteria.Classify(criteria.Input{
		RecognizedClass:  class.Name,
		MatchedObject:    match.Name,
		Rotation:         rotErr,
		TranslationError: errPose.Point.Norm(),
		Criteria:         class.Criteria,
	})
	m.logger.Infow("estimate evaluated",
		"nearest", match.Name,
		"accepted", verdict.Accepted,
		"reason", verdict.Reason,
		"rule", verdict.Rule,
		"angle_deg", verdict.AngleDeg,
		"translation_error", errPose.Point.Norm(),
	)

	rec := m.record(class.Name, match.Name, errPose, rotErr, estimate)
	rec.Reason = string(verdict.Reason)
	if err := m.rec.Evaluation(rec, verdict.Accepted); err != nil {
		return OutcomeIgnored, err
	}
	if err := m.countSuccessRun(verdict.Accepted); err != nil {
		return OutcomeIgnored, err
	}

	id := ResultFail
	if verdict.Accepted {
		id = ResultSuccess
	}
	if err := m.out.PublishResult(ctx, id); err != nil {
		return OutcomeIgnored, errors.Wrap(err, "publishing evaluation result")
	}

	outcome := OutcomeRejected
	if verdict.Accepted {
		outcome = OutcomeAccepted
		m.scene.MarkEstimated(match.Index)
		if err := m.world.SetPose(match.Name, geom.NewPose(scene.ParkPosition(match.Index, m.cfg.Grid.Spacing), geom.IdentityQuat)); err != nil {
			return outcome, errors.Wrapf(err, "parking %s", match.Name)
		}
	} else if m.cfg.ResimulateAfterFail {
		m.logger.Info("resimulate request")
		if err := m.out.RequestResimulate(ctx); err != nil {
			return outcome, errors.Wrap(err, "requesting resimulation")
		}
		m.scene.MarkAllEstimated()
		m.state = Suppressed
	}

	m.obs.OnEvent(Event{
		Kind:        EventEvaluated,
		Trial:       m.trials,
		Object:      match.Name,
		Accepted:    verdict.Accepted,
		Reason:      verdict.Reason,
		Verdict:     verdict,
		Unestimated: m.scene.UnestimatedCount(),
	})
	return outcome, nil
}

// countSuccessRun writes the length of the current run of successes whenever
// it is broken by a failure or an inestimable trial.
func (m *Machine) countSuccessRun(accepted bool) error {
	if m.inestimable {
		m.inestimable = false
		if err := m.rec.SuccessRun(m.successRun); err != nil {
			return err
		}
		m.successRun = 0
	}
	if accepted {
		m.successRun++
		return nil
	}
	if err := m.rec.SuccessRun(m.successRun); err != nil {
		return err
	}
	m.successRun = 0
	return nil
}

// HandleEnded closes an estimation round and decides between another settle
// pass over the remaining objects and a fresh throw.
func (m *Machine) HandleEnded(ctx context.Context) (RoundResult, error) {
	if m.state != AwaitingEstimates && m.state != Suppressed {
		m.logger.Debugw("ignoring estimation ended", "state", m.state)
		return RoundIgnored, nil
	}
	m.state = RoundEvaluation
	m.logger.Info("estimation process finished")

	unest := m.scene.UnestimatedCount()
	inestimable := m.stagnant.RoundEnded(unest)
	m.obs.OnEvent(Event{Kind: EventRoundEnded, Trial: m.trials, Unestimated: unest})

	result := RoundContinue
	if inestimable {
		result = RoundInestimable
		m.inestimable = true
		if err := m.rec.Inestimable(m.inestimableRecord()); err != nil {
			return result, err
		}
		if err := m.out.PublishResult(ctx, ResultInestimable); err != nil {
			return result, errors.Wrap(err, "publishing inestimable result")
		}
		m.logger.Warnw("pile is inestimable", "unestimated", unest, "streak", m.stagnant.Streak())
		m.obs.OnEvent(Event{Kind: EventInestimable, Trial: m.trials, Unestimated: unest})
	}

	if unest == 0 || inestimable {
		if result == RoundContinue {
			result = RoundRethrow
		}
		if err := m.rethrow(); err != nil {
			return result, err
		}
		m.stagnant.OnRethrow()
	} else {
		if err := m.world.Unfreeze(m.unestimatedNames()...); err != nil {
			return result, errors.Wrap(err, "releasing remaining objects")
		}
		m.settle.Rearm(false)
	}

	m.parkMarkers()
	m.state = AwaitingSteady
	return result, nil
}

// HandleRethrowEvent handles the depth sensor's snapshot counter in
// only-snapshot mode. It reports done once the configured total is reached.
func (m *Machine) HandleRethrowEvent(ctx context.Context, data string) (bool, error) {
	n, err := strconv.Atoi(strings.TrimSpace(data))
	if err != nil {
		return false, errors.Wrapf(err, "parsing snapshot count %q", data)
	}
	m.snapshots = n
	if n >= m.cfg.Snapshot.Total {
		m.logger.Infow("snapshot total reached", "snapshots", n)
		return true, nil
	}
	if err := m.rethrow(); err != nil {
		return false, err
	}
	m.state = AwaitingSteady
	return false, nil
}

func (m *Machine) rethrow() error {
	if err := m.world.Unfreeze(m.scene.Names()...); err != nil {
		return errors.Wrap(err, "releasing pile")
	}
	m.scene.Reset()
	if err := m.throw(); err != nil {
		return err
	}
	m.settle.Rearm(true)
	m.trials++
	m.logger.Infow("pile rethrown", "trial", m.trials)
	m.obs.OnEvent(Event{Kind: EventRethrow, Trial: m.trials, Unestimated: m.scene.Len()})
	return nil
}

func (m *Machine) throw() error {
	poses := m.cfg.Grid.Throw(m.rng)
	for i, name := range m.scene.Names() {
		if err := m.world.SetPose(name, poses[i]); err != nil {
			return errors.Wrapf(err, "placing %s", name)
		}
	}
	return nil
}

func (m *Machine) candidates() ([]scene.Located, error) {
	unest := m.scene.Unestimated()
	out := make([]scene.Located, 0, len(unest))
	for _, i := range unest {
		name := m.scene.Object(i).Name
		p, err := m.world.Pose(name)
		if err != nil {
			return nil, errors.Wrapf(err, "reading pose of %s", name)
		}
		out = append(out, scene.Located{Index: i, Name: name, Position: p.Point})
	}
	return out, nil
}

func (m *Machine) unestimatedNames() []string {
	idx := m.scene.Unestimated()
	names := make([]string, len(idx))
	for k, i := range idx {
		names[k] = m.scene.Object(i).Name
	}
	return names
}

// showMarker moves the marker of the recognized class onto the estimate and
// parks the others.
func (m *Machine) showMarker(recognized int, estimate geom.Pose) {
	for i, c := range m.cfg.Classes {
		p := estimate
		if i != recognized {
			p = geom.NewPose(scene.MarkerPark(i, m.cfg.Grid.Spacing), geom.IdentityQuat)
		}
		if err := m.world.SetPose(c.MarkerName(), p); err != nil {
			m.logger.Debugw("result marker not ready", "marker", c.MarkerName(), "error", err)
		}
	}
}

func (m *Machine) parkMarkers() {
	m.showMarker(-1, geom.Identity())
}

func (m *Machine) record(recognized, closest string, errPose geom.Pose, rotErr geom.AxisAngle, estimate geom.Pose) report.Record {
	euler := geom.ToEuler(errPose.Orientation)
	return report.Record{
		Recognized:       recognized,
		Closest:          closest,
		ErrorEulerDeg:    euler.Mul(geom.RadToDeg(1)),
		ErrorAxis:        rotErr.Axis,
		ErrorAngleDeg:    rotErr.Degrees(),
		ErrorTranslation: errPose.Point,
		Estimate:         estimate,
		SensorPose:       m.sensorFrame,
		Objects:          m.unestimatedPoses(),
		Others:           m.otherPoses(),
	}
}

// inestimableRecord logs the pile that could not be estimated with a
// placeholder estimate.
func (m *Machine) inestimableRecord() report.Record {
	first := m.cfg.Classes[0]
	return report.Record{
		Recognized: first.Name,
		Closest:    first.MarkerName(),
		Estimate:   geom.NewPose(r3.Vector{X: -1, Y: 1, Z: 2}, geom.IdentityQuat),
		SensorPose: m.sensorFrame,
		Objects:    m.unestimatedPoses(),
		Others:     m.otherPoses(),
	}
}

func (m *Machine) unestimatedPoses() []report.ModelPose {
	var out []report.ModelPose
	for _, name := range m.unestimatedNames() {
		p, err := m.world.Pose(name)
		if err != nil {
			continue
		}
		out = append(out, report.ModelPose{Name: name, Pose: p})
	}
	return out
}

func (m *Machine) otherPoses() []report.ModelPose {
	targets := make(map[string]struct{}, m.scene.Len())
	for _, n := range m.scene.Names() {
		targets[n] = struct{}{}
	}
	var out []report.ModelPose
	for _, name := range m.world.Models() {
		if _, ok := targets[name]; ok {
			continue
		}
		p, err := m.world.Pose(name)
		if err != nil {
			continue
		}
		out = append(out, report.ModelPose{Name: name, Pose: p})
	}
	return out
}
