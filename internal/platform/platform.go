// Package platform wires the world, the bus, the camera, the synthetic
// estimator and the trial machine into one evaluation run.
package platform

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/san-kum/stackeval/internal/config"
	"github.com/san-kum/stackeval/internal/criteria"
	"github.com/san-kum/stackeval/internal/estimator"
	"github.com/san-kum/stackeval/internal/geom"
	"github.com/san-kum/stackeval/internal/metrics"
	"github.com/san-kum/stackeval/internal/report"
	"github.com/san-kum/stackeval/internal/scene"
	"github.com/san-kum/stackeval/internal/storage"
	"github.com/san-kum/stackeval/internal/transport"
	"github.com/san-kum/stackeval/internal/trial"
	"github.com/san-kum/stackeval/internal/world"
)

// stepsPerPoll is how many simulation steps run between two inbox drains.
const stepsPerPoll = 10

type Options struct {
	Clock  clock.Clock
	Logger *zap.SugaredLogger
	// Observer receives every trial event after the metrics collector.
	Observer trial.Observer
}

// Status is a snapshot of the run for dashboards.
type Status struct {
	State       trial.State
	Trials      int
	Snapshots   int
	SimTime     float64
	Objects     int
	Unestimated int
	Topics      []transport.Status
}

type Platform struct {
	cfg       *config.Config
	classes   []criteria.TargetClass
	clock     clock.Clock
	logger    *zap.SugaredLogger
	bus       *transport.Bus
	inbox     *transport.Inbox
	stack     *world.Stack
	camera    *world.Camera
	estimator *estimator.Estimator
	machine   *trial.Machine
	collector *metrics.Collector
	store     *storage.Store
	run       string
	started   time.Time

	mu     sync.Mutex
	status Status
}

func New(cfg *config.Config, opts Options) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	classes, warnings := cfg.Classes()
	for _, w := range warnings {
		logger.Warnw("symmetry disabled", "reason", w)
	}

	seed := cfg.Run.Seed
	rng := rand.New(rand.NewPCG(seed, seed+1))
	sc, err := scene.Populate(rng, classes, cfg.ObjectCount())
	if err != nil {
		return nil, err
	}

	stack, err := world.NewStack(worldConfig(cfg), logger.Named("world"))
	if err != nil {
		return nil, err
	}
	for _, o := range sc.Objects() {
		if err := stack.AddObject(o.Name, classes[o.Class].Name); err != nil {
			return nil, err
		}
	}
	for i, c := range classes {
		park := geom.NewPose(scene.MarkerPark(i, cfg.Stacking.DistanceBetweenObjects), geom.IdentityQuat)
		if err := stack.AddStatic(c.MarkerName(), park); err != nil {
			return nil, err
		}
	}

	grid := scene.Grid{
		Width:   cfg.Stacking.Width,
		Height:  cfg.Stacking.Height,
		Layers:  cfg.Stacking.Layers,
		Spacing: cfg.Stacking.DistanceBetweenObjects,
		Center:  cfg.StackingCenter(),
	}
	ex, ey := grid.Extent()
	if _, hi := stack.Bounds(); ex > hi.X || ey > hi.Y {
		logger.Warnw("throw grid is wider than the bin floor", "grid_half_x", ex, "grid_half_y", ey, "bin_half_x", hi.X, "bin_half_y", hi.Y)
	}

	store := storage.New(cfg.Log.Path)
	if err := store.Init(); err != nil {
		return nil, errors.Wrapf(err, "creating log directory %s", cfg.Log.Path)
	}
	started := clk.Now()
	run, err := store.CreateRun(started, seed, classNames(classes), sc.Len())
	if err != nil {
		return nil, err
	}
	writer := report.NewWriter(store.RunDir(run), report.Options{
		ErrorLogging:   cfg.Log.ErrorLogging,
		SuccessLogging: cfg.Log.SuccessLogging,
	}, logger.Named("report"))

	bus := transport.NewBus(clk, logger.Named("bus"))
	camera := world.NewCamera(stack, bus, logger.Named("camera"))
	// In only-snapshot mode nothing estimates the pictures.
	var est *estimator.Estimator
	if cfg.Snapshot.Mode != 1 {
		est = estimator.New(estimator.Config{
			TranslationSigma: cfg.Estimator.TranslationSigma,
			RotationSigmaDeg: cfg.Estimator.RotationSigmaDeg,
			MissProbability:  cfg.Estimator.MissProbability,
			FlipProbability:  cfg.Estimator.FlipProbability,
			MaxPerRound:      cfg.Estimator.MaxPerRound,
			Latency:          cfg.Estimator.Latency,
			Classes:          classes,
		}, bus, rand.New(rand.NewPCG(seed+2, seed+3)), clk, logger.Named("estimator"))
	}

	inbox := transport.NewInbox()
	bus.Subscribe(inbox, transport.TopicEstimateResult, transport.TopicEstimationEnded, transport.TopicRethrowEvent)
	bus.Subscribe(inbox, camera.Topics()...)

	collector := metrics.NewCollector()
	observers := trial.Observers{collector}
	if opts.Observer != nil {
		observers = append(observers, opts.Observer)
	}

	snap := cfg.Snapshot
	machine, err := trial.New(trial.Config{
		Settle: trial.SettleConfig{
			Interval:        cfg.Stacking.CheckSteadyInterval,
			Consecutive:     cfg.Stacking.ConsecutiveSteadyThreshold,
			LinearThreshold: cfg.Stacking.LinearVelThreshold,
		},
		Grid:                grid,
		Classes:             classes,
		ResimulateAfterFail: cfg.Attribute.ResimulateAfterFail,
		Snapshot: trial.SnapshotConfig{
			Enabled: snap.Mode == 1,
			Total:   snap.Total,
			Origin:  config.Vector(snap.Origin),
			Scale:   config.Vector(snap.Scale),
		},
	}, sc, trial.Deps{
		World:    stack,
		Outbox:   newBusOutbox(bus, cfg.Run.ConnectWarnInterval),
		Recorder: writer,
		Observer: observers,
		Clock:    clk,
		Rand:     rng,
		Logger:   logger.Named("trial"),
	})
	if err != nil {
		return nil, err
	}

	p := &Platform{
		cfg:       cfg,
		classes:   classes,
		clock:     clk,
		logger:    logger,
		bus:       bus,
		inbox:     inbox,
		stack:     stack,
		camera:    camera,
		estimator: est,
		machine:   machine,
		collector: collector,
		store:     store,
		run:       run,
		started:   started,
	}
	p.updateStatus()
	logger.Infow("run created", "run", run, "objects", sc.Len(), "classes", classNames(classes))
	return p, nil
}

func worldConfig(cfg *config.Config) world.Config {
	wc := world.DefaultConfig()
	wc.Dt = cfg.Run.Dt
	if cfg.Run.Integrator != "" {
		wc.Integrator = cfg.Run.Integrator
	}
	wc.BoxSize = config.Vector(cfg.Stacking.BoxSize)
	wc.WallThickness = cfg.Stacking.BoxWallThickness
	return wc
}

func classNames(classes []criteria.TargetClass) []string {
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = c.Name
	}
	return names
}

func (p *Platform) RunName() string               { return p.run }
func (p *Platform) RunDir() string                { return p.store.RunDir(p.run) }
func (p *Platform) Collector() *metrics.Collector { return p.collector }

// Status may be called from any goroutine.
func (p *Platform) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Platform) updateStatus() {
	s := Status{
		State:       p.machine.State(),
		Trials:      p.machine.Trials(),
		Snapshots:   p.machine.Snapshots(),
		SimTime:     p.stack.SimTime(),
		Objects:     p.machine.Scene().Len(),
		Unestimated: p.machine.Scene().UnestimatedCount(),
		Topics:      p.bus.Status(),
	}
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// Run runs the evaluation loop until ctx is done, the trial limit or the
// snapshot total is reached, or a handler fails. The run metadata and event
// timeline are saved in every case.
func (p *Platform) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	estDone := make(chan error, 1)
	if p.estimator != nil {
		go func() { estDone <- p.estimator.Run(ctx) }()
	} else {
		estDone <- nil
	}
	defer func() {
		cancel()
		err = multierr.Combine(err, <-estDone, p.save())
	}()

	for {
		if ctx.Err() != nil {
			p.logger.Info("run interrupted")
			return nil
		}
		done, err := p.drain(ctx)
		if err != nil {
			return err
		}
		p.updateStatus()
		if done || p.limitReached() {
			p.logger.Infow("run finished", "trials", p.machine.Trials(), "snapshots", p.machine.Snapshots())
			return nil
		}

		if p.machine.State() == trial.AwaitingSteady {
			for i := 0; i < stepsPerPoll && p.machine.State() == trial.AwaitingSteady; i++ {
				if err := p.stack.Step(); err != nil {
					return errors.Wrap(err, "stepping world")
				}
				if err := p.machine.Tick(ctx); err != nil {
					return err
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
		case <-p.inbox.Ready():
		}
	}
}

func (p *Platform) limitReached() bool {
	return p.cfg.Run.Trials > 0 && p.machine.Trials() >= p.cfg.Run.Trials
}

// drain dispatches every pending delivery. It reports whether only-snapshot
// mode has finished.
func (p *Platform) drain(ctx context.Context) (bool, error) {
	for _, msg := range p.inbox.Drain() {
		done, err := p.dispatch(ctx, msg)
		if err != nil || done {
			return done, err
		}
		if p.limitReached() {
			return false, nil
		}
	}
	return false, nil
}

func (p *Platform) dispatch(ctx context.Context, msg transport.Message) (bool, error) {
	switch msg.Topic {
	case transport.TopicEstimateResult:
		res, ok := msg.Payload.(transport.PoseEstimationResult)
		if !ok {
			p.logger.Warnw("unexpected estimate payload", "type", msg.Payload)
			return false, nil
		}
		outcome, err := p.machine.HandleEstimate(ctx, trial.Estimate{Label: res.Label, Matrix: res.Matrix, Timestamp: res.Timestamp})
		if errors.Is(err, trial.ErrMalformedEstimate) {
			p.logger.Warnw("malformed estimate", "label", res.Label, "error", err)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		p.logger.Debugw("estimate handled", "label", res.Label, "outcome", outcome)
	case transport.TopicEstimationEnded:
		result, err := p.machine.HandleEnded(ctx)
		if err != nil {
			return false, err
		}
		p.logger.Debugw("round handled", "result", result)
	case transport.TopicRethrowEvent:
		req, ok := msg.Payload.(transport.Request)
		if !ok {
			return false, nil
		}
		return p.machine.HandleRethrowEvent(ctx, req.Data)
	default:
		if err := p.camera.Handle(msg); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (p *Platform) save() error {
	meta := &storage.RunMetadata{
		Run:                 p.run,
		Timestamp:           p.started,
		Seed:                p.cfg.Run.Seed,
		Classes:             classNames(p.classes),
		Objects:             p.machine.Scene().Len(),
		ResimulateAfterFail: p.cfg.Attribute.ResimulateAfterFail,
		Trials:              p.machine.Trials(),
		Metrics:             p.collector.Summary(),
	}
	return multierr.Combine(
		p.store.SaveMetadata(meta),
		p.store.SaveEvents(p.run, p.collector.Rows()),
	)
}
