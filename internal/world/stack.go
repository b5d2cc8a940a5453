// Package world is the simulated bin the objects are thrown into.
package world

import (
	"math"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/num/quat"

	"github.com/san-kum/stackeval/internal/dynamo"
	"github.com/san-kum/stackeval/internal/geom"
	"github.com/san-kum/stackeval/internal/integrators"
	"github.com/san-kum/stackeval/internal/physics"
)

const (
	SensorModel = "depth_sensor"
	BinModel    = "bin"
)

var (
	ErrUnknownModel = errors.New("world: unknown model")
	ErrDuplicate    = errors.New("world: model already exists")
)

type Config struct {
	Integrator string
	Dt         float64
	// Tolerance is the error bound of adaptive integrators.
	Tolerance float64
	// BoxSize is the outer size of the bin, centred on the origin.
	BoxSize       r3.Vector
	WallThickness float64
	SensorPose    geom.Pose
	Body          physics.Body
}

// DefaultSensorPose looks straight down at the bin from one metre.
func DefaultSensorPose() geom.Pose {
	return geom.NewPoseFromEuler(0, 0, 1, 0, math.Pi/2, 0)
}

func DefaultConfig() Config {
	return Config{
		Integrator:    "rk4",
		Dt:            0.001,
		Tolerance:     1e-6,
		BoxSize:       r3.Vector{X: 0.3, Y: 0.3, Z: 0.08},
		WallThickness: 0.02,
		SensorPose:    DefaultSensorPose(),
		Body:          *physics.NewBody(),
	}
}

type body struct {
	name   string
	class  string
	x      dynamo.State
	q      quat.Number
	frozen bool
	integ  dynamo.Integrator
}

func (b *body) pose() geom.Pose {
	return geom.NewPose(b.x.Vec(physics.PosIdx), b.q)
}

// Stack simulates free falling objects inside a bin plus static models:
// the bin, the depth sensor and any result markers.
type Stack struct {
	mu      sync.RWMutex
	cfg     Config
	dyn     *physics.Body
	bodies  []*body
	index   map[string]*body
	statics map[string]geom.Pose
	time    float64
	logger  *zap.SugaredLogger
}

func NewStack(cfg Config, logger *zap.SugaredLogger) (*Stack, error) {
	if cfg.Dt <= 0 {
		return nil, errors.Errorf("world: dt must be positive, got %g", cfg.Dt)
	}
	if _, err := integrators.New(cfg.Integrator); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	dyn := cfg.Body
	s := &Stack{
		cfg:     cfg,
		dyn:     &dyn,
		index:   make(map[string]*body),
		statics: make(map[string]geom.Pose),
		logger:  logger,
	}
	s.statics[SensorModel] = cfg.SensorPose
	s.statics[BinModel] = geom.Identity()
	return s, nil
}

// AddObject adds a free body resting on the floor at the bin centre.
func (s *Stack) AddObject(name, class string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists(name) {
		return errors.Wrap(ErrDuplicate, name)
	}
	integ, err := integrators.New(s.cfg.Integrator)
	if err != nil {
		return err
	}
	b := &body{
		name:  name,
		class: class,
		x:     physics.NewState(r3.Vector{Z: s.floor() + s.dyn.HalfHeight}),
		q:     geom.IdentityQuat,
		integ: integ,
	}
	s.bodies = append(s.bodies, b)
	s.index[name] = b
	return nil
}

// AddStatic adds a model that never moves on its own.
func (s *Stack) AddStatic(name string, p geom.Pose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists(name) {
		return errors.Wrap(ErrDuplicate, name)
	}
	s.statics[name] = p
	return nil
}

func (s *Stack) exists(name string) bool {
	_, isBody := s.index[name]
	_, isStatic := s.statics[name]
	return isBody || isStatic
}

func (s *Stack) Dt() float64 { return s.cfg.Dt }

func (s *Stack) floor() float64 { return s.cfg.WallThickness }

// Bounds is the box the origins of the bodies are kept in.
func (s *Stack) Bounds() (lo, hi r3.Vector) {
	hx := math.Max(s.cfg.BoxSize.X/2-s.cfg.WallThickness-s.dyn.HalfHeight, 0)
	hy := math.Max(s.cfg.BoxSize.Y/2-s.cfg.WallThickness-s.dyn.HalfHeight, 0)
	return r3.Vector{X: -hx, Y: -hy, Z: s.floor()}, r3.Vector{X: hx, Y: hy, Z: s.cfg.BoxSize.Z}
}

// InBin reports whether p lies over the bin floor, below its rim plus margin.
func (s *Stack) InBin(p r3.Vector, margin float64) bool {
	hx, hy := s.cfg.BoxSize.X/2, s.cfg.BoxSize.Y/2
	return math.Abs(p.X) <= hx && math.Abs(p.Y) <= hy && p.Z >= 0 && p.Z <= s.cfg.BoxSize.Z+margin
}

// Step advances every free body by dt. Bodies are integrated in parallel;
// contacts are then resolved in insertion order.
func (s *Stack) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := s.cfg.Dt
	errs := make([]error, len(s.bodies))
	dynamo.ParallelFor(len(s.bodies), 8, func(start, end int) {
		for i := start; i < end; i++ {
			b := s.bodies[i]
			if b.frozen {
				continue
			}
			next, err := integrators.Advance(b.integ, s.dyn, b.x, nil, s.time, dt, s.cfg.Tolerance)
			if err == nil && !next.IsValid() {
				err = dynamo.ErrInvalidState
			}
			if err != nil {
				errs[i] = &dynamo.SimulationError{Body: b.name, Time: s.time, State: b.x.Clone(), Wrapped: err}
				continue
			}
			b.x = next
		}
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	lo, hi := s.Bounds()
	for _, b := range s.bodies {
		if b.frozen {
			continue
		}
		s.dyn.Contact(b.x, s.support(b), dt)
		s.dyn.Confine(b.x, lo, hi)
		b.q = physics.Spin(b.q, b.x)
	}
	s.time += dt
	return nil
}

// support is the height b rests on: the bin floor or the top of a body
// underneath it.
func (s *Stack) support(b *body) float64 {
	floor := s.floor()
	p := b.x.Vec(physics.PosIdx)
	reach := 2 * s.dyn.HalfHeight
	for _, o := range s.bodies {
		if o == b {
			continue
		}
		op := o.x.Vec(physics.PosIdx)
		if op.Z >= p.Z || math.Hypot(op.X-p.X, op.Y-p.Y) >= reach {
			continue
		}
		if top := op.Z + s.dyn.HalfHeight; top > floor {
			floor = top
		}
	}
	return floor
}

func (s *Stack) SimTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.time
}

func (s *Stack) Pose(name string) (geom.Pose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.index[name]; ok {
		return b.pose(), nil
	}
	if p, ok := s.statics[name]; ok {
		return p, nil
	}
	return geom.Pose{}, errors.Wrap(ErrUnknownModel, name)
}

// SetPose moves a model. A moved body loses its velocity.
func (s *Stack) SetPose(name string, p geom.Pose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.index[name]; ok {
		b.x = physics.NewState(p.Point)
		b.q = geom.Normalize(p.Orientation)
		return nil
	}
	if _, ok := s.statics[name]; ok {
		s.statics[name] = p
		return nil
	}
	return errors.Wrap(ErrUnknownModel, name)
}

func (s *Stack) Velocity(name string) (linear, angular r3.Vector, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.index[name]; ok {
		return b.x.Vec(physics.VelIdx), b.x.Vec(physics.AngIdx), nil
	}
	if _, ok := s.statics[name]; ok {
		return r3.Vector{}, r3.Vector{}, nil
	}
	return r3.Vector{}, r3.Vector{}, errors.Wrap(ErrUnknownModel, name)
}

func (s *Stack) Freeze(names ...string) error {
	return s.setFrozen(true, names)
}

func (s *Stack) Unfreeze(names ...string) error {
	return s.setFrozen(false, names)
}

func (s *Stack) setFrozen(frozen bool, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		b, ok := s.index[name]
		if !ok {
			if _, static := s.statics[name]; static {
				continue
			}
			return errors.Wrap(ErrUnknownModel, name)
		}
		b.frozen = frozen
		if frozen {
			b.x.SetVec(physics.VelIdx, r3.Vector{})
			b.x.SetVec(physics.AngIdx, r3.Vector{})
		}
	}
	return nil
}

func (s *Stack) Frozen(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.index[name]
	return ok && b.frozen
}

func (s *Stack) SensorPose() (geom.Pose, error) {
	return s.Pose(SensorModel)
}

// Models lists the bodies in insertion order followed by the static models
// sorted by name.
func (s *Stack) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bodies)+len(s.statics))
	for _, b := range s.bodies {
		out = append(out, b.name)
	}
	statics := make([]string, 0, len(s.statics))
	for name := range s.statics {
		statics = append(statics, name)
	}
	sort.Strings(statics)
	return append(out, statics...)
}

// Snapshot captures the sensor pose and every body lying in the bin.
func (s *Stack) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Time: s.time, Sensor: s.statics[SensorModel]}
	for _, b := range s.bodies {
		p := b.pose()
		if !s.InBin(p.Point, s.dyn.HalfHeight) {
			continue
		}
		snap.Objects = append(snap.Objects, ObjectPose{Name: b.name, Class: b.class, Pose: p})
	}
	return snap
}
