package config

import (
	"fmt"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/stackeval/internal/criteria"
	"github.com/san-kum/stackeval/internal/integrators"
)

const (
	DefaultCheckSteadyInterval        = 0.1
	DefaultConsecutiveSteadyThreshold = 5
	DefaultLinearVelThreshold         = 0.03
	DefaultStackingSize               = 3
	DefaultDistanceBetweenObjects     = 0.07
	DefaultThrowingHeight             = 0.15
	DefaultBoxWallThickness           = 0.02
	DefaultLogPath                    = "evaluation_log"
	DefaultDt                         = 0.001
	DefaultIntegrator                 = "rk4"
	DefaultConnectWarnInterval        = time.Second
)

type Config struct {
	Attribute AttributeConfig `yaml:"attribute"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Stacking  StackingConfig  `yaml:"stacking"`
	Log       LogConfig       `yaml:"log"`
	Run       RunConfig       `yaml:"run"`
	Estimator EstimatorConfig `yaml:"estimator"`
}

type AttributeConfig struct {
	ResimulateAfterFail bool `yaml:"resimulate_after_fail"`
}

type SnapshotConfig struct {
	Mode   int       `yaml:"mode"`
	Total  int       `yaml:"total"`
	Origin []float64 `yaml:"origin"`
	Scale  []float64 `yaml:"scale"`
}

type StackingConfig struct {
	BoxSize                    []float64      `yaml:"box_size"`
	BoxWallThickness           float64        `yaml:"box_wall_thickness"`
	CheckSteadyInterval        float64        `yaml:"check_steady_interval"`
	ConsecutiveSteadyThreshold int            `yaml:"consecutive_steady_threshold"`
	LinearVelThreshold         float64        `yaml:"linear_vel_threshold"`
	Width                      int            `yaml:"width"`
	Height                     int            `yaml:"height"`
	Layers                     int            `yaml:"layers"`
	DistanceBetweenObjects     float64        `yaml:"distance_between_objects"`
	ThrowingHeight             float64        `yaml:"throwing_height"`
	Targets                    []TargetConfig `yaml:"targets"`
}

type TargetConfig struct {
	Name                      string                    `yaml:"name"`
	SDFFilePath               string                    `yaml:"sdf_file_path"`
	Proportion                int                       `yaml:"proportion"`
	TranslationThreshold      float64                   `yaml:"translation_threshold"`
	QuaternionDegreeThreshold float64                   `yaml:"quaternion_degree_threshold"`
	RotationalSymmetry        *RotationalSymmetryConfig `yaml:"rotational_symmetry,omitempty"`
	CircularSymmetry          *CircularSymmetryConfig   `yaml:"circular_symmetry,omitempty"`
	CylinderLike              *CylinderLikeConfig       `yaml:"cylinder_like,omitempty"`
}

type RotationalSymmetryConfig struct {
	Enable bool                   `yaml:"enable"`
	Axes   []RotationalAxisConfig `yaml:"axes"`
}

type RotationalAxisConfig struct {
	Axis                   []float64 `yaml:"axis"`
	Order                  int       `yaml:"order"`
	ToleranceDegree        float64   `yaml:"tolerance_degree"`
	AxisDeviationThreshold float64   `yaml:"axis_deviation_threshold"`
}

type CircularSymmetryConfig struct {
	Enable                 bool      `yaml:"enable"`
	Axis                   []float64 `yaml:"axis"`
	AxisDeviationThreshold float64   `yaml:"axis_deviation_threshold"`
}

type CylinderLikeConfig struct {
	Enable                 bool      `yaml:"enable"`
	CylinderAxis           []float64 `yaml:"cylinder_axis"`
	AxisDeviationThreshold float64   `yaml:"axis_deviation_threshold"`
}

type LogConfig struct {
	Path           string `yaml:"path"`
	ErrorLogging   bool   `yaml:"error_logging"`
	SuccessLogging bool   `yaml:"success_logging"`
}

type RunConfig struct {
	Seed uint64 `yaml:"seed"`
	// Trials stops the run after this many rethrows. Zero runs until interrupted.
	Trials              int           `yaml:"trials"`
	Dt                  float64       `yaml:"dt"`
	Integrator          string        `yaml:"integrator"`
	ConnectWarnInterval time.Duration `yaml:"connect_warn_interval"`
}

type EstimatorConfig struct {
	TranslationSigma float64       `yaml:"translation_sigma"`
	RotationSigmaDeg float64       `yaml:"rotation_sigma_deg"`
	MissProbability  float64       `yaml:"miss_probability"`
	FlipProbability  float64       `yaml:"flip_probability"`
	MaxPerRound      int           `yaml:"max_per_round"`
	Latency          time.Duration `yaml:"latency"`
}

func DefaultConfig() *Config {
	return &Config{
		Snapshot: SnapshotConfig{
			Origin: []float64{-0.10664, 0.075, 0},
			Scale:  []float64{6001.5, 6400, 1},
		},
		Stacking: StackingConfig{
			BoxSize:                    []float64{0.3, 0.3, 0.08},
			BoxWallThickness:           DefaultBoxWallThickness,
			CheckSteadyInterval:        DefaultCheckSteadyInterval,
			ConsecutiveSteadyThreshold: DefaultConsecutiveSteadyThreshold,
			LinearVelThreshold:         DefaultLinearVelThreshold,
			Width:                      DefaultStackingSize,
			Height:                     DefaultStackingSize,
			Layers:                     1,
			DistanceBetweenObjects:     DefaultDistanceBetweenObjects,
			ThrowingHeight:             DefaultThrowingHeight,
			Targets:                    []TargetConfig{*GetPreset("cube")},
		},
		Log: LogConfig{
			Path:         DefaultLogPath,
			ErrorLogging: true,
		},
		Run: RunConfig{
			Seed:                1,
			Dt:                  DefaultDt,
			Integrator:          DefaultIntegrator,
			ConnectWarnInterval: DefaultConnectWarnInterval,
		},
		Estimator: EstimatorConfig{
			TranslationSigma: 0.0008,
			RotationSigmaDeg: 3,
			MissProbability:  0.1,
			FlipProbability:  0.2,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every structural problem of the configuration at once.
func (c *Config) Validate() error {
	var err error
	s := c.Stacking
	if s.Width < 1 || s.Height < 1 || s.Layers < 1 {
		err = multierr.Append(err, fmt.Errorf("stacking: grid %dx%dx%d must be at least 1x1x1", s.Width, s.Height, s.Layers))
	}
	if s.CheckSteadyInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("stacking: check_steady_interval must be positive"))
	}
	if s.ConsecutiveSteadyThreshold < 1 {
		err = multierr.Append(err, fmt.Errorf("stacking: consecutive_steady_threshold must be at least 1"))
	}
	if s.LinearVelThreshold <= 0 {
		err = multierr.Append(err, fmt.Errorf("stacking: linear_vel_threshold must be positive"))
	}
	if s.DistanceBetweenObjects <= 0 {
		err = multierr.Append(err, fmt.Errorf("stacking: distance_between_objects must be positive"))
	}
	if len(s.BoxSize) != 3 {
		err = multierr.Append(err, fmt.Errorf("stacking: box_size needs 3 values, got %d", len(s.BoxSize)))
	}
	positive := 0
	for i, t := range s.Targets {
		if t.Name == "" {
			err = multierr.Append(err, fmt.Errorf("stacking: target %d has no name", i))
		}
		if t.Proportion > 0 {
			positive++
		}
	}
	if positive == 0 {
		err = multierr.Append(err, fmt.Errorf("stacking: no target with a positive proportion"))
	}
	if c.Snapshot.Mode == 1 {
		if c.Snapshot.Total < 1 {
			err = multierr.Append(err, fmt.Errorf("snapshot: total must be at least 1 in snapshot mode"))
		}
		if len(c.Snapshot.Origin) != 3 || len(c.Snapshot.Scale) != 3 {
			err = multierr.Append(err, fmt.Errorf("snapshot: origin and scale need 3 values"))
		}
	}
	if c.Run.Dt <= 0 {
		err = multierr.Append(err, fmt.Errorf("run: dt must be positive"))
	}
	if _, ierr := integrators.New(c.Run.Integrator); ierr != nil {
		err = multierr.Append(err, fmt.Errorf("run: integrator %q is not one of %v", c.Run.Integrator, integrators.Names()))
	}
	if c.Run.Trials < 0 {
		err = multierr.Append(err, fmt.Errorf("run: trials must not be negative"))
	}
	e := c.Estimator
	for name, p := range map[string]float64{"miss_probability": e.MissProbability, "flip_probability": e.FlipProbability} {
		if p < 0 || p > 1 {
			err = multierr.Append(err, fmt.Errorf("estimator: %s %g outside [0, 1]", name, p))
		}
	}
	if e.TranslationSigma < 0 || e.RotationSigmaDeg < 0 {
		err = multierr.Append(err, fmt.Errorf("estimator: sigmas must not be negative"))
	}
	return err
}

// Classes builds the target classes. Targets sharing a name become templates
// of one class whose criteria come from the first of them; targets without a
// positive proportion are skipped. Invalid symmetry blocks are disabled and
// reported as warnings.
func (c *Config) Classes() ([]criteria.TargetClass, []string) {
	var (
		classes  []criteria.TargetClass
		warnings []string
		index    = map[string]int{}
	)
	for _, t := range c.Stacking.Targets {
		if t.Proportion <= 0 {
			continue
		}
		tmpl := criteria.Template{SDFPath: t.SDFFilePath, Proportion: t.Proportion}
		if i, ok := index[t.Name]; ok {
			classes[i].Templates = append(classes[i].Templates, tmpl)
			continue
		}
		crit, w := t.criteria()
		for _, msg := range w {
			warnings = append(warnings, t.Name+": "+msg)
		}
		index[t.Name] = len(classes)
		classes = append(classes, criteria.TargetClass{
			Name:      t.Name,
			Templates: []criteria.Template{tmpl},
			Criteria:  crit,
		})
	}
	return classes, warnings
}

func (t TargetConfig) criteria() (criteria.SymmetryCriteria, []string) {
	crit := criteria.SymmetryCriteria{
		TranslationThreshold: t.TranslationThreshold,
		RotationThresholdDeg: t.QuaternionDegreeThreshold,
	}
	if r := t.RotationalSymmetry; r != nil && r.Enable {
		for _, a := range r.Axes {
			crit.Rotational = append(crit.Rotational, criteria.RotationalAxis{
				Axis:             Vector(a.Axis),
				Order:            a.Order,
				ToleranceDeg:     a.ToleranceDegree,
				AxisDeviationDeg: a.AxisDeviationThreshold,
			})
		}
	}
	if cs := t.CircularSymmetry; cs != nil && cs.Enable {
		crit.Circular = &criteria.AxisTolerance{Axis: Vector(cs.Axis), AxisDeviationDeg: cs.AxisDeviationThreshold}
	}
	if cl := t.CylinderLike; cl != nil && cl.Enable {
		crit.CylinderLike = &criteria.AxisTolerance{Axis: Vector(cl.CylinderAxis), AxisDeviationDeg: cl.AxisDeviationThreshold}
	}
	warnings := crit.Normalize()
	return crit, warnings
}

// Vector reads a 3-element list. Any other length yields the zero vector.
func Vector(v []float64) r3.Vector {
	if len(v) != 3 {
		return r3.Vector{}
	}
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

// ObjectCount is the number of objects thrown per trial.
func (c *Config) ObjectCount() int {
	return c.Stacking.Width * c.Stacking.Height * c.Stacking.Layers
}

// StackingCenter is the drop point of the grid centre above the bin.
func (c *Config) StackingCenter() r3.Vector {
	z := c.Stacking.BoxWallThickness + c.Stacking.ThrowingHeight
	if len(c.Stacking.BoxSize) == 3 {
		z += c.Stacking.BoxSize[2]
	}
	return r3.Vector{Z: z}
}
