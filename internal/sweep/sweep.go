// Package sweep runs an evaluation repeatedly over seeds and a grid of
// configuration values.
package sweep

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/stackeval/internal/config"
	"github.com/san-kum/stackeval/internal/platform"
)

var ErrUnknownParameter = errors.New("sweep: unknown parameter")

// Sweep is a scripted set of evaluation runs.
type Sweep struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Seeds       []uint64    `yaml:"seeds"`
	Trials      int         `yaml:"trials"`
	Parameters  []Parameter `yaml:"parameters"`
}

// Parameter is one configuration key and the values it takes.
type Parameter struct {
	Name   string    `yaml:"name"`
	Values []float64 `yaml:"values"`
}

// Point is one combination of parameter values.
type Point map[string]float64

// Label names a point for directory and table use, keys sorted.
func (p Point) Label() string {
	if len(p) == 0 {
		return "base"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.FormatFloat(p[k], 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

type Result struct {
	Seed    uint64
	Point   Point
	RunDir  string
	Metrics map[string]float64
}

// RunFunc performs a single evaluation and returns its metric summary and
// run directory.
type RunFunc func(ctx context.Context, cfg *config.Config) (map[string]float64, string, error)

var setters = map[string]func(*config.Config, float64){
	"estimator.translation_sigma":           func(c *config.Config, v float64) { c.Estimator.TranslationSigma = v },
	"estimator.rotation_sigma_deg":          func(c *config.Config, v float64) { c.Estimator.RotationSigmaDeg = v },
	"estimator.miss_probability":            func(c *config.Config, v float64) { c.Estimator.MissProbability = v },
	"estimator.flip_probability":            func(c *config.Config, v float64) { c.Estimator.FlipProbability = v },
	"estimator.max_per_round":               func(c *config.Config, v float64) { c.Estimator.MaxPerRound = int(v) },
	"stacking.linear_vel_threshold":         func(c *config.Config, v float64) { c.Stacking.LinearVelThreshold = v },
	"stacking.check_steady_interval":        func(c *config.Config, v float64) { c.Stacking.CheckSteadyInterval = v },
	"stacking.consecutive_steady_threshold": func(c *config.Config, v float64) { c.Stacking.ConsecutiveSteadyThreshold = int(v) },
	"stacking.throwing_height":              func(c *config.Config, v float64) { c.Stacking.ThrowingHeight = v },
	"stacking.distance_between_objects":     func(c *config.Config, v float64) { c.Stacking.DistanceBetweenObjects = v },
	"run.dt":                                func(c *config.Config, v float64) { c.Run.Dt = v },
}

// ParameterNames lists the keys a sweep may vary.
func ParameterNames() []string {
	names := make([]string, 0, len(setters))
	for name := range setters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply sets one named configuration value.
func Apply(cfg *config.Config, name string, value float64) error {
	set, ok := setters[name]
	if !ok {
		return errors.Wrapf(ErrUnknownParameter, "%q (known: %v)", name, ParameterNames())
	}
	set(cfg, value)
	return nil
}

func Load(path string) (*Sweep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Sweep
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "parsing sweep %s", path)
	}
	return &s, nil
}

func (s *Sweep) Validate() error {
	for _, p := range s.Parameters {
		if _, ok := setters[p.Name]; !ok {
			return errors.Wrapf(ErrUnknownParameter, "%q", p.Name)
		}
		if len(p.Values) == 0 {
			return errors.Errorf("sweep: parameter %s has no values", p.Name)
		}
	}
	return nil
}

// Points expands the parameter grid into every combination, first parameter
// varying slowest.
func (s *Sweep) Points() []Point {
	var out []Point
	var walk func(depth int, current Point)
	walk = func(depth int, current Point) {
		if depth == len(s.Parameters) {
			out = append(out, current)
			return
		}
		p := s.Parameters[depth]
		for _, v := range p.Values {
			next := make(Point, len(current)+1)
			for k, cv := range current {
				next[k] = cv
			}
			next[p.Name] = v
			walk(depth+1, next)
		}
	}
	walk(0, Point{})
	return out
}

// Run evaluates every point for every seed, one after the other. Each point
// logs under its own directory below the base log path. A failing run stops
// the sweep; the results gathered so far are returned with the error.
func Run(ctx context.Context, s *Sweep, base *config.Config, run RunFunc, logger *zap.SugaredLogger) ([]Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	seeds := s.Seeds
	if len(seeds) == 0 {
		seeds = []uint64{base.Run.Seed}
	}
	points := s.Points()
	total := len(points) * len(seeds)

	name := s.Name
	if name == "" {
		name = "sweep"
	}

	results := make([]Result, 0, total)
	for _, pt := range points {
		for _, seed := range seeds {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			cfg := *base
			cfg.Run.Seed = seed
			if s.Trials > 0 {
				cfg.Run.Trials = s.Trials
			}
			if cfg.Run.Trials == 0 && cfg.Snapshot.Mode != 1 {
				return results, errors.New("sweep: runs need a trial limit")
			}
			for k, v := range pt {
				if err := Apply(&cfg, k, v); err != nil {
					return results, err
				}
			}
			cfg.Log.Path = filepath.Join(base.Log.Path, name, pt.Label())

			logger.Infow("sweep run", "n", len(results)+1, "total", total, "seed", seed, "point", pt.Label())
			summary, dir, err := run(ctx, &cfg)
			if err != nil {
				return results, errors.Wrapf(err, "seed %d at %s", seed, pt.Label())
			}
			results = append(results, Result{Seed: seed, Point: pt, RunDir: dir, Metrics: summary})
		}
	}
	return results, nil
}

// Best returns the result with the highest value of metric.
func Best(results []Result, metric string) (Result, bool) {
	var (
		best  Result
		found bool
	)
	for _, r := range results {
		v, ok := r.Metrics[metric]
		if !ok {
			continue
		}
		if !found || v > best.Metrics[metric] {
			best, found = r, true
		}
	}
	return best, found
}

// Aggregate averages metric over the seeds of each point, in point order.
func Aggregate(results []Result, metric string) ([]Point, []float64) {
	var (
		points []Point
		values [][]float64
		index  = map[string]int{}
	)
	for _, r := range results {
		label := r.Point.Label()
		i, ok := index[label]
		if !ok {
			i = len(points)
			index[label] = i
			points = append(points, r.Point)
			values = append(values, nil)
		}
		values[i] = append(values[i], r.Metrics[metric])
	}
	means := make([]float64, len(values))
	for i, v := range values {
		means[i] = stat.Mean(v, nil)
	}
	return points, means
}

// PlatformRunner runs each evaluation on a fresh platform.
func PlatformRunner(logger *zap.SugaredLogger) RunFunc {
	return func(ctx context.Context, cfg *config.Config) (map[string]float64, string, error) {
		p, err := platform.New(cfg, platform.Options{Logger: logger})
		if err != nil {
			return nil, "", err
		}
		if err := p.Run(ctx); err != nil {
			return nil, p.RunDir(), err
		}
		return p.Collector().Summary(), p.RunDir(), nil
	}
}
