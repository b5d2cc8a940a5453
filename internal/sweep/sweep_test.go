package sweep

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/san-kum/stackeval/internal/config"
	"github.com/san-kum/stackeval/internal/logging"
)

func TestPointsExpandGrid(t *testing.T) {
	g := NewWithT(t)
	s := &Sweep{Parameters: []Parameter{
		{Name: "estimator.rotation_sigma_deg", Values: []float64{1, 5}},
		{Name: "estimator.miss_probability", Values: []float64{0, 0.1, 0.2}},
	}}
	points := s.Points()
	g.Expect(points).To(HaveLen(6))
	g.Expect(points[0]).To(Equal(Point{"estimator.rotation_sigma_deg": 1, "estimator.miss_probability": 0}))
	g.Expect(points[5]).To(Equal(Point{"estimator.rotation_sigma_deg": 5, "estimator.miss_probability": 0.2}))
	g.Expect(points[1].Label()).To(Equal("estimator.miss_probability=0.1,estimator.rotation_sigma_deg=1"))

	g.Expect((&Sweep{}).Points()).To(Equal([]Point{{}}))
	g.Expect(Point{}.Label()).To(Equal("base"))
}

func TestApplyUnknownParameter(t *testing.T) {
	g := NewWithT(t)
	cfg := config.DefaultConfig()
	g.Expect(Apply(cfg, "run.dt", 0.002)).To(Succeed())
	g.Expect(cfg.Run.Dt).To(Equal(0.002))

	err := Apply(cfg, "run.nope", 1)
	g.Expect(errors.Is(err, ErrUnknownParameter)).To(BeTrue())
}

func TestRunVisitsEveryPointAndSeed(t *testing.T) {
	g := NewWithT(t)
	base := config.DefaultConfig()
	base.Log.Path = t.TempDir()

	s := &Sweep{
		Name:       "noise",
		Seeds:      []uint64{1, 2},
		Trials:     3,
		Parameters: []Parameter{{Name: "estimator.rotation_sigma_deg", Values: []float64{0, 10}}},
	}

	var seen []*config.Config
	run := func(ctx context.Context, cfg *config.Config) (map[string]float64, string, error) {
		seen = append(seen, cfg)
		rate := 1.0
		if cfg.Estimator.RotationSigmaDeg > 0 {
			rate = 0.5 + 0.1*float64(cfg.Run.Seed)
		}
		return map[string]float64{"success_rate": rate}, cfg.Log.Path, nil
	}

	results, err := Run(context.Background(), s, base, run, logging.NewTestLogger(t))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(results).To(HaveLen(4))

	g.Expect(seen[0].Run.Seed).To(Equal(uint64(1)))
	g.Expect(seen[1].Run.Seed).To(Equal(uint64(2)))
	g.Expect(seen[2].Estimator.RotationSigmaDeg).To(Equal(10.0))
	for _, cfg := range seen {
		g.Expect(cfg.Run.Trials).To(Equal(3))
	}
	g.Expect(seen[0].Log.Path).To(Equal(filepath.Join(base.Log.Path, "noise", "estimator.rotation_sigma_deg=0")))
	// The base configuration is left alone.
	g.Expect(base.Estimator.RotationSigmaDeg).To(Equal(3.0))

	points, means := Aggregate(results, "success_rate")
	g.Expect(points).To(HaveLen(2))
	g.Expect(means[0]).To(BeNumerically("~", 1, 1e-12))
	g.Expect(means[1]).To(BeNumerically("~", 0.65, 1e-12))

	best, ok := Best(results, "success_rate")
	g.Expect(ok).To(BeTrue())
	g.Expect(best.Point.Label()).To(Equal("estimator.rotation_sigma_deg=0"))

	_, ok = Best(results, "missing")
	g.Expect(ok).To(BeFalse())
}

func TestRunStopsOnFailure(t *testing.T) {
	g := NewWithT(t)
	base := config.DefaultConfig()
	base.Run.Trials = 1

	boom := errors.New("boom")
	calls := 0
	run := func(ctx context.Context, cfg *config.Config) (map[string]float64, string, error) {
		calls++
		if calls == 2 {
			return nil, "", boom
		}
		return map[string]float64{}, "", nil
	}
	s := &Sweep{Seeds: []uint64{1, 2, 3}}
	results, err := Run(context.Background(), s, base, run, logging.NewTestLogger(t))
	g.Expect(errors.Is(err, boom)).To(BeTrue())
	g.Expect(results).To(HaveLen(1))
}

func TestRunNeedsTrialLimit(t *testing.T) {
	g := NewWithT(t)
	run := func(ctx context.Context, cfg *config.Config) (map[string]float64, string, error) {
		t.Fatal("run should not be called")
		return nil, "", nil
	}
	_, err := Run(context.Background(), &Sweep{}, config.DefaultConfig(), run, logging.NewTestLogger(t))
	g.Expect(err).To(HaveOccurred())
}

func TestLoad(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "sweep.yaml")
	doc := `
name: thresholds
seeds: [4, 5]
trials: 2
parameters:
  - name: stacking.linear_vel_threshold
    values: [0.01, 0.03]
`
	g.Expect(os.WriteFile(path, []byte(doc), 0644)).To(Succeed())

	s, err := Load(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s.Name).To(Equal("thresholds"))
	g.Expect(s.Seeds).To(Equal([]uint64{4, 5}))
	g.Expect(s.Validate()).To(Succeed())
	g.Expect(s.Points()).To(HaveLen(2))

	s.Parameters[0].Values = nil
	g.Expect(s.Validate()).To(HaveOccurred())
}
