package platform

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/san-kum/stackeval/internal/config"
	"github.com/san-kum/stackeval/internal/logging"
	"github.com/san-kum/stackeval/internal/report"
	"github.com/san-kum/stackeval/internal/trial"
)

func exactConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Log.Path = filepath.Join(t.TempDir(), "evaluation_log")
	cfg.Run.Trials = 1
	cfg.Run.Seed = 42
	cfg.Run.ConnectWarnInterval = 50 * time.Millisecond
	cfg.Estimator = config.EstimatorConfig{}
	cfg.Stacking.Targets = []config.TargetConfig{{
		Name:        "cube",
		SDFFilePath: "models/cube/model.sdf",
		Proportion:  1,
	}}
	return cfg
}

func run(t *testing.T, cfg *config.Config) (*Platform, []trial.Event) {
	t.Helper()
	g := NewWithT(t)
	var events []trial.Event
	p, err := New(cfg, Options{
		Logger:   logging.NewTestLogger(t),
		Observer: trial.ObserverFunc(func(e trial.Event) { events = append(events, e) }),
	})
	g.Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	g.Expect(p.Run(ctx)).To(Succeed())
	g.Expect(ctx.Err()).NotTo(HaveOccurred(), "run should finish before the timeout")
	return p, events
}

func count(events []trial.Event, kind trial.EventKind, accepted bool) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind && e.Accepted == accepted {
			n++
		}
	}
	return n
}

func TestExactEstimatesAreAccepted(t *testing.T) {
	g := NewWithT(t)
	cfg := exactConfig(t)
	p, events := run(t, cfg)

	g.Expect(count(events, trial.EventEvaluated, true)).To(Equal(9))
	g.Expect(count(events, trial.EventEvaluated, false)).To(BeZero())
	g.Expect(count(events, trial.EventRethrow, false)).To(Equal(1))

	summary := p.Collector().Summary()
	g.Expect(summary["success_rate"]).To(Equal(1.0))
	g.Expect(summary["longest_success_run"]).To(Equal(9.0))

	status := p.Status()
	g.Expect(status.Trials).To(Equal(1))
	g.Expect(status.Objects).To(Equal(9))
	g.Expect(status.State).To(Equal(trial.AwaitingSteady))

	dir := p.RunDir()
	g.Expect(filepath.Join(dir, "metadata.json")).To(BeAnExistingFile())
	g.Expect(filepath.Join(dir, "events.csv")).To(BeAnExistingFile())
	g.Expect(filepath.Join(dir, report.ErrorLog)).NotTo(BeAnExistingFile())

	summaryFiles, err := report.Load(dir)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(summaryFiles.Errors).To(BeEmpty())
	g.Expect(summaryFiles.TimeToSteady).NotTo(BeEmpty())
}

func TestRejectionResimulates(t *testing.T) {
	g := NewWithT(t)
	cfg := exactConfig(t)
	cfg.Attribute.ResimulateAfterFail = true
	// Five centimetres of noise is far beyond the translation threshold.
	cfg.Estimator.TranslationSigma = 0.05
	p, events := run(t, cfg)

	g.Expect(count(events, trial.EventEvaluated, true)).To(BeZero())
	g.Expect(count(events, trial.EventEvaluated, false)).To(Equal(1))
	g.Expect(count(events, trial.EventRethrow, false)).To(Equal(1))

	entries, err := report.Load(p.RunDir())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(entries.Errors).To(HaveLen(1))
	g.Expect(entries.Errors[0].Reason).To(Equal("translation"))
	g.Expect(entries.SuccessRuns).To(Equal([]float64{0}))
}

func TestSnapshotMode(t *testing.T) {
	g := NewWithT(t)
	cfg := exactConfig(t)
	cfg.Run.Trials = 0
	cfg.Snapshot.Mode = 1
	cfg.Snapshot.Total = 2
	p, events := run(t, cfg)

	g.Expect(count(events, trial.EventEvaluated, false)).To(BeZero())
	g.Expect(p.Status().Snapshots).To(Equal(2))
	// Only the first snapshot triggers a rethrow.
	g.Expect(count(events, trial.EventRethrow, false)).To(Equal(1))
}

func TestInvalidConfig(t *testing.T) {
	g := NewWithT(t)
	cfg := exactConfig(t)
	cfg.Stacking.Targets = nil
	_, err := New(cfg, Options{})
	g.Expect(err).To(HaveOccurred())

	_, statErr := os.Stat(cfg.Log.Path)
	g.Expect(os.IsNotExist(statErr)).To(BeTrue())
}
