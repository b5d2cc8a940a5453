package trial

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/san-kum/stackeval/internal/criteria"
	"github.com/san-kum/stackeval/internal/geom"
	"github.com/san-kum/stackeval/internal/scene"
)

const objectCount = 9

func nineCubes() (*scene.Scene, []string) {
	objs := make([]scene.Object, objectCount)
	names := make([]string, objectCount)
	for i := range objs {
		names[i] = fmt.Sprintf("cube_%d", i)
		objs[i] = scene.Object{Name: names[i]}
	}
	return scene.New(objs), names
}

var _ = Describe("Machine", func() {
	var (
		ctx   context.Context
		world *fakeWorld
		out   *fakeOutbox
		rec   *fakeRecorder
		mock  *clock.Mock
		cfg   Config
		m     *Machine
	)

	build := func() {
		sc, names := nineCubes()
		world = newFakeWorld(append(names, "result_visualize_cube", "depth_sensor")...)
		var err error
		m, err = New(cfg, sc, Deps{
			World:    world,
			Outbox:   out,
			Recorder: rec,
			Clock:    mock,
			Rand:     rand.New(rand.NewPCG(11, 12)),
			Logger:   zap.NewNop().Sugar(),
		})
		Expect(err).NotTo(HaveOccurred())
	}

	settle := func() {
		for i := 0; i < 100 && m.State() == AwaitingSteady; i++ {
			world.simTime += 0.11
			mock.Add(100 * time.Millisecond)
			Expect(m.Tick(ctx)).To(Succeed())
		}
		Expect(m.State()).To(Equal(AwaitingEstimates))
	}

	BeforeEach(func() {
		ctx = context.Background()
		out = &fakeOutbox{}
		rec = &fakeRecorder{}
		mock = clock.NewMock()
		cfg = Config{
			Settle: SettleConfig{Interval: 0.1, Consecutive: 5, LinearThreshold: 0.03},
			Grid:   scene.Grid{Width: 3, Height: 3, Layers: 1, Spacing: 0.07, Center: r3.Vector{Z: 0.25}},
			Classes: []criteria.TargetClass{{
				Name:      "cube",
				Templates: []criteria.Template{{SDFPath: "cube.sdf", Proportion: 1}},
				Criteria:  criteria.Default(),
			}},
		}
	})

	Context("when the pile settles", func() {
		BeforeEach(build)

		It("throws every object onto the grid", func() {
			for i := 0; i < objectCount; i++ {
				p := world.poses[fmt.Sprintf("cube_%d", i)]
				Expect(p.Point.Distance(cfg.Grid.Position(i))).To(BeNumerically("<", 1e-12))
			}
		})

		It("freezes the pile and requests one snapshot", func() {
			settle()
			Expect(out.snapshots).To(Equal(1))
			Expect(world.frozen).To(HaveLen(objectCount))
			Expect(rec.timeToSteady).To(HaveLen(1))
			Expect(rec.timeToSteady[0]).To(Equal(400 * time.Millisecond))
		})

		It("waits for the full run of quiet samples", func() {
			world.linear["cube_3"] = r3.Vector{X: 0.5}
			for i := 0; i < 10; i++ {
				world.simTime += 0.11
				Expect(m.Tick(ctx)).To(Succeed())
			}
			Expect(m.State()).To(Equal(AwaitingSteady))
			Expect(out.snapshots).To(BeZero())
		})

		It("captures the sensor frame with the optical correction", func() {
			settle()
			want := world.sensor.Compose(geom.OpticalCorrection())
			Expect(m.SensorFrame().Point.Distance(want.Point)).To(BeNumerically("<", 1e-12))
			Expect(geom.ToAxisAngle(geom.Between(want, m.SensorFrame()).Orientation).Theta).To(BeNumerically("<", 1e-9))
		})

		It("drops estimates before the pile is steady", func() {
			outcome, err := m.HandleEstimate(ctx, estimateFor(m, "cube", world.poses["cube_0"]))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(OutcomeIgnored))
			Expect(out.results).To(BeEmpty())
		})
	})

	Context("with an exact estimate", func() {
		BeforeEach(func() {
			build()
			settle()
		})

		It("accepts it and parks the matched object", func() {
			truth := world.poses["cube_4"]
			outcome, err := m.HandleEstimate(ctx, estimateFor(m, "cube", truth))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(OutcomeAccepted))
			Expect(out.results).To(Equal([]ResultID{ResultSuccess}))
			Expect(m.Scene().Object(4).Estimated).To(BeTrue())
			Expect(world.poses["cube_4"].Point).To(Equal(scene.ParkPosition(4, 0.07)))
			Expect(rec.evaluations).To(HaveLen(1))
			Expect(rec.evaluations[0].accepted).To(BeTrue())
			Expect(rec.evaluations[0].rec.Closest).To(Equal("cube_4"))
		})

		It("moves the class marker onto the estimate", func() {
			truth := world.poses["cube_2"]
			_, err := m.HandleEstimate(ctx, estimateFor(m, "cube", truth))
			Expect(err).NotTo(HaveOccurred())
			Expect(world.poses["result_visualize_cube"].Point.Distance(truth.Point)).To(BeNumerically("<", 1e-9))
		})

		It("continues with the remaining objects when the round ends", func() {
			_, err := m.HandleEstimate(ctx, estimateFor(m, "cube", world.poses["cube_4"]))
			Expect(err).NotTo(HaveOccurred())

			result, err := m.HandleEnded(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(RoundContinue))
			Expect(m.State()).To(Equal(AwaitingSteady))
			Expect(world.frozen).To(HaveLen(1))
			Expect(world.frozen).To(HaveKey("cube_4"))
			Expect(world.poses["result_visualize_cube"].Point).To(Equal(scene.MarkerPark(0, 0.07)))

			settle()
			Expect(rec.timeToSteady).To(HaveLen(1))
		})

		It("rethrows once every object is estimated", func() {
			for i := 0; i < objectCount; i++ {
				name := fmt.Sprintf("cube_%d", i)
				outcome, err := m.HandleEstimate(ctx, estimateFor(m, "cube", world.poses[name]))
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome).To(Equal(OutcomeAccepted))
			}
			outcome, err := m.HandleEstimate(ctx, estimateFor(m, "cube", geom.Identity()))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(OutcomeNoCandidate))

			result, err := m.HandleEnded(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(RoundRethrow))
			Expect(m.Trials()).To(Equal(1))
			Expect(m.Scene().UnestimatedCount()).To(Equal(objectCount))
			Expect(world.frozen).To(BeEmpty())

			settle()
			Expect(rec.timeToSteady).To(HaveLen(2))
		})

		It("rejects a malformed estimate without failing the round", func() {
			_, err := m.HandleEstimate(ctx, Estimate{Label: "cube", Matrix: make([]float64, 12)})
			Expect(err).To(MatchError(ErrMalformedEstimate))
			Expect(m.State()).To(Equal(AwaitingEstimates))
		})

		It("fails on a label that names no class", func() {
			_, err := m.HandleEstimate(ctx, estimateFor(m, "sphere", world.poses["cube_0"]))
			Expect(err).To(MatchError(ErrUnknownClass))
		})
	})

	Context("with a rotated estimate and resimulate after fail", func() {
		BeforeEach(func() {
			cfg.ResimulateAfterFail = true
			build()
			settle()
		})

		It("rejects it, asks for resimulation and drops later estimates", func() {
			truth := world.poses["cube_1"]
			turned := truth.Compose(geom.NewPose(r3.Vector{}, geom.FromAxisAngle(r3.Vector{X: 1}, geom.DegToRad(30))))
			outcome, err := m.HandleEstimate(ctx, estimateFor(m, "cube", turned))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(OutcomeRejected))
			Expect(out.results).To(Equal([]ResultID{ResultFail}))
			Expect(out.resimulates).To(Equal(1))
			Expect(m.State()).To(Equal(Suppressed))
			Expect(rec.evaluations[0].rec.Reason).To(Equal(string(criteria.ReasonRotation)))
			Expect(rec.evaluations[0].rec.ErrorAngleDeg).To(BeNumerically("~", 30, 1e-6))
			Expect(rec.successRuns).To(Equal([]int{0}))

			outcome, err = m.HandleEstimate(ctx, estimateFor(m, "cube", world.poses["cube_2"]))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(OutcomeIgnored))

			result, err := m.HandleEnded(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(RoundRethrow))
			Expect(m.State()).To(Equal(AwaitingSteady))
			Expect(m.Scene().UnestimatedCount()).To(Equal(objectCount))
		})
	})

	Context("when the estimator makes no progress", func() {
		BeforeEach(func() {
			build()
		})

		It("declares the pile inestimable on the third unchanged round", func() {
			for round := 1; round <= 2; round++ {
				settle()
				result, err := m.HandleEnded(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(result).To(Equal(RoundContinue))
			}
			settle()
			result, err := m.HandleEnded(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(RoundInestimable))
			Expect(out.results).To(Equal([]ResultID{ResultInestimable}))
			Expect(rec.inestimable).To(HaveLen(1))
			Expect(rec.inestimable[0].Objects).To(HaveLen(objectCount))
			Expect(rec.inestimable[0].Closest).To(Equal("result_visualize_cube"))
			Expect(m.Trials()).To(Equal(1))
		})

		It("flushes the success run on the next scored estimate", func() {
			for round := 0; round < 3; round++ {
				settle()
				_, err := m.HandleEnded(ctx)
				Expect(err).NotTo(HaveOccurred())
			}
			settle()
			_, err := m.HandleEstimate(ctx, estimateFor(m, "cube", world.poses["cube_0"]))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.successRuns).To(Equal([]int{0}))
		})
	})

	Context("in only-snapshot mode", func() {
		BeforeEach(func() {
			cfg.Snapshot = SnapshotConfig{
				Enabled: true,
				Total:   2,
				Origin:  r3.Vector{X: -0.10664, Y: 0.075},
				Scale:   r3.Vector{X: 6001.5, Y: 6400},
			}
			build()
			settle()
		})

		It("publishes object image positions on steady", func() {
			Expect(out.onlySnapshot).To(HaveLen(1))
			Expect(out.onlySnapshot[0]).To(HavePrefix("2 "))
		})

		It("rethrows until the total is reached", func() {
			done, err := m.HandleRethrowEvent(ctx, "1")
			Expect(err).NotTo(HaveOccurred())
			Expect(done).To(BeFalse())
			Expect(m.State()).To(Equal(AwaitingSteady))

			settle()
			done, err = m.HandleRethrowEvent(ctx, "2")
			Expect(err).NotTo(HaveOccurred())
			Expect(done).To(BeTrue())
			Expect(m.SnapshotsDone()).To(BeTrue())
		})

		It("ignores estimates", func() {
			outcome, err := m.HandleEstimate(ctx, estimateFor(m, "cube", world.poses["cube_0"]))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(OutcomeIgnored))
		})
	})
})
