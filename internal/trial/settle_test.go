package trial

import (
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("SettlingDetector", func() {
	var (
		mock *clock.Mock
		d    *SettlingDetector
		now  float64
	)

	quiet := []Sample{{Name: "a", Linear: 0.01}, {Name: "b", Linear: 0.0}}
	moving := []Sample{{Name: "a", Linear: 0.01}, {Name: "b", Linear: 0.2}}

	check := func(samples []Sample) bool {
		now += 0.11
		mock.Add(time.Second)
		Expect(d.Due(now)).To(BeTrue())
		return d.Observe(samples)
	}

	BeforeEach(func() {
		mock = clock.NewMock()
		now = 0
		d = NewSettlingDetector(SettleConfig{Interval: 0.1, Consecutive: 3, LinearThreshold: 0.03}, mock, zap.NewNop().Sugar())
	})

	It("samples only once per interval", func() {
		Expect(d.Due(0.05)).To(BeFalse())
		Expect(d.Due(0.11)).To(BeTrue())
		Expect(d.Due(0.15)).To(BeFalse())
		Expect(d.Due(0.25)).To(BeTrue())
	})

	It("reports steady exactly once per run of quiet samples", func() {
		Expect(check(quiet)).To(BeFalse())
		Expect(check(quiet)).To(BeFalse())
		Expect(check(quiet)).To(BeTrue())
		Expect(check(quiet)).To(BeFalse())
	})

	It("restarts the count when anything moves", func() {
		Expect(check(quiet)).To(BeFalse())
		Expect(check(quiet)).To(BeFalse())
		Expect(check(moving)).To(BeFalse())
		Expect(check(quiet)).To(BeFalse())
		Expect(check(quiet)).To(BeFalse())
		Expect(check(quiet)).To(BeTrue())
	})

	It("ignores angular speed", func() {
		spinning := []Sample{{Name: "a", Linear: 0.0, Angular: 50}}
		check(spinning)
		check(spinning)
		Expect(check(spinning)).To(BeTrue())
	})

	It("reports time to steady at most once per rethrow", func() {
		for i := 0; i < 3; i++ {
			check(quiet)
		}
		ts, ok := d.TakeTimeToSteady()
		Expect(ok).To(BeTrue())
		Expect(ts).To(Equal(2 * time.Second))
		_, ok = d.TakeTimeToSteady()
		Expect(ok).To(BeFalse())

		d.Rearm(false)
		for i := 0; i < 3; i++ {
			check(quiet)
		}
		_, ok = d.TakeTimeToSteady()
		Expect(ok).To(BeFalse())

		d.Rearm(true)
		for i := 0; i < 3; i++ {
			check(quiet)
		}
		ts, ok = d.TakeTimeToSteady()
		Expect(ok).To(BeTrue())
		Expect(ts).To(Equal(2 * time.Second))
	})
})

var _ = Describe("StagnationTracker", func() {
	It("fires on the third unchanged round", func() {
		s := NewStagnationTracker(9)
		Expect(s.RoundEnded(9)).To(BeFalse())
		Expect(s.RoundEnded(9)).To(BeFalse())
		Expect(s.RoundEnded(9)).To(BeTrue())
		Expect(s.Streak()).To(Equal(3))
	})

	It("resets the streak on progress", func() {
		s := NewStagnationTracker(9)
		Expect(s.RoundEnded(9)).To(BeFalse())
		Expect(s.RoundEnded(9)).To(BeFalse())
		Expect(s.RoundEnded(7)).To(BeFalse())
		Expect(s.Streak()).To(BeZero())
		Expect(s.RoundEnded(7)).To(BeFalse())
		Expect(s.RoundEnded(7)).To(BeFalse())
		Expect(s.RoundEnded(7)).To(BeTrue())
	})

	It("never counts a fully estimated round", func() {
		s := NewStagnationTracker(3)
		for i := 0; i < 5; i++ {
			Expect(s.RoundEnded(0)).To(BeFalse())
		}
		Expect(s.Streak()).To(BeZero())
	})

	It("resets the baseline to the full count when it fires", func() {
		s := NewStagnationTracker(9)
		s.RoundEnded(4)
		s.RoundEnded(4)
		s.RoundEnded(4)
		Expect(s.RoundEnded(4)).To(BeTrue())
		s.OnRethrow()
		Expect(s.RoundEnded(4)).To(BeFalse())
		Expect(s.Streak()).To(BeZero())
	})

	It("clears the streak on rethrow only once it reaches five", func() {
		s := NewStagnationTracker(9)
		for i := 0; i < 3; i++ {
			s.RoundEnded(9)
		}
		s.OnRethrow()
		Expect(s.Streak()).To(Equal(3))

		Expect(s.RoundEnded(9)).To(BeTrue())
		Expect(s.RoundEnded(9)).To(BeTrue())
		s.OnRethrow()
		Expect(s.Streak()).To(BeZero())
	})
})
