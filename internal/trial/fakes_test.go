package trial

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/san-kum/stackeval/internal/geom"
	"github.com/san-kum/stackeval/internal/report"
)

type fakeWorld struct {
	simTime float64
	poses   map[string]geom.Pose
	linear  map[string]r3.Vector
	frozen  map[string]bool
	sensor  geom.Pose
	models  []string
}

func newFakeWorld(names ...string) *fakeWorld {
	w := &fakeWorld{
		poses:  map[string]geom.Pose{},
		linear: map[string]r3.Vector{},
		frozen: map[string]bool{},
		sensor: geom.NewPoseFromEuler(0, 0, 1, 0, 1.2, 0),
	}
	for _, n := range names {
		w.poses[n] = geom.Identity()
		w.models = append(w.models, n)
	}
	return w
}

func (w *fakeWorld) SimTime() float64 { return w.simTime }

func (w *fakeWorld) Pose(name string) (geom.Pose, error) {
	p, ok := w.poses[name]
	if !ok {
		return geom.Pose{}, errors.Errorf("no model %s", name)
	}
	return p, nil
}

func (w *fakeWorld) SetPose(name string, p geom.Pose) error {
	if _, ok := w.poses[name]; !ok {
		return errors.Errorf("no model %s", name)
	}
	w.poses[name] = p
	return nil
}

func (w *fakeWorld) Velocity(name string) (r3.Vector, r3.Vector, error) {
	return w.linear[name], r3.Vector{}, nil
}

func (w *fakeWorld) Freeze(names ...string) error {
	for _, n := range names {
		w.frozen[n] = true
	}
	return nil
}

func (w *fakeWorld) Unfreeze(names ...string) error {
	for _, n := range names {
		delete(w.frozen, n)
	}
	return nil
}

func (w *fakeWorld) SensorPose() (geom.Pose, error) { return w.sensor, nil }

func (w *fakeWorld) Models() []string { return w.models }

type fakeOutbox struct {
	snapshots    int
	resimulates  int
	results      []ResultID
	onlySnapshot []string
}

func (o *fakeOutbox) RequestSnapshot(context.Context) error {
	o.snapshots++
	return nil
}

func (o *fakeOutbox) RequestResimulate(context.Context) error {
	o.resimulates++
	return nil
}

func (o *fakeOutbox) PublishResult(_ context.Context, id ResultID) error {
	o.results = append(o.results, id)
	return nil
}

func (o *fakeOutbox) PublishOnlySnapshot(_ context.Context, data string) error {
	o.onlySnapshot = append(o.onlySnapshot, data)
	return nil
}

type evaluation struct {
	rec      report.Record
	accepted bool
}

type fakeRecorder struct {
	evaluations  []evaluation
	inestimable  []report.Record
	timeToSteady []time.Duration
	successRuns  []int
}

func (r *fakeRecorder) Evaluation(rec report.Record, accepted bool) error {
	r.evaluations = append(r.evaluations, evaluation{rec, accepted})
	return nil
}

func (r *fakeRecorder) Inestimable(rec report.Record) error {
	r.inestimable = append(r.inestimable, rec)
	return nil
}

func (r *fakeRecorder) TimeToSteady(d time.Duration) error {
	r.timeToSteady = append(r.timeToSteady, d)
	return nil
}

func (r *fakeRecorder) SuccessRun(n int) error {
	r.successRuns = append(r.successRuns, n)
	return nil
}

// estimateFor builds the estimator message that reports worldPose, as seen
// from the machine's current sensor frame.
func estimateFor(m *Machine, label string, worldPose geom.Pose) Estimate {
	local := geom.Between(m.SensorFrame(), worldPose)
	values := local.RowMajor()
	for _, i := range []int{3, 7, 11} {
		values[i] *= 1000
	}
	return Estimate{Label: label, Matrix: values, Timestamp: time.Now()}
}
