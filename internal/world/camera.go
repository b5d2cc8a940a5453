package world

import (
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/san-kum/stackeval/internal/geom"
	"github.com/san-kum/stackeval/internal/transport"
)

// ObjectPose is the ground truth of one object at capture time.
type ObjectPose struct {
	Name  string
	Class string
	Pose  geom.Pose
}

// Snapshot is an immutable capture of the bin as seen by the depth sensor.
type Snapshot struct {
	Seq     int
	Time    float64
	Sensor  geom.Pose
	Objects []ObjectPose
}

// Camera is the depth sensor. It answers take-picture requests with a
// Snapshot and counts the only-snapshot captures it saves.
type Camera struct {
	stack     *Stack
	snapshots *transport.Publisher
	rethrow   *transport.Publisher
	taken     int
	saved     int
	logger    *zap.SugaredLogger
}

func NewCamera(stack *Stack, bus *transport.Bus, logger *zap.SugaredLogger) *Camera {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Camera{
		stack:     stack,
		snapshots: bus.Publisher(transport.TopicSnapshot),
		rethrow:   bus.Publisher(transport.TopicRethrowEvent),
		logger:    logger,
	}
}

// Topics are the requests the camera handles.
func (c *Camera) Topics() []string {
	return []string{transport.TopicTakePicture, transport.TopicOnlySnapshot}
}

func (c *Camera) Taken() int { return c.taken }

// Handle serves one request delivered on a Topics topic.
func (c *Camera) Handle(msg transport.Message) error {
	req, ok := msg.Payload.(transport.Request)
	if !ok {
		return errors.Errorf("camera: unexpected payload %T on %s", msg.Payload, msg.Topic)
	}
	switch msg.Topic {
	case transport.TopicTakePicture:
		if req.Request != transport.RequestTakeOnePicture {
			c.logger.Warnw("unknown camera request", "request", req.Request)
			return nil
		}
		snap := c.stack.Snapshot()
		c.taken++
		snap.Seq = c.taken
		c.logger.Debugw("picture taken", "seq", snap.Seq, "objects", len(snap.Objects))
		if err := c.snapshots.Publish(snap); err != nil {
			if errors.Is(err, transport.ErrNotConnected) {
				c.logger.Debugw("nobody is waiting for the picture", "seq", snap.Seq)
				return nil
			}
			return errors.Wrap(err, "publishing snapshot")
		}
		return nil
	case transport.TopicOnlySnapshot:
		c.saved++
		c.logger.Infow("snapshot saved", "count", c.saved, "data", req.Data)
		return errors.Wrap(c.rethrow.Publish(transport.Request{Request: "rethrow", Data: strconv.Itoa(c.saved)}), "publishing rethrow event")
	default:
		return errors.Errorf("camera: unexpected topic %s", msg.Topic)
	}
}
