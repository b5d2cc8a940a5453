package platform

import (
	"context"
	"time"

	"github.com/san-kum/stackeval/internal/transport"
	"github.com/san-kum/stackeval/internal/trial"
)

// busOutbox publishes the machine's requests on the bus, waiting for a
// subscriber on each topic first.
type busOutbox struct {
	picture   *transport.Publisher
	resim     *transport.Publisher
	result    *transport.Publisher
	snapshot  *transport.Publisher
	warnEvery time.Duration
}

var _ trial.Outbox = (*busOutbox)(nil)

func newBusOutbox(bus *transport.Bus, warnEvery time.Duration) *busOutbox {
	return &busOutbox{
		picture:   bus.Publisher(transport.TopicTakePicture),
		resim:     bus.Publisher(transport.TopicResimulate),
		result:    bus.Publisher(transport.TopicEvaluationResult),
		snapshot:  bus.Publisher(transport.TopicOnlySnapshot),
		warnEvery: warnEvery,
	}
}

func (o *busOutbox) publish(ctx context.Context, p *transport.Publisher, req transport.Request) error {
	if err := p.WaitConnected(ctx, o.warnEvery); err != nil {
		return err
	}
	return p.Publish(req)
}

func (o *busOutbox) RequestSnapshot(ctx context.Context) error {
	return o.publish(ctx, o.picture, transport.Request{ID: 0, Request: transport.RequestTakeOnePicture})
}

func (o *busOutbox) RequestResimulate(ctx context.Context) error {
	return o.publish(ctx, o.resim, transport.Request{ID: 0, Request: transport.RequestResimulate})
}

func (o *busOutbox) PublishResult(ctx context.Context, id trial.ResultID) error {
	return o.publish(ctx, o.result, transport.Request{ID: int32(id)})
}

func (o *busOutbox) PublishOnlySnapshot(ctx context.Context, data string) error {
	return o.publish(ctx, o.snapshot, transport.Request{ID: 1, Request: transport.RequestOnlySnapshotMode, Data: data})
}
