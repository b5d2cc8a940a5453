// Package transport is the in-process topic bus between the evaluation
// platform, the camera and the pose estimator.
package transport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	TopicTakePicture        = "~/evaluation_platform/take_picture_request"
	TopicResimulate         = "~/evaluation_platform/resimulate_request"
	TopicEvaluationResult   = "~/evaluation_platform/evaluation_result"
	TopicOnlySnapshot       = "~/evaluation_platform/only_snapshot"
	TopicEstimateResult     = "~/pose_estimation/estimate_result"
	TopicEstimationEnded    = "~/pose_estimation/estimation_ended"
	TopicRethrowEvent       = "~/depth_sensor/rethrow_event"
	TopicSnapshot           = "~/depth_sensor/snapshot"
	RequestTakeOnePicture   = "take_one_picture"
	RequestResimulate       = "resimulate"
	RequestOnlySnapshotMode = "onlysnapshot_mode"
)

// ErrNotConnected is returned when publishing to a topic nobody subscribed to.
var ErrNotConnected = errors.New("transport: topic has no subscribers")

// Request is the generic control message.
type Request struct {
	ID      int32
	Request string
	Data    string
}

// PoseEstimationResult is one estimate. Matrix is a row-major 4x4 transform in
// the sensor optical frame, translation in millimetres.
type PoseEstimationResult struct {
	Label     string
	Matrix    []float64
	Timestamp time.Time
}

// Message is a delivery on a topic.
type Message struct {
	Topic   string
	Payload interface{}
}

// Status describes one topic of the bus.
type Status struct {
	Topic       string
	Subscribers int
	Published   int
}

type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*Inbox
	pubs   map[string]*Publisher
	counts map[string]int
	clock  clock.Clock
	logger *zap.SugaredLogger
}

func NewBus(clk clock.Clock, logger *zap.SugaredLogger) *Bus {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bus{
		subs:   make(map[string][]*Inbox),
		pubs:   make(map[string]*Publisher),
		counts: make(map[string]int),
		clock:  clk,
		logger: logger,
	}
}

// Publisher returns the publisher of topic, creating it on first use.
func (b *Bus) Publisher(topic string) *Publisher {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publisherLocked(topic)
}

func (b *Bus) publisherLocked(topic string) *Publisher {
	if p, ok := b.pubs[topic]; ok {
		return p
	}
	p := &Publisher{bus: b, topic: topic, ready: make(chan struct{})}
	if len(b.subs[topic]) > 0 {
		close(p.ready)
		p.closed = true
	}
	b.pubs[topic] = p
	return p
}

// Subscribe routes every message on the given topics to in.
func (b *Bus) Subscribe(in *Inbox, topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		b.subs[topic] = append(b.subs[topic], in)
		p := b.publisherLocked(topic)
		if !p.closed {
			close(p.ready)
			p.closed = true
		}
	}
}

func (b *Bus) deliver(topic string, payload interface{}) error {
	b.mu.Lock()
	subs := append([]*Inbox(nil), b.subs[topic]...)
	if len(subs) > 0 {
		b.counts[topic]++
	}
	b.mu.Unlock()

	if len(subs) == 0 {
		return errors.Wrap(ErrNotConnected, topic)
	}
	for _, in := range subs {
		in.Push(Message{Topic: topic, Payload: payload})
	}
	return nil
}

// Status lists every known topic sorted by name.
func (b *Bus) Status() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool)
	var out []Status
	add := func(topic string) {
		if seen[topic] {
			return
		}
		seen[topic] = true
		out = append(out, Status{Topic: topic, Subscribers: len(b.subs[topic]), Published: b.counts[topic]})
	}
	for topic := range b.pubs {
		add(topic)
	}
	for topic := range b.subs {
		add(topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

type Publisher struct {
	bus    *Bus
	topic  string
	ready  chan struct{}
	closed bool
}

func (p *Publisher) Topic() string { return p.topic }

func (p *Publisher) HasConnections() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

// WaitConnected blocks until the topic has a subscriber, logging every
// warnEvery while it waits.
func (p *Publisher) WaitConnected(ctx context.Context, warnEvery time.Duration) error {
	if p.HasConnections() {
		return nil
	}
	if warnEvery <= 0 {
		warnEvery = time.Second
	}
	ticker := p.bus.clock.Ticker(warnEvery)
	defer ticker.Stop()
	for {
		select {
		case <-p.ready:
			return nil
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for a subscriber on %s", p.topic)
		case <-ticker.C:
			p.bus.logger.Warnw("no connection", "topic", p.topic)
		}
	}
}

func (p *Publisher) Publish(payload interface{}) error {
	return p.bus.deliver(p.topic, payload)
}

// Inbox is an unbounded FIFO of deliveries. Ready is signalled whenever
// messages are pending.
type Inbox struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
}

func NewInbox() *Inbox {
	return &Inbox{notify: make(chan struct{}, 1)}
}

func (in *Inbox) Push(m Message) {
	in.mu.Lock()
	in.queue = append(in.queue, m)
	in.mu.Unlock()
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every pending message in arrival order.
func (in *Inbox) Drain() []Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.queue
	in.queue = nil
	return out
}

func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

func (in *Inbox) Ready() <-chan struct{} {
	return in.notify
}
