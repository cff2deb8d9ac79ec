package fanout

import (
	"context"
	"sync"

	"bidhouse/internal/domain/entity"
)

// Subscription is one subscriber's attachment to a topic. Events arrive on
// Events(); a closed channel means the hub dropped the subscriber (slow
// consumer or teardown) and it must reconnect with replay.
type Subscription struct {
	topic string
	ch    chan entity.Event
	hub   *Hub
	once  sync.Once
}

func (s *Subscription) Topic() string {
	return s.topic
}

func (s *Subscription) Events() <-chan entity.Event {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

const defaultSubscriberBuffer = 64

// Hub is the publish/subscribe fan-out channel. Topics are per-auction,
// per-user and global; a single admitted bid is published to all it is
// relevant to. Delivery is at-least-once: the replay log keeps recent
// events per topic and consumers dedupe by sequence.
//
// The subscriber registry is read-mostly; publishers never block on a slow
// subscriber. Its channel is closed instead and the replay log covers the
// gap on reconnect.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	seqMu sync.Mutex
	seqs  map[string]*topicSeq

	log     ReplayLog
	bufSize int
}

// topicSeq serializes publishes on one topic. The lock is held across the
// sequence step, the log append and delivery, so both the replay log and
// live subscribers observe the topic strictly in Seq order.
type topicSeq struct {
	mu  sync.Mutex
	seq uint64
}

func NewHub(log ReplayLog) *Hub {
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		seqs:    make(map[string]*topicSeq),
		log:     log,
		bufSize: defaultSubscriberBuffer,
	}
}

func (h *Hub) WithSubscriberBuffer(size int) *Hub {
	if size > 0 {
		h.bufSize = size
	}
	return h
}

// Subscribe attaches to a topic for live events. Callers wanting history
// call Replay first and dedupe the overlap by Seq.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan entity.Event, h.bufSize),
		hub:   h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[topic] = set
	}
	set[sub] = struct{}{}

	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.topic)
		}
	}

	// Closed under the write lock; sends happen under the read lock, so a
	// publisher can never hit a closed channel.
	sub.once.Do(func() { close(sub.ch) })
}

// Publish fans the event out to every given topic. Each topic copy gets its
// own monotonic Seq, is appended to the replay log, and is then offered to
// live subscribers without blocking.
func (h *Hub) Publish(ctx context.Context, event entity.Event, topics ...string) {
	for _, topic := range topics {
		ts := h.topicSeq(topic)

		ts.mu.Lock()

		ts.seq++
		ev := event
		ev.Seq = ts.seq

		if err := h.log.Append(ctx, topic, ev); err != nil {
			logger(ctx).Error("replay log append failed, delivery degraded",
				"topic", topic,
				"seq", ev.Seq,
				"error", err,
			)
		}

		h.deliver(ctx, topic, ev)

		ts.mu.Unlock()
	}
}

func (h *Hub) deliver(ctx context.Context, topic string, ev entity.Event) {
	var slow []*Subscription

	h.mu.RLock()
	for sub := range h.subs[topic] {
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	// Slow consumers are dropped rather than stalling the publisher. The
	// closed channel tells them to reconnect and replay.
	for _, sub := range slow {
		logger(ctx).Warn("subscriber too slow, dropping", "topic", topic)
		h.unsubscribe(sub)
	}
}

// Replay returns all retained events of a topic with Seq greater than
// afterSeq, in order. ErrReplayExpired means retention no longer covers the
// requested position and the caller must fetch full state instead.
func (h *Hub) Replay(ctx context.Context, topic string, afterSeq uint64) ([]entity.Event, error) {
	return h.log.After(ctx, topic, afterSeq)
}

func (h *Hub) topicSeq(topic string) *topicSeq {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()

	ts, ok := h.seqs[topic]
	if !ok {
		ts = &topicSeq{}
		h.seqs[topic] = ts
	}

	return ts
}
