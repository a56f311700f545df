// Package sink implements the channel-scoped event broadcaster.
//
// A channel is an opaque string (trading_updates, orderbook:<pair>, ...).
// Subscribers register once, then subscribe to any number of channels; each
// subscriber owns one bounded queue that the transport layer drains. The
// producer never blocks: a full queue drops the subscriber with a
// slow-consumer reason, and every message on a channel carries a strictly
// increasing sequence assigned here.
package sink

import (
	"fmt"
	"log/slog"
	"sync"

	"invoicex/internal/metrics"
	"invoicex/pkg/types"
)

// DefaultQueueSize bounds a subscriber's queue when the config leaves it
// unset.
const DefaultQueueSize = 256

// ReasonSlowConsumer marks a subscriber dropped for not draining its queue.
const ReasonSlowConsumer = "slow_consumer"

// Subscriber is one consumer of the event stream. Events() yields messages
// in channel order until the sink closes the queue, either on Close or on a
// slow-consumer drop; DropReason distinguishes the two afterwards.
type Subscriber struct {
	id     string
	events chan types.Event

	// dropReason is written before the events channel closes and may be
	// read only after observing that close.
	dropReason string
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// Events returns the subscriber's queue.
func (s *Subscriber) Events() <-chan types.Event { return s.events }

// DropReason reports why the sink closed the queue, empty for a plain Close.
// Valid only after Events() is observed closed.
func (s *Subscriber) DropReason() string { return s.dropReason }

// Sink fans events out to subscribers keyed by channel name.
type Sink struct {
	logger    *slog.Logger
	queueSize int
	collector *metrics.Collector

	mu       sync.Mutex
	subs     map[string]*Subscriber
	channels map[string]map[string]*Subscriber
	seq      map[string]uint64
	closed   bool
}

// New creates a sink. queueSize <= 0 selects DefaultQueueSize. collector may
// be nil.
func New(queueSize int, logger *slog.Logger, collector *metrics.Collector) *Sink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Sink{
		logger:    logger.With("component", "sink"),
		queueSize: queueSize,
		collector: collector,
		subs:      make(map[string]*Subscriber),
		channels:  make(map[string]map[string]*Subscriber),
		seq:       make(map[string]uint64),
	}
}

// Register creates a subscriber with an empty subscription set.
func (k *Sink) Register(id string) (*Subscriber, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil, fmt.Errorf("sink is shut down")
	}
	if _, ok := k.subs[id]; ok {
		return nil, fmt.Errorf("subscriber %q already registered", id)
	}
	sub := &Subscriber{
		id:     id,
		events: make(chan types.Event, k.queueSize),
	}
	k.subs[id] = sub
	if k.collector != nil {
		k.collector.Subscribers.Inc()
	}
	k.logger.Debug("subscriber registered", "id", id, "count", len(k.subs))
	return sub, nil
}

// Subscribe adds a subscription. Subscribing twice to the same channel is a
// no-op.
func (k *Sink) Subscribe(subID, channel string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	sub, ok := k.subs[subID]
	if !ok {
		return fmt.Errorf("subscriber %q not registered", subID)
	}
	set, ok := k.channels[channel]
	if !ok {
		set = make(map[string]*Subscriber)
		k.channels[channel] = set
	}
	set[subID] = sub
	return nil
}

// Unsubscribe removes a subscription. Unknown pairs are a no-op.
func (k *Sink) Unsubscribe(subID, channel string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.subs[subID]; !ok {
		return fmt.Errorf("subscriber %q not registered", subID)
	}
	k.removeFromChannelLocked(subID, channel)
	return nil
}

func (k *Sink) removeFromChannelLocked(subID, channel string) {
	set, ok := k.channels[channel]
	if !ok {
		return
	}
	delete(set, subID)
	if len(set) == 0 {
		delete(k.channels, channel)
	}
}

// Broadcast stamps the event with the channel's next sequence and enqueues
// it to every current subscriber. A subscriber whose queue is full is
// dropped with a slow-consumer reason; delivery to the others proceeds.
func (k *Sink) Broadcast(channel string, ev types.Event) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.seq[channel]++
	ev.Channel = channel
	ev.Sequence = k.seq[channel]

	set := k.channels[channel]
	if len(set) == 0 {
		return
	}

	var victims []*Subscriber
	for _, sub := range set {
		select {
		case sub.events <- ev:
		default:
			victims = append(victims, sub)
		}
	}
	for _, sub := range victims {
		k.dropLocked(sub, ReasonSlowConsumer)
	}
}

// Send delivers a directed message outside any channel sequence. It returns
// false when the subscriber is unknown or its queue is full; a full queue
// drops the subscriber just as a failed broadcast does.
func (k *Sink) Send(subID string, ev types.Event) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	sub, ok := k.subs[subID]
	if !ok {
		return false
	}
	select {
	case sub.events <- ev:
		return true
	default:
		k.dropLocked(sub, ReasonSlowConsumer)
		return false
	}
}

// Close drops all of a subscriber's subscriptions and closes its queue.
func (k *Sink) Close(subID string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	sub, ok := k.subs[subID]
	if !ok {
		return
	}
	k.dropLocked(sub, "")
}

// dropLocked removes the subscriber everywhere and closes its queue. Must be
// called with the sink lock held.
func (k *Sink) dropLocked(sub *Subscriber, reason string) {
	if _, ok := k.subs[sub.id]; !ok {
		return
	}
	delete(k.subs, sub.id)
	for channel, set := range k.channels {
		if _, ok := set[sub.id]; ok {
			delete(set, sub.id)
			if len(set) == 0 {
				delete(k.channels, channel)
			}
		}
	}
	sub.dropReason = reason
	close(sub.events)

	if k.collector != nil {
		k.collector.Subscribers.Dec()
		if reason == ReasonSlowConsumer {
			k.collector.SubscribersDropped.Inc()
		}
	}
	if reason == ReasonSlowConsumer {
		k.logger.Warn("subscriber queue full, dropping", "id", sub.id)
	} else {
		k.logger.Debug("subscriber closed", "id", sub.id, "count", len(k.subs))
	}
}

// SubscriberCount returns the number of registered subscribers.
func (k *Sink) SubscriberCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.subs)
}

// Shutdown closes every remaining subscriber. Register fails afterwards.
func (k *Sink) Shutdown() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.closed = true
	for _, sub := range k.subs {
		k.dropLocked(sub, "")
	}
}
