// Package bus implements an in-process publish/subscribe primitive,
// carrying stream-cancellation signals between processes. It stands in
// for a real broker: the Stream Registry's distributed implementation
// is written against this same Subscribe/Publish/Unsubscribe contract,
// so swapping in Redis pub/sub or NATS later only touches this file.
package bus

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 64

// Topic prefixes used by the Stream Registry. A signal for threadId t
// is published under signalTopicPrefix+t so a subscriber can filter by
// exact thread without the bus itself understanding thread ids.
const signalTopicPrefix = "stream.signal."

// SignalTopic returns the topic a cancellation signal for threadID is
// published/subscribed under.
func SignalTopic(threadID string) string {
	return signalTopicPrefix + threadID
}

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload any
}

// Subscription is an active subscription to a topic or topic prefix.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix
// matching. The zero value is not usable; construct with New.
type Bus struct {
	mu            sync.RWMutex
	subs          map[int]*Subscription
	nextID        int
	logger        *slog.Logger
	droppedEvents atomic.Int64
}

// New creates a new Bus. A nil logger disables drop-warning logging.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]*Subscription),
		logger: logger,
	}
}

// Subscribe creates a subscription for events matching the given topic
// prefix. An empty prefix matches all topics. The returned channel is
// buffered; slow consumers miss events rather than block publishers.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to
// call with a subscription already removed.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to all matching subscribers. Delivery is
// non-blocking and best-effort: publishing to a topic with no
// subscribers (e.g. a signal for a stream already completed on this
// instance) is a no-op, never an error.
func (b *Bus) Publish(topic string, payload any) {
	event := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- event:
			default:
				b.droppedEvents.Add(1)
				if b.logger != nil {
					b.logger.Warn("bus_dropped_event", slog.String("topic", topic))
				}
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DroppedEventCount returns the total number of events dropped due to
// full subscriber buffers.
func (b *Bus) DroppedEventCount() int64 {
	return b.droppedEvents.Load()
}
