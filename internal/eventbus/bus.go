// Package eventbus provides a small in-process publish/subscribe hub for
// "replica updated", "metrics computed", and "error" events. Subscribers
// never back-pressure publishers: bursts are dropped rather than blocking.
package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/realHakeen/binance-liquidity-monitor/internal/model"
)

// Topic identifies an event kind.
type Topic string

const (
	TopicReplicaUpdated Topic = "replica_updated"
	TopicMetricsComputed Topic = "metrics_computed"
	TopicError           Topic = "error"
)

// Event is the envelope published on the bus.
type Event struct {
	ID      string
	Topic   Topic
	Key     model.PairKey
	Payload interface{}
}

// subscriberBuffer bounds each subscriber's channel; a slow subscriber
// drops the oldest pending event rather than blocking the publisher.
const subscriberBuffer = 256

// Bus is a typed, bounded, drop-oldest publisher with any number of
// subscribers per topic.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[Topic][]chan Event)}
}

// Subscribe returns a channel that receives every Event published to topic
// from this point on. The channel is never closed by Publish; callers
// cancel via their own context and stop reading.
func (b *Bus) Subscribe(topic Topic) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers ev to every current subscriber of ev.Topic. Delivery is
// non-blocking: if a subscriber's buffer is full, the oldest queued event
// for that subscriber is dropped to make room, so a stalled subscriber
// never backpressures the stream-reading goroutine that published ev.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	b.mu.RLock()
	subs := b.subscribers[ev.Topic]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
