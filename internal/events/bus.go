package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Bus fans events out to subscribers over buffered channels. Delivery is
// at-least-once from the consumer's perspective and unordered across
// subscribers; a full subscriber buffer drops the event rather than block
// the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	bufferSize  int
}

// NewBus creates a bus whose subscriber channels hold bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe registers a new consumer and returns its receive channel.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking. Slow
// consumers lose events; the commit path never waits on the bus.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			log.Warn().
				Str("component", "event_bus").
				Str("event", event.EventName()).
				Msg("subscriber buffer full, dropping event")
		}
	}
}

// Close closes all subscriber channels. Publish must not be called after
// Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
