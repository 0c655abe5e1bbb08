// Package bus carries detected events from producers (pane monitors, the
// hook ingestor) to consumers (the delivery loop, the live event feed).
//
// Subscribers get independent buffered channels. Publishing never blocks a
// producer: a subscriber that falls behind loses events rather than stalling
// a poll loop. The delivery consumer sizes its buffer large enough that this
// only happens under pathological backlog.
package bus

import (
	"sync"

	"github.com/towerops/tower/internal/classify"
)

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// Bus is a fan-out channel for classify.Events.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan classify.Event
	nextID int
	closed bool
	buffer int
}

// New creates a Bus with the default per-subscriber buffer.
func New() *Bus {
	return NewWithBuffer(DefaultBuffer)
}

// NewWithBuffer creates a Bus with an explicit per-subscriber buffer depth.
func NewWithBuffer(n int) *Bus {
	if n < 1 {
		n = 1
	}
	return &Bus{
		subs:   make(map[int]chan classify.Event),
		buffer: n,
	}
}

// Subscribe registers a new consumer. The returned function unsubscribes
// and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan classify.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan classify.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, unsub
}

// Publish delivers the event to every subscriber. Events from the same
// producer arrive at each subscriber in publish order; a full subscriber
// buffer drops the event for that subscriber only.
func (b *Bus) Publish(ev classify.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close shuts the bus down and closes all subscriber channels. Events
// already buffered remain readable, so consumers can drain on shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
