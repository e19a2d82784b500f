// Package bus implements the in-process broadcast of KernelEvents to N
// subscribers with bounded per-subscriber queues. A slow subscriber never
// blocks the kernel or other subscribers: once its queue is full, further
// events are dropped and counted, and the next delivery carries a Lagged
// count so the subscriber knows how many it missed.
package bus

import (
	"sync"

	"github.com/toka-systems/toka/internal/types"
)

// Envelope is what a subscriber actually receives: the event, plus how
// many prior events were skipped because this subscriber's queue was
// full (0 in the common case).
type Envelope struct {
	Event      types.KernelEvent
	LagSkipped int
}

type subscriber struct {
	ch      chan Envelope
	skipped int
}

// Bus is a publish-subscribe broadcaster for KernelEvents.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	bufferSize  int
}

// DefaultBufferSize is the per-subscriber queue capacity used when none is
// specified.
const DefaultBufferSize = 64

// New constructs a Bus whose subscriber queues each hold bufferSize
// envelopes before the subscriber starts lagging. bufferSize <= 0 selects
// DefaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Publish broadcasts event to every current subscriber. It never blocks:
// a subscriber whose queue is full has the event counted as skipped
// instead of delivered. Publish must be called from within the kernel's
// critical section so that delivery order matches emission order.
func (b *Bus) Publish(event types.KernelEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		env := Envelope{Event: event, LagSkipped: sub.skipped}
		select {
		case sub.ch <- env:
			sub.skipped = 0
		default:
			sub.skipped++
		}
	}
}

// Subscribe registers a new subscriber under id and returns the channel it
// will receive Envelopes on. Subscribing twice under the same id replaces
// the previous channel (the old one is closed).
func (b *Bus) Subscribe(id string) <-chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[id]; ok {
		close(old.ch)
	}
	sub := &subscriber{ch: make(chan Envelope, b.bufferSize)}
	b.subscribers[id] = sub
	return sub.ch
}

// Unsubscribe removes and closes the subscriber registered under id, if
// any.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount reports the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes and closes every subscriber channel. Further
// Publish calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
