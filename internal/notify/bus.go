package notify

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultBuffer is the subscription buffer used when none is requested.
const DefaultBuffer = 64

// Bus is an in-process fan-out of notifications to buffered channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Notification
	next    uint64
	dropped atomic.Uint64
	logger  zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]chan Notification),
		logger: logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel func removes the
// subscription and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	ch := make(chan Notification, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

// Publish delivers n to every subscriber with room in its buffer. Full
// subscribers miss the notification.
func (b *Bus) Publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.dropped.Add(1)
			b.logger.Warn().
				Uint64("subscriber", id).
				Str("kind", string(n.Kind)).
				Msg("notification dropped, subscriber full")
		}
	}
}

// Dropped returns the number of undelivered notifications.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
