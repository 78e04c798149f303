package audit

import (
	"sync"
	"time"

	"github.com/kvthweatt/USB-Monitor/internal/ringbuf"
)

// DefaultCapacity bounds the global audit log.
const DefaultCapacity = 10000

// Log keeps the most recent audit events in memory. Once full, the oldest
// event is dropped. Log is safe for concurrent use and never calls out
// while holding its lock.
type Log struct {
	mu      sync.Mutex
	events  *ringbuf.Ring[Event]
	evicted uint64
}

// NewLog creates a log bounded at capacity events.
func NewLog(capacity int) *Log {
	return &Log{events: ringbuf.New[Event](capacity)}
}

// Append adds ev, evicting the oldest event when full.
func (l *Log) Append(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.events.Push(ev) {
		l.evicted++
	}
}

// Range returns events whose timestamp lies within [start, end], in append order.
func (l *Log) Range(start, end time.Time) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	l.events.Each(func(ev Event) bool {
		if !ev.Timestamp.Before(start) && !ev.Timestamp.After(end) {
			out = append(out, ev)
		}
		return true
	})
	return out
}

// All returns a copy of every stored event.
func (l *Log) All() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events.Snapshot()
}

// Len returns the number of stored events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events.Len()
}

// Evicted returns how many events were dropped to honor the bound.
func (l *Log) Evicted() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evicted
}

// Clear drops every stored event.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events.Clear()
}
