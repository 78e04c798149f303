// Package ringbuf provides a bounded FIFO that silently evicts its oldest
// entry once full.
package ringbuf

// Ring is a fixed-capacity FIFO. The zero value is unusable; use New.
// Ring is not safe for concurrent use; owners guard it with their own lock.
type Ring[T any] struct {
	buf   []T
	start int
	size  int
}

// New returns a ring holding at most capacity entries. A non-positive
// capacity is treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when the ring is full.
// It reports whether an entry was evicted.
func (r *Ring[T]) Push(v T) bool {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return false
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Snapshot copies the entries oldest first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.size)
	for i := range r.size {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Each calls fn for every entry oldest first until fn returns false.
func (r *Ring[T]) Each(fn func(T) bool) {
	for i := range r.size {
		if !fn(r.buf[(r.start+i)%len(r.buf)]) {
			return
		}
	}
}

// Clear drops every entry.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start, r.size = 0, 0
}
