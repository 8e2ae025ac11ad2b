package agent

// Ring is a fixed-capacity append-only buffer: once full, each append
// overwrites the oldest entry. It bounds the error and metric histories so
// memory stays flat in long-running processes.
type Ring[T any] struct {
	buf  []T
	next int
	full bool
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Append adds an item, evicting the oldest when full.
func (r *Ring[T]) Append(item T) {
	r.buf[r.next] = item
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Len returns the number of items currently held.
func (r *Ring[T]) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Items returns the held items, oldest first.
func (r *Ring[T]) Items() []T {
	if !r.full {
		out := make([]T, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]T, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
