package behaviour

import "iter"

// Ring is a fixed-capacity buffer of the most recent values. Pushing into a
// full ring overwrites the oldest value.
type Ring[T any] struct {
	buf  []T
	head int // index of the newest value
	n    int
}

// NewRing creates a ring holding up to capacity values. capacity must be
// positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity), head: -1}
}

// Push appends v as the newest value.
func (r *Ring[T]) Push(v T) {
	r.head = (r.head + 1) % len(r.buf)
	r.buf[r.head] = v
	if r.n < len(r.buf) {
		r.n++
	}
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Back returns a pointer to the value offset periods before the newest one
// (0 is the newest), or nil if the ring holds fewer values.
func (r *Ring[T]) Back(offset int) *T {
	if offset < 0 || offset >= r.n {
		return nil
	}
	i := (r.head - offset + len(r.buf)) % len(r.buf)
	return &r.buf[i]
}

// All yields the stored values from oldest to newest.
func (r *Ring[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for offset := r.n - 1; offset >= 0; offset-- {
			if !yield(*r.Back(offset)) {
				return
			}
		}
	}
}
