// Package ring implements a fixed-capacity circular buffer.
//
// A Buffer keeps the most recent Cap() items and overwrites the oldest one
// once full. Push is O(1) and never allocates; reads are O(k) in the number
// of items returned. Memory is bounded by the capacity chosen at
// construction, regardless of how many items are pushed over its lifetime.
//
// Buffer performs no locking. It is meant to have a single writer; callers
// that share a buffer between goroutines must synchronize externally (see
// the history package for a per-series mutex).
package ring

import (
	"fmt"

	"github.com/fleetops/fleetring/internal/errors"
)

// Buffer is a generic overwrite-oldest ring buffer.
type Buffer[T any] struct {
	data  []T
	head  int // next write position
	count int // occupied slots

	// Statistics
	pushed  int64
	evicted int64
}

// New creates a Buffer with the given capacity.
// It fails if capacity is not positive.
func New[T any](capacity int) (*Buffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring buffer capacity %d: %w", capacity, errors.ErrInvalidCapacity)
	}
	return &Buffer[T]{
		data: make([]T, capacity),
	}, nil
}

// MustNew is like New but panics on an invalid capacity.
func MustNew[T any](capacity int) *Buffer[T] {
	b, err := New[T](capacity)
	if err != nil {
		panic(err)
	}
	return b
}

// Push stores item as the newest element, evicting the oldest when full.
func (b *Buffer[T]) Push(item T) {
	b.data[b.head] = item
	b.head++
	if b.head == len(b.data) {
		b.head = 0
	}

	if b.count < len(b.data) {
		b.count++
	} else {
		b.evicted++
	}
	b.pushed++
}

// tail returns the index of the oldest element.
func (b *Buffer[T]) tail() int {
	idx := b.head - b.count
	if idx < 0 {
		idx += len(b.data)
	}
	return idx
}

// copyFrom copies n elements starting at logical offset off (0 = oldest).
func (b *Buffer[T]) copyFrom(off, n int) []T {
	out := make([]T, n)
	if n == 0 {
		return out
	}

	start := b.tail() + off
	if start >= len(b.data) {
		start -= len(b.data)
	}

	// At most two contiguous runs.
	first := copy(out, b.data[start:min(start+n, len(b.data))])
	if first < n {
		copy(out[first:], b.data[:n-first])
	}
	return out
}

// All returns a snapshot of all stored items, oldest first.
// The returned slice is never shared with the buffer.
func (b *Buffer[T]) All() []T {
	return b.copyFrom(0, b.count)
}

// Last returns the n most recent items, oldest first.
// n larger than Len is clamped; n <= 0 yields an empty slice.
func (b *Buffer[T]) Last(n int) []T {
	if n <= 0 {
		return []T{}
	}
	if n > b.count {
		n = b.count
	}
	return b.copyFrom(b.count-n, n)
}

// Oldest returns the oldest item.
// Returns false if the buffer is empty.
func (b *Buffer[T]) Oldest() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}
	return b.data[b.tail()], true
}

// Newest returns the most recently pushed item.
// Returns false if the buffer is empty.
func (b *Buffer[T]) Newest() (T, bool) {
	var zero T
	if b.count == 0 {
		return zero, false
	}
	idx := b.head - 1
	if idx < 0 {
		idx += len(b.data)
	}
	return b.data[idx], true
}

// Query returns stored items for which match returns true, oldest first.
// A limit <= 0 means no limit.
func (b *Buffer[T]) Query(match func(T) bool, limit int) []T {
	var results []T

	idx := b.tail()
	for i := 0; i < b.count; i++ {
		if limit > 0 && len(results) >= limit {
			break
		}
		if match(b.data[idx]) {
			results = append(results, b.data[idx])
		}
		idx++
		if idx == len(b.data) {
			idx = 0
		}
	}

	return results
}

// Clear empties the buffer. Capacity is unchanged.
func (b *Buffer[T]) Clear() {
	// Zero slots so evicted references can be collected.
	clear(b.data)
	b.head = 0
	b.count = 0
}

// Len returns the number of stored items.
func (b *Buffer[T]) Len() int {
	return b.count
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.data)
}

// IsEmpty returns true if the buffer holds no items.
func (b *Buffer[T]) IsEmpty() bool {
	return b.count == 0
}

// IsFull returns true if Len equals Cap.
func (b *Buffer[T]) IsFull() bool {
	return b.count == len(b.data)
}

// UsageRatio returns the current usage as a ratio (0.0 - 1.0).
func (b *Buffer[T]) UsageRatio() float64 {
	return float64(b.count) / float64(len(b.data))
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() Stats {
	return Stats{
		Capacity:   len(b.data),
		Count:      b.count,
		UsageRatio: b.UsageRatio(),
		Pushed:     b.pushed,
		Evicted:    b.evicted,
	}
}

// Stats holds buffer statistics. Pushed and Evicted count over the
// buffer's lifetime and survive Clear.
type Stats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	Pushed     int64
	Evicted    int64
}
