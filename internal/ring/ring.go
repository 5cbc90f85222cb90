// Package ring implements the worker pool's lock-free work queue: a fixed
// power-of-two array, a producer head counter and a consumer tail counter,
// both monotonically increasing. Slot reuse is safe because the ring is
// sized at least twice the maximum number of concurrently outstanding
// items: by the time a producer wraps back onto a slot, every consumer
// that could still be touching it has long since retired.
package ring

import (
	"errors"
	"math/bits"
	"sync/atomic"

	"github.com/brynm0/boidnode/internal/arena"
)

// ErrOverflow is returned by Push when the ring has no free slot. Callers
// are expected to size capacity for their declared maximum outstanding item
// count; hitting this is a programmer error, not a transient condition.
var ErrOverflow = errors.New("ring: overflow, no free slot")

// Item is a unit of work: a function and its opaque argument, plus the
// per-worker scratch arena the consumer supplies at execution time. Fn does
// not return status; errors must be marshalled through Data. Priority is
// carried for diagnostics; the ring itself is strictly FIFO.
type Item struct {
	Fn       func(data any, scratch *arena.Arena)
	Data     any
	Priority uint8
}

// Ring is a fixed-capacity, multi-producer multi-consumer queue of Item.
type Ring struct {
	mask  uint64
	items []Item
	ready []atomic.Bool
	head  atomic.Uint64
	tail  atomic.Uint64
}

// New creates a ring sized to the next power of two ≥ capacity.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	size := 1 << bits.Len(uint(capacity-1))
	return &Ring{
		mask:  uint64(size - 1),
		items: make([]Item, size),
		ready: make([]atomic.Bool, size),
	}
}

// Cap returns the ring's slot count.
func (r *Ring) Cap() int {
	return len(r.items)
}

// Push claims the next slot and writes it. It returns ErrOverflow if the
// ring is full. The slot is marked ready only after the item is written, so
// a consumer that observes the advanced head is guaranteed to see a
// completed write once it also observes the ready bit.
func (r *Ring) Push(it Item) error {
	for {
		head := r.head.Load()
		tail := r.tail.Load()
		// tail can transiently exceed head while a consumer is mid-undo;
		// that means the ring is near empty, never full.
		if head >= tail && head-tail >= uint64(len(r.items)) {
			return ErrOverflow
		}
		if r.head.CompareAndSwap(head, head+1) {
			idx := head & r.mask
			r.items[idx] = it
			r.ready[idx].Store(true)
			return nil
		}
	}
}

// Pop speculatively reserves the next tail slot. If the reservation landed
// at or beyond the current head, the reservation is undone and Pop reports
// empty. This is the "fetch_add then undo" consumer protocol.
func (r *Ring) Pop() (Item, bool) {
	tail := r.tail.Add(1) - 1
	head := r.head.Load()
	if tail >= head {
		r.tail.Add(^uint64(0)) // undo: tail -= 1
		return Item{}, false
	}
	idx := tail & r.mask
	for !r.ready[idx].Load() {
		// producer has claimed the slot but not finished writing it
	}
	item := r.items[idx]
	r.ready[idx].Store(false)
	return item, true
}

// Len reports the number of items currently pending, a lock-free estimate
// (0 while a consumer's undo leaves tail transiently past head).
func (r *Ring) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Reset drains the ring logically, resetting head and tail to zero. The
// caller must guarantee no producer or consumer is in flight.
func (r *Ring) Reset() {
	r.head.Store(0)
	r.tail.Store(0)
	for i := range r.ready {
		r.ready[i].Store(false)
	}
}
