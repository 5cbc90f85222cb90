// Package arena implements the bump allocator every worker and the main
// thread use for per-frame scratch: one allocation counter, reset in bulk,
// never freed item by item.
package arena

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

// CacheLine is the alignment every allocation rounds up to.
const CacheLine = 64

var (
	// ErrZeroSize is returned by Allocate for a zero-byte request.
	ErrZeroSize = errors.New("arena: zero-size allocation")
	// ErrExhausted is returned by Allocate when the backing buffer has no
	// room left. Callers that hit this have sized an arena too small for
	// their declared entity count; this is a configuration bug, not a
	// transient condition.
	ErrExhausted = errors.New("arena: capacity exhausted")
)

// Arena is a fixed-capacity linear allocator. It is never shared across
// goroutines: every pool worker owns one, plus the main thread owns MainID's.
// Offset is an atomic so Stats can be read from another goroutine (the
// diagnostics snapshot) without a lock; the owner itself never needs the
// atomicity since it is the sole writer.
type Arena struct {
	buf      []byte
	offset   atomic.Uint64
	capacity uint64
}

// New allocates a fresh arena with the given byte capacity.
func New(capacity int) (*Arena, error) {
	if capacity <= 0 {
		return nil, ErrZeroSize
	}
	return &Arena{
		buf:      make([]byte, capacity),
		capacity: uint64(capacity),
	}, nil
}

func alignUp(n uint64) uint64 {
	return (n + CacheLine - 1) &^ (CacheLine - 1)
}

// Allocate returns n bytes from the arena, offset rounded up to a cache
// line. It fails on a zero-size request or insufficient remaining capacity.
func (a *Arena) Allocate(n int) ([]byte, error) {
	if n <= 0 {
		return nil, ErrZeroSize
	}
	want := alignUp(uint64(n))
	for {
		cur := a.offset.Load()
		next := cur + want
		if next > a.capacity {
			return nil, ErrExhausted
		}
		if a.offset.CompareAndSwap(cur, next) {
			return a.buf[cur : cur+uint64(n) : cur+want], nil
		}
	}
}

// GetBytes is an alias for Allocate kept for callers that think in terms of
// "get me n bytes" rather than a typed allocation.
func (a *Arena) GetBytes(n int) ([]byte, error) {
	return a.Allocate(n)
}

// Reset sets the offset back to zero. O(1); every pointer handed out before
// the reset is invalidated and must not be used again.
func (a *Arena) Reset() {
	a.offset.Store(0)
}

// Deallocate releases the backing buffer. The arena must not be used again.
func (a *Arena) Deallocate() {
	a.buf = nil
	a.offset.Store(0)
	a.capacity = 0
}

// AllocateUint32 returns n uint32 slots backed by the arena, for callers
// that need a typed index buffer (the flocking step's per-block neighbour
// scratch) rather than raw bytes. Safe because every offset this arena
// hands out is 64-byte aligned, far past uint32's 4-byte requirement.
func (a *Arena) AllocateUint32(n int) ([]uint32, error) {
	if n <= 0 {
		return nil, ErrZeroSize
	}
	b, err := a.Allocate(n * 4)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), n), nil
}

// AllocateFloat32 returns n float32 slots backed by the arena, same layout
// rules as AllocateUint32.
func (a *Arena) AllocateFloat32(n int) ([]float32, error) {
	if n <= 0 {
		return nil, ErrZeroSize
	}
	b, err := a.Allocate(n * 4)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n), nil
}

// Stats returns bytes currently in use and total capacity, read lock-free.
func (a *Arena) Stats() (used, capacity uint64) {
	return a.offset.Load(), a.capacity
}
