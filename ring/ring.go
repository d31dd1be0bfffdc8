// Package ring implements a fixed-capacity single-producer /
// single-consumer ring queue. One generic core backs both the
// byte-stream use (RX/TX from a UART) and the fixed-element use
// (the master's queue of pending request-slot pointers) the protocol engine
// needs, so the index arithmetic is written and tested exactly once.
//
// Producer and consumer may run concurrently without a lock: rd/wr are
// published with atomic load/store and the capacity is a power of two
// so wraparound is a mask, not a modulo. This mirrors the two
// hand-rolled SPSC ring buffers found in embedded Go code bases
// (a TinyGo machine.RingBuffer-compatible byte ring, and a
// cacheline-padded fixed-payload ring) rather than any importable
// module — there isn't one in this space, everybody writes their own.
package ring

import (
	"errors"
	"sync/atomic"

	"golang.org/x/exp/constraints"
)

// clamp returns the smaller of v and max, generically over any
// integer type — used everywhere below a caller-supplied count must
// be capped to however much room or data the ring actually has.
func clamp[T constraints.Integer](v, max T) T {
	if v > max {
		return max
	}
	return v
}

// ErrCapacity is returned by New when capacity is not a power of two,
// or the backing slice does not match it.
var ErrCapacity = errors.New("ring: capacity must be a non-zero power of two")

// Ring is a fixed-capacity SPSC ring queue over a caller-provided
// backing slice of element type T.
type Ring[T any] struct {
	buf  []T
	mask uint32
	rd   atomic.Uint32 // consumer-owned
	wr   atomic.Uint32 // producer-owned
}

// New wraps buf as the backing store for a ring queue. len(buf) must
// be a power of two; the ring never allocates past what buf provides.
func New[T any](buf []T) (*Ring[T], error) {
	n := len(buf)
	if n == 0 || n&(n-1) != 0 {
		return nil, ErrCapacity
	}
	return &Ring[T]{buf: buf, mask: uint32(n - 1)}, nil
}

// Cap returns the ring's fixed capacity in elements.
func (r *Ring[T]) Cap() uint32 { return uint32(len(r.buf)) }

// Occupancy returns the number of elements currently queued.
func (r *Ring[T]) Occupancy() uint32 {
	return r.wr.Load() - r.rd.Load()
}

// RemainSpace returns how many elements can be Add-ed before the ring
// is full.
func (r *Ring[T]) RemainSpace() uint32 {
	return r.Cap() - r.Occupancy()
}

// IsEmpty reports whether the ring currently holds no elements.
func (r *Ring[T]) IsEmpty() bool { return r.rd.Load() == r.wr.Load() }

// IsFull reports whether the ring is at capacity.
func (r *Ring[T]) IsFull() bool { return r.Occupancy() == r.Cap() }

// Add copies up to min(len(src), RemainSpace()) elements into the
// ring and advances wr by that count. Returns the number copied.
func (r *Ring[T]) Add(src []T) int {
	n := clamp(len(src), int(r.RemainSpace()))
	if n == 0 {
		return 0
	}
	wr := r.wr.Load()
	r.copyIn(wr, src[:n])
	r.wr.Store(wr + uint32(n))
	return n
}

// AdvanceWR is for DMA-filled backing stores: the caller has already
// written k elements directly into the backing slice at the physical
// positions following WR() and just needs the producer index
// published. k is clamped to RemainSpace().
func (r *Ring[T]) AdvanceWR(k uint32) uint32 {
	k = clamp(k, r.RemainSpace())
	r.wr.Store(r.wr.Load() + k)
	return k
}

// Get copies up to min(len(dst), Occupancy()) elements out of the ring
// into dst and advances rd by that count (destructive read). Returns
// the number copied.
func (r *Ring[T]) Get(dst []T) int {
	n := r.Peek(dst)
	if n > 0 {
		r.rd.Store(r.rd.Load() + uint32(n))
	}
	return n
}

// Peek behaves like Get but does not advance rd.
func (r *Ring[T]) Peek(dst []T) int {
	n := clamp(len(dst), int(r.Occupancy()))
	if n == 0 {
		return 0
	}
	r.copyOut(r.rd.Load(), dst[:n])
	return n
}

// Advance discards up to min(k, Occupancy()) elements from the front
// of the ring without copying them anywhere. Returns the number
// discarded.
func (r *Ring[T]) Advance(k uint32) uint32 {
	k = clamp(k, r.Occupancy())
	r.rd.Store(r.rd.Load() + k)
	return k
}

// copyIn writes src starting at the physical position of counter
// wr, splitting across the backing array's wraparound boundary.
func (r *Ring[T]) copyIn(wr uint32, src []T) {
	pos := wr & r.mask
	cap := uint32(len(r.buf))
	first := cap - pos
	if uint32(len(src)) <= first {
		copy(r.buf[pos:], src)
		return
	}
	copy(r.buf[pos:], src[:first])
	copy(r.buf[:], src[first:])
}

// copyOut reads into dst starting at the physical position of counter
// rd, splitting across the wraparound boundary.
func (r *Ring[T]) copyOut(rd uint32, dst []T) {
	pos := rd & r.mask
	cap := uint32(len(r.buf))
	first := cap - pos
	if uint32(len(dst)) <= first {
		copy(dst, r.buf[pos:])
		return
	}
	copy(dst, r.buf[pos:])
	copy(dst[first:], r.buf[:])
}

// Destroy releases the ring's reference to its backing store. The
// Ring must not be used afterwards.
func (r *Ring[T]) Destroy() {
	r.buf = nil
	r.rd.Store(0)
	r.wr.Store(0)
}

// PeekAt reads a single element at logical offset off from the
// current read cursor (off=0 is the next unread element) without
// advancing rd. Used by the frame parser's forward-scanning window,
// which must look ahead of rd without consuming bytes.
func (r *Ring[T]) PeekAt(off uint32) (v T, ok bool) {
	if off >= r.Occupancy() {
		return v, false
	}
	idx := (r.rd.Load() + off) & r.mask
	return r.buf[idx], true
}

// RD returns the current consumer counter. Exposed so callers that
// need to track absolute positions (the frame parser's anchor/forward
// indices) can compare against it without reaching into internals.
func (r *Ring[T]) RD() uint32 { return r.rd.Load() }

// WR returns the current producer counter.
func (r *Ring[T]) WR() uint32 { return r.wr.Load() }

// SetRD moves the read cursor directly to an absolute counter value.
// It is used by the frame parser to implement resync (advance by
// exactly one byte) and flush (advance to the parsed frame boundary)
// semantics described in the parser's sliding-window design: both
// are expressed as "discard up to this absolute index."
func (r *Ring[T]) SetRD(rd uint32) { r.rd.Store(rd) }
