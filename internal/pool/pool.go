// Package pool implements a fixed-capacity, intrusive reference-counted
// object pool. Acquiring a slot never allocates after construction: the
// pool pre-builds every slot up front and recycles them through an
// internal single-producer/single-consumer free list, generalized to
// arbitrary poolable payloads (book-update events, in this engine).
package pool

import (
	"sync/atomic"

	"github.com/rishav/floxcore/internal/metrics"
	"github.com/rishav/floxcore/internal/spsc"
)

// RefCounted is an embeddable atomic reference count. Types stored in a
// Pool embed RefCounted and implement Clear to satisfy Item.
type RefCounted struct {
	refcount atomic.Int64
}

// Retain increments the reference count. Used when a Handle is cloned.
func (r *RefCounted) Retain() { r.refcount.Add(1) }

// Release decrements the reference count and reports whether this was
// the final reference (the 1->0 transition).
func (r *RefCounted) Release() bool { return r.refcount.Add(-1) == 0 }

// ResetRefCount sets the count back to 1; called when a slot is acquired.
func (r *RefCounted) ResetRefCount() { r.refcount.Store(1) }

// Item is the contract a poolable payload must satisfy. T embeds
// RefCounted for Retain/Release/ResetRefCount and supplies its own Clear,
// which is invoked exactly once, on the 1->0 transition, before the slot
// returns to the free list.
type Item interface {
	Retain()
	Release() bool
	ResetRefCount()
	Clear()
}

// Pool owns Capacity pre-allocated slots of type T, accessed through *T
// (PT). The pointer-typed constraint is the standard Go idiom for
// generic code that needs both a value type for storage and a pointer
// type for the method set (the same trick protobuf-generated code uses
// for message types).
type Pool[T any, PT interface {
	*T
	Item
}] struct {
	slots   []T
	free    *spsc.Queue[PT]
	metrics *metrics.PoolMetrics

	acquired atomic.Uint64
	released atomic.Uint64
}

// New builds a pool of the given capacity. All slots are constructed
// immediately and pushed onto the internal free queue; no further heap
// allocation happens for the lifetime of the pool. m may be nil, in
// which case occupancy goes unreported.
func New[T any, PT interface {
	*T
	Item
}](capacity int, m *metrics.PoolMetrics) *Pool[T, PT] {
	p := &Pool[T, PT]{
		slots:   make([]T, capacity),
		free:    spsc.New[PT](capacity),
		metrics: m,
	}
	for i := range p.slots {
		ptr := PT(&p.slots[i])
		p.free.Push(ptr)
	}
	return p
}

// Acquire pops a free slot, resets its reference count to 1, and wraps
// it in a Handle. It returns false if the pool is exhausted; the caller
// is expected to drop the event rather than block (CapacityExhausted).
func (p *Pool[T, PT]) Acquire() (Handle[T, PT], bool) {
	var zero Handle[T, PT]
	ptr, ok := p.free.TryPop()
	if !ok {
		return zero, false
	}
	ptr.ResetRefCount()
	p.acquired.Add(1)
	if p.metrics != nil {
		p.metrics.InUse.Set(float64(p.InUse()))
	}
	return Handle[T, PT]{ptr: ptr, pool: p}, true
}

// release returns a fully-drained slot (refcount reached zero) to the
// free list after invoking its Clear.
func (p *Pool[T, PT]) release(ptr PT) {
	ptr.Clear()
	p.free.Push(ptr)
	p.released.Add(1)
	if p.metrics != nil {
		p.metrics.InUse.Set(float64(p.InUse()))
	}
}

// InUse reports the number of slots currently checked out.
func (p *Pool[T, PT]) InUse() uint64 {
	return p.acquired.Load() - p.released.Load()
}

// Capacity returns the total number of slots the pool was built with.
func (p *Pool[T, PT]) Capacity() int {
	return len(p.slots)
}

// Handle is a move-or-clone smart reference to a pool slot. Cloning a
// Handle (via Clone) increments the slot's reference count; Release
// decrements it and, on the final release, invokes Clear and returns
// the slot to the pool.
//
// Go has no destructors, so unlike the source's scope-exiting handle,
// every Handle must be explicitly Released exactly once per live
// reference (the original acquisition, and each Clone).
type Handle[T any, PT interface {
	*T
	Item
}] struct {
	ptr  PT
	pool *Pool[T, PT]
}

// Get returns the underlying pointer. The zero Handle returns nil.
func (h Handle[T, PT]) Get() PT { return h.ptr }

// Valid reports whether the handle refers to a live slot.
func (h Handle[T, PT]) Valid() bool { return h.ptr != nil }

// Clone increments the slot's reference count and returns a new Handle
// to the same slot; both must be Released independently.
func (h Handle[T, PT]) Clone() Handle[T, PT] {
	if h.ptr != nil {
		h.ptr.Retain()
	}
	return h
}

// Release decrements the slot's reference count. On the 1->0 transition
// it invokes Clear and returns the slot to the owning pool. Calling
// Release on an already-released or zero Handle is a no-op.
func (h *Handle[T, PT]) Release() {
	if h.ptr == nil {
		return
	}
	if h.ptr.Release() {
		h.pool.release(h.ptr)
	}
	h.ptr = nil
	h.pool = nil
}
