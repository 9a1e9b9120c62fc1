// Package tickbarrier implements a single-use countdown latch used
// exclusively by the event bus's synchronous dispatch policy to block a
// publisher until every push-mode subscriber has consumed one tick.
package tickbarrier

import (
	"runtime"
	"sync/atomic"
)

// Barrier counts down from an expected total; Wait spins until every
// expected Complete call has landed. A Barrier is single-use: construct
// a fresh one per publish.
type Barrier struct {
	total     uint64
	completed atomic.Uint64
}

// New creates a barrier expecting total completions.
func New(total uint64) *Barrier {
	return &Barrier{total: total}
}

// Complete records one completion. Safe to call concurrently from
// multiple subscriber goroutines.
func (b *Barrier) Complete() {
	b.completed.Add(1)
}

// Wait spins, yielding to the scheduler, until every expected Complete
// call has been observed.
func (b *Barrier) Wait() {
	for b.completed.Load() < b.total {
		runtime.Gosched()
	}
}
