package bus

import "github.com/rishav/floxcore/internal/spsc"

// queue wraps an spsc.Queue of workItem[E], giving the bus package a
// narrow, unexported surface independent of the underlying SPSC
// implementation.
type queue[E any] struct {
	inner *spsc.Queue[workItem[E]]
}

func newQueue[E any](capacity int) *queue[E] {
	return &queue[E]{inner: spsc.New[workItem[E]](capacity)}
}

func (q *queue[E]) push(item workItem[E]) bool     { return q.inner.Push(item) }
func (q *queue[E]) tryPop() (workItem[E], bool)     { return q.inner.TryPop() }
func (q *queue[E]) clear()                          { q.inner.Clear() }
func (q *queue[E]) size() uint64                    { return q.inner.Size() }
