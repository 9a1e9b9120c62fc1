package bus

import "github.com/rishav/floxcore/internal/spsc"

// handleQueue wraps an spsc.Queue of handleWorkItem[T,PT], mirroring
// queue[E] for the pool-handle bus variant.
type handleQueue[T any, PT interface {
	*T
	HandleItem
}] struct {
	inner *spsc.Queue[handleWorkItem[T, PT]]
}

func newHandleQueue[T any, PT interface {
	*T
	HandleItem
}](capacity int) *handleQueue[T, PT] {
	return &handleQueue[T, PT]{inner: spsc.New[handleWorkItem[T, PT]](capacity)}
}

func (q *handleQueue[T, PT]) push(item handleWorkItem[T, PT]) bool { return q.inner.Push(item) }
func (q *handleQueue[T, PT]) tryPop() (handleWorkItem[T, PT], bool) { return q.inner.TryPop() }
func (q *handleQueue[T, PT]) size() uint64                          { return q.inner.Size() }
