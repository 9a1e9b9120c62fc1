package bus

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rishav/floxcore/internal/market"
	"github.com/rishav/floxcore/internal/metrics"
	"github.com/rishav/floxcore/internal/pool"
	"github.com/rishav/floxcore/internal/tickbarrier"
)

// Stamper is implemented by pool-backed event payloads so HandleBus can
// stamp the shared object's tick sequence once, before fan-out, rather
// than stamping N independent copies the way Bus[E] does for
// by-value events.
type Stamper interface {
	SetTick(seq uint64)
}

// HandleItem is the constraint satisfied by BookUpdateEvent: poolable
// and stampable.
type HandleItem interface {
	pool.Item
	Stamper
}

// HandleListener subscribes to a HandleBus. Ownership of the handle
// passed to Handle is transferred to the listener: the listener must
// call Release on it exactly once when done (immediately, in the
// common synchronous case, or later if it retains the handle past the
// callback's return).
type HandleListener[T any, PT interface {
	*T
	HandleItem
}] interface {
	ID() market.SubscriberId
	Mode() SubscriberMode
	Handle(h pool.Handle[T, PT])
}

type handleWorkItem[T any, PT interface {
	*T
	HandleItem
}] struct {
	handle  pool.Handle[T, PT]
	barrier *tickbarrier.Barrier
}

type handleSubscriber[T any, PT interface {
	*T
	HandleItem
}] struct {
	id       market.SubscriberId
	mode     SubscriberMode
	listener HandleListener[T, PT]
	queue    *handleQueue[T, PT]
}

// HandleBus is the pool-handle-carrying counterpart to Bus[E], used for
// book updates: the payload is a reference-counted pool.Handle rather
// than a plain value, so fan-out clones the handle (incrementing its
// refcount) instead of copying the underlying struct.
type HandleBus[T any, PT interface {
	*T
	HandleItem
}] struct {
	cfg  Config
	subs []*handleSubscriber[T, PT]

	started atomic.Bool
	running atomic.Bool

	drainOnStop bool
	stopSignal  chan struct{}
	group       *errgroup.Group

	tickSeq atomic.Uint64
}

// NewHandleBus constructs a HandleBus.
func NewHandleBus[T any, PT interface {
	*T
	HandleItem
}](cfg Config) *HandleBus[T, PT] {
	return &HandleBus[T, PT]{cfg: cfg.withDefaults()}
}

// Subscribe attaches a listener. Permitted only before Start.
func (b *HandleBus[T, PT]) Subscribe(l HandleListener[T, PT]) error {
	if b.started.Load() {
		return ErrAlreadyStarted
	}
	b.subs = append(b.subs, &handleSubscriber[T, PT]{
		id:       l.ID(),
		mode:     l.Mode(),
		listener: l,
		queue:    newHandleQueue[T, PT](b.cfg.QueueCapacity),
	})
	return nil
}

// EnableDrainOnStop makes a worker that has seen the stop signal
// dispatch whatever handles are left in its queue instead of releasing
// them unread. A worker checks for the stop signal only when it finds
// its queue empty, so handles already queued when Stop is called are
// dispatched in either mode; the setting decides only the fate of
// handles that arrive between that empty check and the worker's exit.
// Must be called before Start.
func (b *HandleBus[T, PT]) EnableDrainOnStop() error {
	if b.started.Load() {
		return ErrAlreadyStarted
	}
	b.drainOnStop = true
	return nil
}

// Start spawns one worker per push-mode subscriber and blocks until all
// are ready. Idempotent.
func (b *HandleBus[T, PT]) Start() error {
	if !b.running.CompareAndSwap(false, true) {
		return nil
	}
	b.started.Store(true)
	b.stopSignal = make(chan struct{})
	b.group = &errgroup.Group{}

	var ready sync.WaitGroup
	for _, s := range b.subs {
		if s.mode != PushMode {
			continue
		}
		s := s
		ready.Add(1)
		b.group.Go(func() error {
			b.runWorker(s, &ready)
			return nil
		})
	}
	ready.Wait()
	b.cfg.Logger.Info("handle bus started", zap.Int("subscribers", len(b.subs)))
	return nil
}

// Stop signals every worker to finish and joins them. Idempotent.
func (b *HandleBus[T, PT]) Stop() error {
	if !b.running.CompareAndSwap(true, false) {
		return nil
	}
	close(b.stopSignal)
	_ = b.group.Wait()
	b.cfg.Logger.Info("handle bus stopped")
	return nil
}

func (b *HandleBus[T, PT]) pushSubscriberCount() int {
	n := 0
	for _, s := range b.subs {
		if s.mode == PushMode {
			n++
		}
	}
	return n
}

// Publish takes ownership of h (the caller's single acquired reference),
// stamps its shared tick sequence once, clones one reference per
// subscriber, and releases the original reference once fan-out is
// complete. Under Sync policy it blocks until every push-mode
// subscriber has consumed the tick.
func (b *HandleBus[T, PT]) Publish(h pool.Handle[T, PT]) uint64 {
	seq := b.tickSeq.Add(1)
	h.Get().SetTick(seq)

	var barrier *tickbarrier.Barrier
	if b.cfg.Policy == Sync {
		barrier = tickbarrier.New(uint64(b.pushSubscriberCount()))
	}

	for _, s := range b.subs {
		clone := h.Clone()
		item := handleWorkItem[T, PT]{handle: clone, barrier: barrier}
		if !s.queue.push(item) {
			clone.Release()
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.Dropped.Inc()
			}
			if barrier != nil && s.mode == PushMode {
				barrier.Complete()
			}
			continue
		}
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.QueueDepth.WithLabelValues(strconv.FormatUint(uint64(s.id), 10)).Set(float64(s.queue.size()))
		}
	}
	h.Release()

	if barrier != nil {
		barrier.Wait()
	}
	return seq
}

// CurrentTickSequence returns the most recently stamped tick sequence.
func (b *HandleBus[T, PT]) CurrentTickSequence() uint64 {
	return b.tickSeq.Load()
}

// PullHandleQueue returns a handle letting a pull-mode subscriber drain
// its own queue. Returns false if id is not a registered pull-mode
// subscriber. The caller owns (and must Release) every handle it pops.
func (b *HandleBus[T, PT]) PullHandleQueue(id market.SubscriberId) (*PullHandleQueue[T, PT], bool) {
	for _, s := range b.subs {
		if s.id == id && s.mode == PullMode {
			return &PullHandleQueue[T, PT]{q: s.queue}, true
		}
	}
	return nil, false
}

// PullHandleQueue exposes a pull-mode subscriber's queue of handles.
type PullHandleQueue[T any, PT interface {
	*T
	HandleItem
}] struct {
	q *handleQueue[T, PT]
}

// TryPopRef removes and returns the oldest queued handle, if any. The
// caller owns the returned handle and must Release it.
func (p *PullHandleQueue[T, PT]) TryPopRef() (pool.Handle[T, PT], bool) {
	item, ok := p.q.tryPop()
	if !ok {
		return pool.Handle[T, PT]{}, false
	}
	return item.handle, true
}

func (b *HandleBus[T, PT]) runWorker(s *handleSubscriber[T, PT], ready *sync.WaitGroup) {
	ready.Done()
	spins := 0
	for {
		item, ok := s.queue.tryPop()
		if ok {
			b.dispatch(s, item)
			spins = 0
			continue
		}
		select {
		case <-b.stopSignal:
			b.drainOrDiscard(s)
			return
		default:
		}
		spins++
		if spins < spinIterations {
			runtime.Gosched()
		} else {
			time.Sleep(backoffSleep)
		}
	}
}

func (b *HandleBus[T, PT]) drainOrDiscard(s *handleSubscriber[T, PT]) {
	if !b.drainOnStop {
		for {
			item, ok := s.queue.tryPop()
			if !ok {
				return
			}
			item.handle.Release()
		}
	}
	for {
		item, ok := s.queue.tryPop()
		if !ok {
			return
		}
		b.dispatch(s, item)
	}
}

// dispatch hands ownership of item.handle to the listener; the listener
// is responsible for releasing it. If the listener panics without
// having released the handle, the handle (and its pool slot) leaks
// rather than corrupting bus state — an accepted tradeoff of the
// isolate-and-continue failure model in ERROR HANDLING DESIGN.
func (b *HandleBus[T, PT]) dispatch(s *handleSubscriber[T, PT], item handleWorkItem[T, PT]) {
	defer func() {
		if r := recover(); r != nil {
			b.cfg.Logger.Error("listener panicked",
				zap.Any("subscriber", s.id),
				zap.Any("recovered", r),
			)
		}
		if item.barrier != nil {
			item.barrier.Complete()
		}
	}()
	s.listener.Handle(item.handle)
}
