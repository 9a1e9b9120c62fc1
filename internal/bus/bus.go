// Package bus implements the engine's generic event bus: a
// multi-subscriber fan-out parameterized by event type and dispatch
// policy (Async or Sync), owning per-subscriber queues and worker
// goroutines.
//
// Each subscriber runs its own single-threaded worker loop with a
// spin-then-yield backoff when its queue is empty; a defer/recover
// wraps each dispatched item so one listener's panic cannot take down
// the bus or any other subscriber.
package bus

import (
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rishav/floxcore/internal/market"
	"github.com/rishav/floxcore/internal/metrics"
	"github.com/rishav/floxcore/internal/tickbarrier"
)

// ErrAlreadyStarted is returned by Subscribe/EnableDrainOnStop once the
// bus has started; subscription is fixed for the bus's lifetime.
var ErrAlreadyStarted = errors.New("bus: cannot modify subscribers after start")

const (
	spinIterations = 1000
	backoffSleep   = 50 * time.Microsecond
)

// Config configures a Bus.
type Config struct {
	Policy        Policy
	QueueCapacity int
	Logger        *zap.Logger
	Metrics       *metrics.BusMetrics
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 4096
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type workItem[E any] struct {
	event   E
	barrier *tickbarrier.Barrier
}

type subscriber[E any] struct {
	id       market.SubscriberId
	mode     SubscriberMode
	listener Listener[E]
	queue    *queue[E]
}

// Bus is a generic, multi-subscriber event bus over E.
type Bus[E Stamped[E]] struct {
	cfg  Config
	subs []*subscriber[E]

	started atomic.Bool
	running atomic.Bool

	drainOnStop bool
	stopSignal  chan struct{}
	group       *errgroup.Group

	tickSeq atomic.Uint64
}

// New constructs a Bus. Subscribe before calling Start.
func New[E Stamped[E]](cfg Config) *Bus[E] {
	return &Bus[E]{cfg: cfg.withDefaults()}
}

// Subscribe attaches a listener. Permitted only before Start.
func (b *Bus[E]) Subscribe(l Listener[E]) error {
	if b.started.Load() {
		return ErrAlreadyStarted
	}
	b.subs = append(b.subs, &subscriber[E]{
		id:       l.ID(),
		mode:     l.Mode(),
		listener: l,
		queue:    newQueue[E](b.cfg.QueueCapacity),
	})
	return nil
}

// EnableDrainOnStop makes a worker that has seen the stop signal
// dispatch whatever is left in its queue instead of discarding it. A
// worker checks for the stop signal only when it finds its queue empty,
// so items already queued when Stop is called are dispatched in either
// mode; the setting decides only the fate of items that arrive between
// that empty check and the worker's exit. Must be called before Start.
func (b *Bus[E]) EnableDrainOnStop() error {
	if b.started.Load() {
		return ErrAlreadyStarted
	}
	b.drainOnStop = true
	return nil
}

// Start spawns one worker goroutine per push-mode subscriber and blocks
// until every worker has reported ready. Idempotent.
func (b *Bus[E]) Start() error {
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
	b.cfg.Logger.Info("bus started", zap.Int("subscribers", len(b.subs)))
	return nil
}

// Stop signals every worker to finish and joins them. Idempotent.
func (b *Bus[E]) Stop() error {
	if !b.running.CompareAndSwap(true, false) {
		return nil
	}
	close(b.stopSignal)
	_ = b.group.Wait()
	b.cfg.Logger.Info("bus stopped")
	return nil
}

// pushSubscriberCount returns how many subscribers are push-mode, used
// to size the per-publish TickBarrier under the Sync policy. Pull-mode
// subscribers never call Complete, so counting them would deadlock
// every synchronous publish once a single pull subscriber is attached.
func (b *Bus[E]) pushSubscriberCount() int {
	n := 0
	for _, s := range b.subs {
		if s.mode == PushMode {
			n++
		}
	}
	return n
}

// Publish stamps event with the next monotonic tick sequence and
// enqueues one copy per subscriber. Under Sync policy it blocks until
// every push-mode subscriber has consumed the tick.
func (b *Bus[E]) Publish(event E) uint64 {
	seq := b.tickSeq.Add(1)
	stamped := event.WithTick(seq)

	var barrier *tickbarrier.Barrier
	if b.cfg.Policy == Sync {
		barrier = tickbarrier.New(uint64(b.pushSubscriberCount()))
	}

	for _, s := range b.subs {
		item := workItem[E]{event: stamped, barrier: barrier}
		if !s.queue.push(item) {
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.Dropped.Inc()
			}
			// A dropped item for a push-mode subscriber under Sync
			// policy will never be processed, so its barrier
			// completion must be counted here or the publisher
			// would block forever.
			if barrier != nil && s.mode == PushMode {
				barrier.Complete()
			}
			continue
		}
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.QueueDepth.WithLabelValues(subscriberLabel(s.id)).Set(float64(s.queue.size()))
		}
	}

	if barrier != nil {
		barrier.Wait()
	}
	return seq
}

// CurrentTickSequence returns the most recently stamped tick sequence.
func (b *Bus[E]) CurrentTickSequence() uint64 {
	return b.tickSeq.Load()
}

// PullQueue returns a handle letting a pull-mode subscriber drain its
// own queue at its own cadence. Returns false if id is not a registered
// pull-mode subscriber.
func (b *Bus[E]) PullQueue(id market.SubscriberId) (*PullQueue[E], bool) {
	for _, s := range b.subs {
		if s.id == id && s.mode == PullMode {
			return &PullQueue[E]{q: s.queue}, true
		}
	}
	return nil, false
}

// PullQueue exposes a pull-mode subscriber's queue without leaking the
// internal workItem wrapper (which carries Sync-policy barrier plumbing
// that pull subscribers never participate in).
type PullQueue[E any] struct {
	q *queue[E]
}

// TryPopRef removes and returns the oldest queued event, if any.
func (p *PullQueue[E]) TryPopRef() (*E, bool) {
	item, ok := p.q.tryPop()
	if !ok {
		return nil, false
	}
	return &item.event, true
}

func (b *Bus[E]) runWorker(s *subscriber[E], ready *sync.WaitGroup) {
	ready.Done() // no CPU-affinity setup to perform; ready immediately
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

func (b *Bus[E]) drainOrDiscard(s *subscriber[E]) {
	if !b.drainOnStop {
		s.queue.clear()
		return
	}
	for {
		item, ok := s.queue.tryPop()
		if !ok {
			return
		}
		b.dispatch(s, item)
	}
}

func (b *Bus[E]) dispatch(s *subscriber[E], item workItem[E]) {
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
	s.listener.Handle(item.event)
}

func subscriberLabel(id market.SubscriberId) string {
	return strconv.FormatUint(uint64(id), 10)
}
