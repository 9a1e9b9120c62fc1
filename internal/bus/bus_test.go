package bus_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/floxcore/internal/bus"
	"github.com/rishav/floxcore/internal/market"
	"github.com/rishav/floxcore/internal/pool"
)

type recordingListener struct {
	id     market.SubscriberId
	mode   bus.SubscriberMode
	mu     sync.Mutex
	events []market.TradeEvent
	sleep  time.Duration
}

func (l *recordingListener) ID() market.SubscriberId  { return l.id }
func (l *recordingListener) Mode() bus.SubscriberMode { return l.mode }
func (l *recordingListener) Handle(e market.TradeEvent) {
	if l.sleep > 0 {
		time.Sleep(l.sleep)
	}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *recordingListener) snapshot() []market.TradeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]market.TradeEvent, len(l.events))
	copy(out, l.events)
	return out
}

func sampleTrade(symbol market.SymbolId) market.TradeEvent {
	return market.TradeEvent{Symbol: symbol, IsBuy: true}
}

func TestBusPerSubscriberFIFODelivery(t *testing.T) {
	b := bus.New[market.TradeEvent](bus.Config{Policy: bus.Async, QueueCapacity: 64})
	l := &recordingListener{id: 1, mode: bus.PushMode}
	require.NoError(t, b.Subscribe(l))
	require.NoError(t, b.Start())
	defer b.Stop()

	for i := market.SymbolId(0); i < 50; i++ {
		b.Publish(sampleTrade(i))
	}

	require.Eventually(t, func() bool { return len(l.snapshot()) == 50 }, time.Second, time.Millisecond)
	got := l.snapshot()
	for i, e := range got {
		assert.Equal(t, market.SymbolId(i), e.Symbol)
		assert.Equal(t, uint64(i+1), e.TickSequence)
	}
}

func TestBusTickSequenceMonotonic(t *testing.T) {
	b := bus.New[market.TradeEvent](bus.Config{Policy: bus.Async})
	l := &recordingListener{id: 1, mode: bus.PushMode}
	require.NoError(t, b.Subscribe(l))
	require.NoError(t, b.Start())
	defer b.Stop()

	var last uint64
	for i := 0; i < 20; i++ {
		seq := b.Publish(sampleTrade(0))
		assert.Greater(t, seq, last)
		last = seq
	}
	assert.Equal(t, last, b.CurrentTickSequence())
}

// TestBusSyncPolicyOrdering exercises the scenario where three
// subscribers sleep for different durations; under Sync policy the
// publisher's tick N+1 never begins dispatch to any subscriber until
// tick N has been consumed by all of them, so each listener's recorded
// sequence numbers stay strictly increasing and in lock-step across
// subscribers despite their differing processing speed.
func TestBusSyncPolicyOrdering(t *testing.T) {
	b := bus.New[market.TradeEvent](bus.Config{Policy: bus.Sync, QueueCapacity: 8})
	fast := &recordingListener{id: 1, mode: bus.PushMode, sleep: 10 * time.Millisecond}
	medium := &recordingListener{id: 2, mode: bus.PushMode, sleep: 30 * time.Millisecond}
	slow := &recordingListener{id: 3, mode: bus.PushMode, sleep: 60 * time.Millisecond}
	require.NoError(t, b.Subscribe(fast))
	require.NoError(t, b.Subscribe(medium))
	require.NoError(t, b.Subscribe(slow))
	require.NoError(t, b.Start())
	defer b.Stop()

	const ticks = 5
	for i := 0; i < ticks; i++ {
		b.Publish(sampleTrade(market.SymbolId(i)))
	}

	require.Eventually(t, func() bool {
		return len(fast.snapshot()) == ticks && len(medium.snapshot()) == ticks && len(slow.snapshot()) == ticks
	}, 5*time.Second, time.Millisecond)

	for _, l := range []*recordingListener{fast, medium, slow} {
		got := l.snapshot()
		for i, e := range got {
			assert.Equal(t, uint64(i+1), e.TickSequence)
		}
	}
}

func TestBusDropNewestBackpressure(t *testing.T) {
	b := bus.New[market.TradeEvent](bus.Config{Policy: bus.Async, QueueCapacity: 1})
	block := make(chan struct{})
	l := &blockingListener{id: 1, mode: bus.PushMode, block: block, entryCh: make(chan struct{})}
	require.NoError(t, b.Subscribe(l))
	require.NoError(t, b.Start())

	b.Publish(sampleTrade(0)) // consumed immediately by the worker, which then blocks
	require.Eventually(t, func() bool { return l.entered() }, time.Second, time.Millisecond)

	b.Publish(sampleTrade(1)) // fills the one-slot queue
	b.Publish(sampleTrade(2)) // dropped: queue full

	close(block)
	b.Stop()

	got := l.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, market.SymbolId(0), got[0].Symbol)
	assert.Equal(t, market.SymbolId(1), got[1].Symbol)
}

type blockingListener struct {
	id      market.SubscriberId
	mode    bus.SubscriberMode
	block   chan struct{}
	once    sync.Once
	entryCh chan struct{}

	mu     sync.Mutex
	events []market.TradeEvent
}

func (l *blockingListener) ID() market.SubscriberId  { return l.id }
func (l *blockingListener) Mode() bus.SubscriberMode { return l.mode }
func (l *blockingListener) Handle(e market.TradeEvent) {
	l.once.Do(func() {
		close(l.entryCh)
		<-l.block
	})
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *blockingListener) entered() bool {
	select {
	case <-l.entryCh:
		return true
	default:
		return false
	}
}

func (l *blockingListener) snapshot() []market.TradeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]market.TradeEvent, len(l.events))
	copy(out, l.events)
	return out
}

func TestBusSubscribeAfterStartFails(t *testing.T) {
	b := bus.New[market.TradeEvent](bus.Config{})
	l := &recordingListener{id: 1, mode: bus.PushMode}
	require.NoError(t, b.Subscribe(l))
	require.NoError(t, b.Start())
	defer b.Stop()

	err := b.Subscribe(&recordingListener{id: 2, mode: bus.PushMode})
	assert.ErrorIs(t, err, bus.ErrAlreadyStarted)

	err = b.EnableDrainOnStop()
	assert.ErrorIs(t, err, bus.ErrAlreadyStarted)
}

func TestBusDrainOnStopDispatchesRemainder(t *testing.T) {
	b := bus.New[market.TradeEvent](bus.Config{Policy: bus.Async, QueueCapacity: 64})
	l := &recordingListener{id: 1, mode: bus.PushMode, sleep: 5 * time.Millisecond}
	require.NoError(t, b.Subscribe(l))
	require.NoError(t, b.EnableDrainOnStop())
	require.NoError(t, b.Start())

	for i := 0; i < 10; i++ {
		b.Publish(sampleTrade(market.SymbolId(i)))
	}
	require.NoError(t, b.Stop())

	assert.Len(t, l.snapshot(), 10)
}

func TestBusPullQueue(t *testing.T) {
	b := bus.New[market.TradeEvent](bus.Config{Policy: bus.Async})
	l := &recordingListener{id: 7, mode: bus.PullMode}
	require.NoError(t, b.Subscribe(l))
	require.NoError(t, b.Start())
	defer b.Stop()

	b.Publish(sampleTrade(1))
	b.Publish(sampleTrade(2))

	pq, ok := b.PullQueue(7)
	require.True(t, ok)

	first, ok := pq.TryPopRef()
	require.True(t, ok)
	assert.Equal(t, market.SymbolId(1), first.Symbol)

	second, ok := pq.TryPopRef()
	require.True(t, ok)
	assert.Equal(t, market.SymbolId(2), second.Symbol)

	_, ok = pq.TryPopRef()
	assert.False(t, ok)

	_, ok = b.PullQueue(999)
	assert.False(t, ok)
}

// --- HandleBus ---

type bookUpdatePool struct {
	pool *pool.Pool[market.BookUpdateEvent, *market.BookUpdateEvent]
}

func newBookUpdatePool(capacity int) *bookUpdatePool {
	return &bookUpdatePool{pool: pool.New[market.BookUpdateEvent, *market.BookUpdateEvent](capacity, nil)}
}

type handleRecorder struct {
	id     market.SubscriberId
	mode   bus.SubscriberMode
	mu     sync.Mutex
	ticks  []uint64
	frees  int
}

func (l *handleRecorder) ID() market.SubscriberId  { return l.id }
func (l *handleRecorder) Mode() bus.SubscriberMode { return l.mode }
func (l *handleRecorder) Handle(h pool.Handle[market.BookUpdateEvent, *market.BookUpdateEvent]) {
	l.mu.Lock()
	l.ticks = append(l.ticks, h.Get().TickSequence)
	l.mu.Unlock()
	h.Release()
}

func (l *handleRecorder) snapshot() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]uint64, len(l.ticks))
	copy(out, l.ticks)
	return out
}

func TestHandleBusFanOutAndRelease(t *testing.T) {
	p := newBookUpdatePool(4)
	hb := bus.NewHandleBus[market.BookUpdateEvent, *market.BookUpdateEvent](bus.Config{Policy: bus.Async, QueueCapacity: 16})
	a := &handleRecorder{id: 1, mode: bus.PushMode}
	b := &handleRecorder{id: 2, mode: bus.PushMode}
	require.NoError(t, hb.Subscribe(a))
	require.NoError(t, hb.Subscribe(b))
	require.NoError(t, hb.Start())
	defer hb.Stop()

	for i := 0; i < 3; i++ {
		h, ok := p.pool.Acquire()
		require.True(t, ok)
		h.Get().Update.Symbol = market.SymbolId(i)
		hb.Publish(h)
	}

	require.Eventually(t, func() bool {
		return len(a.snapshot()) == 3 && len(b.snapshot()) == 3
	}, time.Second, time.Millisecond)

	assert.Equal(t, []uint64{1, 2, 3}, a.snapshot())
	assert.Equal(t, []uint64{1, 2, 3}, b.snapshot())

	// Every acquired slot was cloned twice and released three times (once
	// per subscriber plus the publisher's own reference), so the pool
	// must have recovered all capacity for reuse.
	require.Eventually(t, func() bool { return p.pool.InUse() == 0 }, time.Second, time.Millisecond)
}

// TestBusGeneratedSubscriberIdsRemainIndependent drives several
// table-driven subscriber cases, each keyed by a freshly generated
// uuid hashed down to a SubscriberId, confirming that per-subscriber
// FIFO delivery holds regardless of how the id space is populated.
func TestBusGeneratedSubscriberIdsRemainIndependent(t *testing.T) {
	cases := []struct {
		name  string
		sleep time.Duration
	}{
		{name: "no-delay", sleep: 0},
		{name: "small-delay", sleep: 2 * time.Millisecond},
		{name: "larger-delay", sleep: 5 * time.Millisecond},
	}

	b := bus.New[market.TradeEvent](bus.Config{Policy: bus.Async, QueueCapacity: 64})
	listeners := make([]*recordingListener, len(cases))
	for i, tc := range cases {
		u := uuid.New()
		id := market.SubscriberId(binary.BigEndian.Uint64(u[:8]))
		listeners[i] = &recordingListener{id: id, mode: bus.PushMode, sleep: tc.sleep}
		require.NoError(t, b.Subscribe(listeners[i]))
	}
	require.NoError(t, b.Start())
	defer b.Stop()

	for i := market.SymbolId(0); i < 10; i++ {
		b.Publish(sampleTrade(i))
	}

	for i, tc := range cases {
		l := listeners[i]
		require.Eventually(t, func() bool { return len(l.snapshot()) == 10 }, time.Second, time.Millisecond, tc.name)
		got := l.snapshot()
		for j, e := range got {
			assert.Equal(t, market.SymbolId(j), e.Symbol, tc.name)
		}
	}
}

func TestHandleBusNoSubscribersReleasesImmediately(t *testing.T) {
	p := newBookUpdatePool(1)
	hb := bus.NewHandleBus[market.BookUpdateEvent, *market.BookUpdateEvent](bus.Config{})
	require.NoError(t, hb.Start())
	defer hb.Stop()

	h, ok := p.pool.Acquire()
	require.True(t, ok)
	hb.Publish(h)

	assert.Equal(t, uint64(0), p.pool.InUse())
}
