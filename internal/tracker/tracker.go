// Package tracker implements the engine's fixed-capacity, lock-free
// order tracker: a linear-probed open-addressed table from OrderId to
// the order's current execution state, sized once at construction and
// never resized. Exceeding capacity is treated as a configuration
// error fatal to the process, not a recoverable condition, since a
// correctly sized tracker should never fill under normal operation.
package tracker

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rishav/floxcore/internal/decimal"
	"github.com/rishav/floxcore/internal/market"
	"github.com/rishav/floxcore/internal/metrics"
)

// Status enumerates an order's position in its local lifecycle, as
// tracked by this table (distinct from market.OrderEventType, which
// enumerates the bus notifications a status change produces).
type Status int8

const (
	StatusNew Status = iota
	StatusSubmitted
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusRejected
	StatusReplaced
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusRejected:
		return "REJECTED"
	case StatusReplaced:
		return "REPLACED"
	default:
		return "UNKNOWN"
	}
}

// State is the current, immutable snapshot of one tracked order. Every
// mutation (fill, cancel, reject, replace) builds a new State and
// publishes it atomically rather than mutating fields in place, so
// readers via Get never observe a torn update.
type State struct {
	Order           market.Order
	ExchangeOrderID string
	ClientOrderID   string
	Status          Status
	Filled          decimal.Quantity
	RejectReason    string
	CreatedAt       int64
	LastUpdate      int64
}

type slot struct {
	id    atomic.Uint64
	state atomic.Pointer[State]
}

// Tracker is a fixed-capacity table from OrderId to State.
type Tracker struct {
	slots    []slot
	logger   *zap.Logger
	metrics  *metrics.TrackerMetrics
	occupied atomic.Int64
}

// New constructs a Tracker with room for exactly capacity concurrently
// open orders.
func New(capacity int, logger *zap.Logger, m *metrics.TrackerMetrics) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		slots:   make([]slot, capacity),
		logger:  logger,
		metrics: m,
	}
}

func (t *Tracker) find(id uint64) *slot {
	n := uint64(len(t.slots))
	base := id % n
	for i := uint64(0); i < n; i++ {
		idx := (base + i) % n
		if t.slots[idx].id.Load() == id {
			return &t.slots[idx]
		}
	}
	return nil
}

// insert claims a free slot for id via CAS, aborting the process if the
// table is full: the tracker is expected to be sized generously enough
// never to fill in production, so overflow is treated as a fatal
// configuration error rather than a recoverable condition.
func (t *Tracker) insert(id uint64) *slot {
	n := uint64(len(t.slots))
	base := id % n
	for i := uint64(0); i < n; i++ {
		idx := (base + i) % n
		if t.slots[idx].id.CompareAndSwap(0, id) {
			t.occupied.Add(1)
			if t.metrics != nil {
				t.metrics.Occupied.Set(float64(t.occupied.Load()))
			}
			return &t.slots[idx]
		}
	}
	t.logger.Fatal("order tracker full", zap.Uint64("order_id", id), zap.Int("capacity", len(t.slots)))
	panic("unreachable") // zap.Fatal calls os.Exit(1); panic satisfies the compiler's control-flow analysis
}

// OnSubmitted records a newly submitted order.
func (t *Tracker) OnSubmitted(order market.Order, exchangeOrderID, clientOrderID string, now int64) {
	s := t.insert(order.ID)
	s.state.Store(&State{
		Order:           order,
		ExchangeOrderID: exchangeOrderID,
		ClientOrderID:   clientOrderID,
		Status:          StatusSubmitted,
		Filled:          decimal.Quantity{},
		CreatedAt:       now,
		LastUpdate:      now,
	})
}

// OnFilled records an incremental fill, transitioning to
// PartiallyFilled or, once the accumulated fill reaches the order's
// quantity, Filled. A fill for an id this tracker never recorded is
// ignored.
func (t *Tracker) OnFilled(id uint64, fill decimal.Quantity, now int64) {
	s := t.find(id)
	if s == nil {
		return
	}
	prev := s.state.Load()
	if prev == nil {
		return
	}
	next := *prev
	next.Filled = prev.Filled.Add(fill)
	next.LastUpdate = now
	if next.Filled.Cmp(next.Order.Quantity) >= 0 {
		next.Status = StatusFilled
	} else {
		next.Status = StatusPartiallyFilled
	}
	s.state.Store(&next)
}

// OnCanceled marks id canceled. A no-op for an unknown id.
func (t *Tracker) OnCanceled(id uint64, now int64) {
	t.transition(id, StatusCanceled, now, "")
}

// OnRejected marks id rejected with a reason. A no-op for an unknown id.
func (t *Tracker) OnRejected(id uint64, reason string, now int64) {
	t.transition(id, StatusRejected, now, reason)
	t.logger.Warn("order rejected", zap.Uint64("order_id", id), zap.String("reason", reason))
}

func (t *Tracker) transition(id uint64, status Status, now int64, rejectReason string) {
	s := t.find(id)
	if s == nil {
		return
	}
	prev := s.state.Load()
	if prev == nil {
		return
	}
	next := *prev
	next.Status = status
	next.LastUpdate = now
	if rejectReason != "" {
		next.RejectReason = rejectReason
	}
	s.state.Store(&next)
}

// OnReplaced marks oldID replaced (if known) and inserts newOrder as a
// fresh submitted order.
func (t *Tracker) OnReplaced(oldID uint64, newOrder market.Order, newExchangeID, newClientID string, now int64) {
	t.transition(oldID, StatusReplaced, now, "")
	t.OnSubmitted(newOrder, newExchangeID, newClientID, now)
}

// Get returns the current state for id, if tracked.
func (t *Tracker) Get(id uint64) (State, bool) {
	s := t.find(id)
	if s == nil {
		return State{}, false
	}
	state := s.state.Load()
	if state == nil {
		return State{}, false
	}
	return *state, true
}

// InUse reports how many slots are currently occupied.
func (t *Tracker) InUse() int64 {
	return t.occupied.Load()
}

// Capacity returns the fixed number of slots the tracker was built with.
func (t *Tracker) Capacity() int {
	return len(t.slots)
}
