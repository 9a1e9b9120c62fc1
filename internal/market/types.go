// Package market holds the engine's shared data model: symbols, book
// updates, trades, candles, and order lifecycle events. These types are
// passed across every bus in the engine (internal/bus) and consumed by
// the order book engines (internal/book) and the candle aggregator
// (internal/candle).
package market

import (
	"github.com/rishav/floxcore/internal/decimal"
	"github.com/rishav/floxcore/internal/pool"
)

// SymbolId identifies a registered (exchange, symbol) pair. Assigned by
// internal/symbols and never reused.
type SymbolId uint32

// SubscriberId is an opaque identifier unique per subscribing listener
// within one bus.
type SubscriberId uint64

// Side is which side of the book an order or trade sits on.
type Side int8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// InstrumentType classifies what a SymbolId refers to.
type InstrumentType int8

const (
	InstrumentSpot InstrumentType = iota
	InstrumentFuture
	InstrumentOption
)

// OptionType distinguishes calls from puts for InstrumentOption symbols.
type OptionType int8

const (
	OptionCall OptionType = iota
	OptionPut
)

// OrderType enumerates the order types a strategy may submit. Market and
// Limit are the two forms the core's OrderEvent model needs to remain
// agnostic to; IOC and FOK are carried for completeness of the
// order-submission contract (the venue, not the core, enforces them).
type OrderType int8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
	OrderTypeIOC
	OrderTypeFOK
)

// BookUpdateType distinguishes a full replace from an incremental delta.
type BookUpdateType int8

const (
	BookUpdateSnapshot BookUpdateType = iota
	BookUpdateDelta
)

// BookLevel is one (price, quantity) pair within a BookUpdate. A zero
// quantity in a DELTA update deletes that level.
type BookLevel struct {
	Price    decimal.Price
	Quantity decimal.Quantity
}

// BookUpdate is the connector-populated payload carried by a
// BookUpdateEvent. Bids/asks carry no ordering guarantee; any order is
// permitted within a single update.
type BookUpdate struct {
	Symbol   SymbolId
	Instrument InstrumentType
	Type     BookUpdateType
	Bids     []BookLevel
	Asks     []BookLevel

	ExchangeTsNs int64
	SystemTsNs   int64

	Strike     *decimal.Price
	Expiry     *int64
	OptionType *OptionType
}

// Reset clears the update for reuse without releasing the backing
// slices' capacity, keeping BookUpdateEvent allocation-free once warm.
func (u *BookUpdate) Reset() {
	u.Bids = u.Bids[:0]
	u.Asks = u.Asks[:0]
	u.Strike = nil
	u.Expiry = nil
	u.OptionType = nil
}

// BookUpdateEvent is the poolable, reference-counted handle payload
// published on the market-data bus for book updates. It embeds
// pool.RefCounted so it can live in an internal/pool.Pool.
type BookUpdateEvent struct {
	pool.RefCounted

	Update       BookUpdate
	TickSequence uint64
}

// Clear empties the update in place (see BookUpdate.Reset) without
// deallocating, so the slot is immediately reusable by the pool.
func (e *BookUpdateEvent) Clear() {
	e.Update.Reset()
	e.TickSequence = 0
}

// SetTick stamps the shared tick sequence, satisfying the bus package's
// Stamper constraint. Unlike the by-value events, a BookUpdateEvent is
// stamped once on the single pooled object before fan-out, rather than
// once per cloned copy.
func (e *BookUpdateEvent) SetTick(seq uint64) {
	e.TickSequence = seq
}

// TradeEvent is passed by value (never pooled) since it carries no
// variable-length data.
type TradeEvent struct {
	Symbol       SymbolId
	Instrument   InstrumentType
	Price        decimal.Price
	Quantity     decimal.Quantity
	IsBuy        bool
	ExchangeTsNs int64
	TickSequence uint64
}

// WithTick returns a copy of e stamped with seq, satisfying the bus
// package's Stamped constraint.
func (e TradeEvent) WithTick(seq uint64) TradeEvent {
	e.TickSequence = seq
	return e
}

// Candle is one OHLCV bucket.
type Candle struct {
	Open, High, Low, Close decimal.Price
	Volume                 decimal.Volume
	StartTime, EndTime     int64 // unix nanoseconds
}

// NewCandle opens a fresh one-trade candle at ts with the given initial
// price and volume contribution.
func NewCandle(ts int64, price decimal.Price, vol decimal.Volume) Candle {
	return Candle{
		Open: price, High: price, Low: price, Close: price,
		Volume:    vol,
		StartTime: ts, EndTime: ts,
	}
}

// CandleEvent is passed by value, emitted by internal/candle on interval
// roll-over or stop.
type CandleEvent struct {
	Symbol       SymbolId
	Instrument   InstrumentType
	Candle       Candle
	TickSequence uint64
}

// WithTick returns a copy of e stamped with seq, satisfying the bus
// package's Stamped constraint.
func (e CandleEvent) WithTick(seq uint64) CandleEvent {
	e.TickSequence = seq
	return e
}

// OrderEventType enumerates an order's observable lifecycle transitions.
type OrderEventType int8

const (
	OrderSubmitted OrderEventType = iota
	OrderAccepted
	OrderPartiallyFilled
	OrderFilled
	OrderCanceled
	OrderExpired
	OrderRejected
	OrderReplaced
)

func (t OrderEventType) String() string {
	switch t {
	case OrderSubmitted:
		return "SUBMITTED"
	case OrderAccepted:
		return "ACCEPTED"
	case OrderPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderFilled:
		return "FILLED"
	case OrderCanceled:
		return "CANCELED"
	case OrderExpired:
		return "EXPIRED"
	case OrderRejected:
		return "REJECTED"
	case OrderReplaced:
		return "REPLACED"
	default:
		return "UNKNOWN"
	}
}

// Order is a strategy-submitted order as tracked by the core.
type Order struct {
	ID             uint64
	Side           Side
	Price          decimal.Price
	Quantity       decimal.Quantity
	Type           OrderType
	Symbol         SymbolId
	FilledQuantity decimal.Quantity
	CreatedAt      int64

	ExchangeTs   *int64
	LastUpdated  *int64
	ExpiresAfter *int64
}

// RemainingQuantity returns Quantity - FilledQuantity.
func (o Order) RemainingQuantity() decimal.Quantity {
	return o.Quantity.Sub(o.FilledQuantity)
}

// OrderEvent is passed by value on the order-execution bus.
//
// SUBMITTED and ACCEPTED are dispatched as independent events: the
// original engine this model is drawn from has a switch statement that
// falls through from SUBMITTED into ACCEPTED, which is not reproduced
// here — each OrderEventType invokes exactly one listener callback.
type OrderEvent struct {
	Type         OrderEventType
	Order        Order
	NewOrder     *Order // set for OrderReplaced
	FillQty      decimal.Quantity
	RejectReason string
	TickSequence uint64
}

// WithTick returns a copy of e stamped with seq, satisfying the bus
// package's Stamped constraint.
func (e OrderEvent) WithTick(seq uint64) OrderEvent {
	e.TickSequence = seq
	return e
}
