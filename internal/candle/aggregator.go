// Package candle aggregates trades into fixed-interval OHLCV candles,
// one running PartialCandle per symbol, flushing a CandleEvent whenever
// a trade's timestamp rolls into the next bucket or the aggregator is
// stopped.
package candle

import (
	"sync"
	"time"

	"github.com/rishav/floxcore/internal/decimal"
	"github.com/rishav/floxcore/internal/market"
)

// Publisher is the subset of bus.Bus[market.CandleEvent] the aggregator
// depends on, kept as an interface so tests can substitute a recorder
// without standing up a real bus.
type Publisher interface {
	Publish(market.CandleEvent) uint64
}

type partialCandle struct {
	candle      market.Candle
	instrument  market.InstrumentType
	initialized bool
}

// Aggregator rolls trades for every symbol into Interval-sized candles.
type Aggregator struct {
	interval time.Duration
	bus      Publisher

	mu       sync.Mutex
	partials map[market.SymbolId]*partialCandle
}

// New constructs an Aggregator publishing completed candles to bus.
func New(interval time.Duration, bus Publisher) *Aggregator {
	return &Aggregator{
		interval: interval,
		bus:      bus,
		partials: make(map[market.SymbolId]*partialCandle),
	}
}

// OnTrade folds one trade into its symbol's running candle, flushing
// the previous bucket first if the trade belongs to a new one.
func (a *Aggregator) OnTrade(event market.TradeEvent) {
	ts := a.alignToInterval(event.ExchangeTsNs)

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.partials[event.Symbol]
	if !ok {
		p = &partialCandle{}
		a.partials[event.Symbol] = p
	}

	volume, _ := decimal.MulPriceQty(event.Price, event.Quantity)

	if !p.initialized || p.candle.StartTime != ts {
		if p.initialized {
			p.candle.EndTime = p.candle.StartTime + int64(a.interval)
			a.bus.Publish(market.CandleEvent{
				Symbol:     event.Symbol,
				Instrument: p.instrument,
				Candle:     p.candle,
			})
		}
		p.candle = market.NewCandle(ts, event.Price, volume)
		p.candle.EndTime = ts + int64(a.interval)
		p.instrument = event.Instrument
		p.initialized = true
		return
	}

	c := &p.candle
	if event.Price.Greater(c.High) {
		c.High = event.Price
	}
	if event.Price.Less(c.Low) {
		c.Low = event.Price
	}
	c.Close = event.Price
	c.Volume = c.Volume.Add(volume)
	c.EndTime = p.candle.StartTime + int64(a.interval)
}

// Stop flushes every symbol's in-progress candle as a final CandleEvent
// and clears aggregator state.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for symbol, p := range a.partials {
		if p.initialized {
			p.candle.EndTime = p.candle.StartTime + int64(a.interval)
			a.bus.Publish(market.CandleEvent{
				Symbol:     symbol,
				Instrument: p.instrument,
				Candle:     p.candle,
			})
		}
	}
	a.partials = make(map[market.SymbolId]*partialCandle)
}

// alignToInterval snaps a unix-nanosecond timestamp down to the start
// of its Interval-sized bucket, also expressed in unix nanoseconds.
func (a *Aggregator) alignToInterval(tsNs int64) int64 {
	interval := int64(a.interval)
	if interval <= 0 {
		return tsNs
	}
	return (tsNs / interval) * interval
}
