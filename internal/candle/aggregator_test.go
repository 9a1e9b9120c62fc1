package candle_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/floxcore/internal/candle"
	"github.com/rishav/floxcore/internal/decimal"
	"github.com/rishav/floxcore/internal/market"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []market.CandleEvent
}

func (r *recordingPublisher) Publish(e market.CandleEvent) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return uint64(len(r.events))
}

func (r *recordingPublisher) snapshot() []market.CandleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]market.CandleEvent, len(r.events))
	copy(out, r.events)
	return out
}

func trade(symbol market.SymbolId, seconds int64, price, qty float64) market.TradeEvent {
	return market.TradeEvent{
		Symbol:       symbol,
		Price:        decimal.FromDouble[decimal.PriceTag](price),
		Quantity:     decimal.FromDouble[decimal.QuantityTag](qty),
		ExchangeTsNs: seconds * int64(time.Second),
	}
}

// TestCandleAggregationScenarioS3 reproduces scenario S3: interval 60s,
// symbol 42, five trades where the fifth rolls into a new bucket and
// forces the first bucket's candle to flush.
func TestCandleAggregationScenarioS3(t *testing.T) {
	pub := &recordingPublisher{}
	agg := candle.New(60*time.Second, pub)

	agg.OnTrade(trade(42, 0, 100, 1))
	agg.OnTrade(trade(42, 10, 105, 2))
	agg.OnTrade(trade(42, 20, 99, 3))
	agg.OnTrade(trade(42, 30, 101, 1))
	agg.OnTrade(trade(42, 65, 102, 2))

	events := pub.snapshot()
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, market.SymbolId(42), ev.Symbol)
	assert.InDelta(t, 100.0, ev.Candle.Open.ToDouble(), 1e-6)
	assert.InDelta(t, 105.0, ev.Candle.High.ToDouble(), 1e-6)
	assert.InDelta(t, 99.0, ev.Candle.Low.ToDouble(), 1e-6)
	assert.InDelta(t, 101.0, ev.Candle.Close.ToDouble(), 1e-6)
	assert.InDelta(t, 708.0, ev.Candle.Volume.ToDouble(), 1e-6)
	assert.Equal(t, int64(0), ev.Candle.StartTime)
	assert.Equal(t, int64(60*time.Second), ev.Candle.EndTime)
}

func TestCandleAggregatorStopFlushesInProgressCandle(t *testing.T) {
	pub := &recordingPublisher{}
	agg := candle.New(60*time.Second, pub)

	agg.OnTrade(trade(1, 0, 50, 1))
	assert.Empty(t, pub.snapshot())

	agg.Stop()
	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.InDelta(t, 50.0, events[0].Candle.Close.ToDouble(), 1e-6)
}

func TestCandleAggregatorIndependentPerSymbol(t *testing.T) {
	pub := &recordingPublisher{}
	agg := candle.New(60*time.Second, pub)

	agg.OnTrade(trade(1, 0, 10, 1))
	agg.OnTrade(trade(2, 0, 20, 1))
	agg.OnTrade(trade(1, 65, 11, 1))

	events := pub.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, market.SymbolId(1), events[0].Symbol)

	agg.Stop()
	events = pub.snapshot()
	require.Len(t, events, 2)
}
