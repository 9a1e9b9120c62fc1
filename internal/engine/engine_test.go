package engine_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishav/floxcore/internal/bus"
	"github.com/rishav/floxcore/internal/config"
	"github.com/rishav/floxcore/internal/decimal"
	"github.com/rishav/floxcore/internal/engine"
	"github.com/rishav/floxcore/internal/market"
)

func testConfig() *config.EngineConfig {
	return &config.EngineConfig{
		Exchanges: []config.ExchangeConfig{{
			Name: "binance",
			Type: "spot",
			Symbols: []config.SymbolConfig{
				{Symbol: "BTCUSDT", TickSize: 0.1, ExpectedDeviation: 500},
			},
		}},
		KillSwitchConfig:  config.DefaultKillSwitchConfig(),
		LogLevel:          "error",
		EventBusQueueSize: 256,
		OrderTrackerSlots: 64,
	}
}

func px(v float64) decimal.Price     { return decimal.FromDouble[decimal.PriceTag](v) }
func qty(v float64) decimal.Quantity { return decimal.FromDouble[decimal.QuantityTag](v) }

func TestNewRegistersSymbolsAndBuildsBooks(t *testing.T) {
	cfg := testConfig()
	eng, err := engine.New(cfg, prometheus.NewRegistry())
	require.NoError(t, err)

	id, ok := eng.Registry.Lookup("binance", "BTCUSDT")
	require.True(t, ok)

	_, ok = eng.Book(id)
	assert.True(t, ok)
}

type candleCapture struct {
	id  market.SubscriberId
	out chan market.CandleEvent
}

func (c *candleCapture) ID() market.SubscriberId  { return c.id }
func (c *candleCapture) Mode() bus.SubscriberMode { return bus.PushMode }
func (c *candleCapture) Handle(e market.CandleEvent) {
	c.out <- e
}

// TestTradePublishFlowsIntoCandleAggregator exercises the full wiring: a
// trade published on TradeBus reaches the candle aggregator through the
// engine's internal listener, and once a later trade rolls into the
// next aggregation window the prior candle is flushed onto CandleBus.
func TestTradePublishFlowsIntoCandleAggregator(t *testing.T) {
	cfg := testConfig()
	eng, err := engine.New(cfg, prometheus.NewRegistry())
	require.NoError(t, err)

	id, ok := eng.Registry.Lookup("binance", "BTCUSDT")
	require.True(t, ok)

	got := make(chan market.CandleEvent, 1)
	require.NoError(t, eng.CandleBus.Subscribe(&candleCapture{id: 1, out: got}))
	require.NoError(t, eng.Start())
	defer eng.Stop()

	eng.TradeBus.Publish(market.TradeEvent{
		Symbol:   id,
		Price:    px(100),
		Quantity: qty(1),
		IsBuy:    true,
	})
	eng.TradeBus.Publish(market.TradeEvent{
		Symbol:       id,
		Price:        px(105),
		Quantity:     qty(2),
		IsBuy:        true,
		ExchangeTsNs: int64(70 * time.Second),
	})

	select {
	case ev := <-got:
		assert.Equal(t, id, ev.Symbol)
		assert.InDelta(t, 100, ev.Candle.Open.ToDouble(), 1e-6)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for candle")
	}
}

// TestBookUpdatePublishAppliesToBook exercises the HandleBus wiring: a
// pooled BookUpdateEvent published on BookUpdateBus reaches the
// subscribed listener, which applies it to the per-symbol windowed book.
func TestBookUpdatePublishAppliesToBook(t *testing.T) {
	cfg := testConfig()
	eng, err := engine.New(cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	defer eng.Stop()

	id, ok := eng.Registry.Lookup("binance", "BTCUSDT")
	require.True(t, ok)

	h, ok := eng.AcquireBookUpdate()
	require.True(t, ok)
	h.Get().Update.Symbol = id
	h.Get().Update.Type = market.BookUpdateSnapshot
	h.Get().Update.Bids = []market.BookLevel{{Price: px(100), Quantity: qty(1)}}
	h.Get().Update.Asks = []market.BookLevel{{Price: px(101), Quantity: qty(2)}}
	eng.BookUpdateBus.Publish(h)

	require.Eventually(t, func() bool {
		b, ok := eng.Book(id)
		if !ok {
			return false
		}
		bid, found := b.BestBid()
		return found && bid.Cmp(px(100)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
