// Package engine wires together the core building blocks — symbol
// registry, per-symbol order books, candle aggregation, order
// tracking, and the event buses connecting them — into one runnable
// unit with a single Start/Stop lifecycle.
package engine

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rishav/floxcore/internal/book"
	"github.com/rishav/floxcore/internal/bus"
	"github.com/rishav/floxcore/internal/candle"
	"github.com/rishav/floxcore/internal/config"
	"github.com/rishav/floxcore/internal/decimal"
	"github.com/rishav/floxcore/internal/market"
	"github.com/rishav/floxcore/internal/metrics"
	"github.com/rishav/floxcore/internal/pool"
	"github.com/rishav/floxcore/internal/symbols"
	"github.com/rishav/floxcore/internal/tracker"
)

const bookUpdatePoolCapacity = 4096

// Engine owns one instance of every core subsystem for a configured set
// of exchanges and symbols.
type Engine struct {
	cfg    *config.EngineConfig
	logger *zap.Logger

	Registry *symbols.Registry
	Tracker  *tracker.Tracker

	TradeBus      *bus.Bus[market.TradeEvent]
	CandleBus     *bus.Bus[market.CandleEvent]
	OrderBus      *bus.Bus[market.OrderEvent]
	BookUpdateBus *bus.HandleBus[market.BookUpdateEvent, *market.BookUpdateEvent]

	bookUpdatePool *pool.Pool[market.BookUpdateEvent, *market.BookUpdateEvent]
	candleAgg      *candle.Aggregator
	books          map[market.SymbolId]*book.WindowedOrderBook

	Registerer prometheus.Registerer
}

// New constructs an Engine from a validated EngineConfig: a symbol
// registry pre-populated with every configured (exchange, symbol) pair,
// one windowed order book per symbol sized to its configured tick size
// and expected deviation, an order tracker, and the trade/candle/order
// value-event buses plus the book-update handle bus, with the candle
// aggregator and per-symbol books already subscribed as listeners.
func New(cfg *config.EngineConfig, reg prometheus.Registerer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: build logger: %w", err)
	}

	registry := symbols.New()
	books := make(map[market.SymbolId]*book.WindowedOrderBook)

	for _, ex := range cfg.Exchanges {
		for _, sym := range ex.Symbols {
			id := registry.Register(ex.Name, sym.Symbol)
			tickSize := decimal.FromDouble[decimal.PriceTag](sym.TickSize)
			expectedDeviation := decimal.FromDouble[decimal.PriceTag](sym.ExpectedDeviation)
			books[id] = book.NewWindowedOrderBook(tickSize, expectedDeviation)
		}
	}

	trk := tracker.New(cfg.OrderTrackerSlots, logger, metrics.NewTrackerMetrics(reg))

	tradeBus := bus.New[market.TradeEvent](bus.Config{
		Policy:        bus.Async,
		QueueCapacity: cfg.EventBusQueueSize,
		Logger:        logger.Named("trade_bus"),
		Metrics:       metrics.NewBusMetrics(reg, "trade"),
	})
	candleBus := bus.New[market.CandleEvent](bus.Config{
		Policy:        bus.Async,
		QueueCapacity: cfg.EventBusQueueSize,
		Logger:        logger.Named("candle_bus"),
		Metrics:       metrics.NewBusMetrics(reg, "candle"),
	})
	orderBus := bus.New[market.OrderEvent](bus.Config{
		Policy:        bus.Async,
		QueueCapacity: cfg.EventBusQueueSize,
		Logger:        logger.Named("order_bus"),
		Metrics:       metrics.NewBusMetrics(reg, "order"),
	})
	bookUpdateBus := bus.NewHandleBus[market.BookUpdateEvent, *market.BookUpdateEvent](bus.Config{
		Policy:        bus.Async,
		QueueCapacity: cfg.EventBusQueueSize,
		Logger:        logger.Named("book_update_bus"),
		Metrics:       metrics.NewBusMetrics(reg, "book_update"),
	})

	candleAgg := candle.New(time.Minute, candleBus)
	if err := tradeBus.Subscribe(&tradeToCandleListener{id: 1, agg: candleAgg}); err != nil {
		return nil, err
	}
	if err := bookUpdateBus.Subscribe(&bookUpdateListener{id: 1, books: books}); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:            cfg,
		logger:         logger,
		Registry:       registry,
		Tracker:        trk,
		TradeBus:       tradeBus,
		CandleBus:      candleBus,
		OrderBus:       orderBus,
		BookUpdateBus:  bookUpdateBus,
		bookUpdatePool: pool.New[market.BookUpdateEvent, *market.BookUpdateEvent](
			bookUpdatePoolCapacity, metrics.NewPoolMetrics(reg, "book_update")),
		candleAgg:      candleAgg,
		books:          books,
		Registerer:     reg,
	}, nil
}

// Start spins up every bus's worker goroutines.
func (e *Engine) Start() error {
	for _, b := range []interface{ Start() error }{e.TradeBus, e.CandleBus, e.OrderBus, e.BookUpdateBus} {
		if err := b.Start(); err != nil {
			return err
		}
	}
	e.logger.Info("engine started", zap.Int("symbols", len(e.books)))
	return nil
}

// Stop flushes the candle aggregator's in-progress candles and joins
// every bus's workers.
func (e *Engine) Stop() error {
	e.candleAgg.Stop()
	for _, b := range []interface{ Stop() error }{e.TradeBus, e.CandleBus, e.OrderBus, e.BookUpdateBus} {
		if err := b.Stop(); err != nil {
			return err
		}
	}
	e.logger.Info("engine stopped")
	return nil
}

// AcquireBookUpdate checks out a pooled BookUpdateEvent handle for a
// connector to populate and publish on BookUpdateBus.
func (e *Engine) AcquireBookUpdate() (pool.Handle[market.BookUpdateEvent, *market.BookUpdateEvent], bool) {
	return e.bookUpdatePool.Acquire()
}

// Book returns the windowed order book for a registered symbol.
func (e *Engine) Book(id market.SymbolId) (*book.WindowedOrderBook, bool) {
	b, ok := e.books[id]
	return b, ok
}

func buildLogger(cfg *config.EngineConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
		}
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.LogFile != "" {
		zcfg.OutputPaths = []string{cfg.LogFile}
	}
	return zcfg.Build()
}

type tradeToCandleListener struct {
	id  market.SubscriberId
	agg *candle.Aggregator
}

func (l *tradeToCandleListener) ID() market.SubscriberId  { return l.id }
func (l *tradeToCandleListener) Mode() bus.SubscriberMode { return bus.PushMode }
func (l *tradeToCandleListener) Handle(e market.TradeEvent) {
	l.agg.OnTrade(e)
}

type bookUpdateListener struct {
	id    market.SubscriberId
	books map[market.SymbolId]*book.WindowedOrderBook
}

func (l *bookUpdateListener) ID() market.SubscriberId  { return l.id }
func (l *bookUpdateListener) Mode() bus.SubscriberMode { return bus.PushMode }
func (l *bookUpdateListener) Handle(h pool.Handle[market.BookUpdateEvent, *market.BookUpdateEvent]) {
	defer h.Release()
	b, ok := l.books[h.Get().Update.Symbol]
	if !ok {
		return
	}
	b.ApplyBookUpdate(h.Get().Update)
}
