// Package main runs the core engine: it loads configuration, wires up
// the symbol registry, order books, candle aggregator, order tracker,
// and event buses via internal/engine, exposes Prometheus metrics over
// HTTP, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rishav/floxcore/internal/config"
	"github.com/rishav/floxcore/internal/decimal"
	"github.com/rishav/floxcore/internal/engine"
	"github.com/rishav/floxcore/internal/market"
)

func main() {
	configPath := flag.String("config", "engine.yaml", "Path to engine configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Address to serve Prometheus metrics on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	registry := prometheus.NewRegistry()
	eng, err := engine.New(cfg, registry)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	if err := eng.Start(); err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}

	submitDemoOrder(eng, cfg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	if err := eng.Stop(); err != nil {
		log.Printf("engine shutdown error: %v", err)
	}
	log.Println("engine stopped")
}

// submitDemoOrder exercises the tracker end to end on startup: a
// strategy collaborator would submit orders like this with its own
// correlation id, here stood in with a generated uuid the way a real
// connector would tag an outbound order for exchange acknowledgment
// matching.
func submitDemoOrder(eng *engine.Engine, cfg *config.EngineConfig) {
	if len(cfg.Exchanges) == 0 || len(cfg.Exchanges[0].Symbols) == 0 {
		return
	}
	ex := cfg.Exchanges[0]
	sym := ex.Symbols[0]
	symbolID, ok := eng.Registry.Lookup(ex.Name, sym.Symbol)
	if !ok {
		return
	}

	clientOrderID := uuid.NewString()
	order := market.Order{
		ID:       1,
		Symbol:   symbolID,
		Side:     market.SideBuy,
		Type:     market.OrderTypeLimit,
		Quantity: decimal.FromDouble[decimal.QuantityTag](1.0),
	}
	eng.Tracker.OnSubmitted(order, "", clientOrderID, time.Now().UnixNano())
}
