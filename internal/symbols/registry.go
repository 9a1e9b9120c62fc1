// Package symbols implements the engine's (exchange, symbol) to
// market.SymbolId registry: a thread-safe, monotonically growing table
// assigning each distinct pair a stable id on first registration and
// returning the same id thereafter.
package symbols

import (
	"fmt"
	"sync"

	"github.com/rishav/floxcore/internal/decimal"
	"github.com/rishav/floxcore/internal/market"
)

// Info describes one registered symbol beyond its bare id.
type Info struct {
	ID         market.SymbolId
	Exchange   string
	Symbol     string
	Instrument market.InstrumentType

	Strike     *decimal.Price
	Expiry     *int64
	OptionType *market.OptionType
}

// Registry assigns and resolves market.SymbolId values. The zero value
// is not usable; construct with New.
type Registry struct {
	mu    sync.Mutex
	byID  []Info // 1-indexed: byID[0] is a sentinel, real ids start at 1
	byKey map[string]market.SymbolId
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		byID:  make([]Info, 1),
		byKey: make(map[string]market.SymbolId),
	}
}

func key(exchange, symbol string) string {
	return exchange + ":" + symbol
}

// Register assigns (or looks up) the id for an (exchange, symbol) pair,
// defaulting its instrument type to Spot.
func (r *Registry) Register(exchange, symbol string) market.SymbolId {
	return r.RegisterInfo(Info{Exchange: exchange, Symbol: symbol, Instrument: market.InstrumentSpot})
}

// RegisterInfo assigns (or looks up) the id for the (exchange, symbol)
// pair in info, ignoring info's ID field (the registry assigns it) and
// recording the rest of info on first registration only — re-registering
// the same pair with different metadata does not mutate the existing
// entry.
func (r *Registry) RegisterInfo(info Info) market.SymbolId {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(info.Exchange, info.Symbol)
	if id, ok := r.byKey[k]; ok {
		return id
	}

	id := market.SymbolId(len(r.byID))
	info.ID = id
	r.byID = append(r.byID, info)
	r.byKey[k] = id
	return id
}

// Lookup returns the id already assigned to (exchange, symbol), if any.
func (r *Registry) Lookup(exchange, symbol string) (market.SymbolId, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key(exchange, symbol)]
	return id, ok
}

// Info returns the full record for id, if registered.
func (r *Registry) Info(id market.SymbolId) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 || int(id) >= len(r.byID) {
		return Info{}, false
	}
	return r.byID[id], true
}

// Name returns the (exchange, symbol) pair id was registered under. It
// panics on an unknown id rather than returning a zero value: callers
// are expected to pass ids the registry itself handed out, and a silent
// fallback would mask a bug in the caller instead of surfacing it.
func (r *Registry) Name(id market.SymbolId) (exchange, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.nameLocked(id)
	if !ok {
		panic(fmt.Sprintf("symbols: unregistered id %d", id))
	}
	return info.Exchange, info.Symbol
}

func (r *Registry) nameLocked(id market.SymbolId) (Info, bool) {
	if id == 0 || int(id) >= len(r.byID) {
		return Info{}, false
	}
	return r.byID[id], true
}
