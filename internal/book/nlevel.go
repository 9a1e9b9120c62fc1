// Package book implements the engine's order book representations: a
// fixed-capacity N-level book indexed directly by tick distance from a
// movable base, and a ring-buffered windowed book sized to an expected
// price deviation. Both apply the same BookUpdate payload and expose
// the same best-bid/best-ask/consume-depth surface.
package book

import (
	"fmt"
	"math"
	"strings"

	"github.com/rishav/floxcore/internal/decimal"
	"github.com/rishav/floxcore/internal/market"
)

const reanchorHysteresisTicks = 8

// NLevelOrderBook holds MaxLevels price levels on each side, indexed by
// tick distance from a movable baseIndex. Levels outside the current
// window are dropped rather than grown into: a symbol whose price
// wanders further than MaxLevels*tickSize away within one update is
// rare enough that dropping the stale tail is an acceptable cost, not
// a correctness bug.
type NLevelOrderBook struct {
	tickSize  decimal.Price
	maxLevels int
	baseIndex int64

	bids []decimal.Quantity
	asks []decimal.Quantity

	minBid, maxBid int
	minAsk, maxAsk int

	bestBidIdx, bestAskIdx   int
	bestBidTick, bestAskTick int64
}

// NewNLevelOrderBook constructs an empty book with the given tick size
// and level capacity.
func NewNLevelOrderBook(tickSize decimal.Price, maxLevels int) *NLevelOrderBook {
	b := &NLevelOrderBook{
		tickSize:  tickSize,
		maxLevels: maxLevels,
		bids:      make([]decimal.Quantity, maxLevels),
		asks:      make([]decimal.Quantity, maxLevels),
	}
	b.Clear()
	return b
}

// Clear resets the book to empty, keeping the current tick size and
// level capacity.
func (b *NLevelOrderBook) Clear() {
	for i := range b.bids {
		b.bids[i] = decimal.Quantity{}
	}
	for i := range b.asks {
		b.asks[i] = decimal.Quantity{}
	}
	b.minBid, b.maxBid = b.maxLevels, 0
	b.minAsk, b.maxAsk = b.maxLevels, 0
	b.baseIndex = 0
	b.bestBidIdx, b.bestAskIdx = b.maxLevels, b.maxLevels
	b.bestBidTick, b.bestAskTick = -1, -1
}

// TickSize returns the book's configured tick size.
func (b *NLevelOrderBook) TickSize() decimal.Price { return b.tickSize }

func (b *NLevelOrderBook) ticks(p decimal.Price) int64 {
	return divRoundNearest(p.Raw(), b.tickSize.Raw())
}

func (b *NLevelOrderBook) indexToPrice(i int) decimal.Price {
	tick := b.baseIndex + int64(i)
	return decimal.FromRaw[decimal.PriceTag](b.tickSize.Raw() * tick)
}

func (b *NLevelOrderBook) localIndex(p decimal.Price) int {
	t := b.ticks(p) - b.baseIndex
	if t < 0 || t >= int64(b.maxLevels) {
		return b.maxLevels
	}
	return int(t)
}

// BestBidIndex returns the local array index of the best bid, falling
// back to a linear scan within [minBid,maxBid] if the cached index was
// invalidated by a level going to zero.
func (b *NLevelOrderBook) BestBidIndex() (int, bool) {
	if b.bestBidIdx < b.maxLevels {
		return b.bestBidIdx, true
	}
	if b.minBid >= b.maxLevels {
		return 0, false
	}
	for i := b.maxBid; i >= b.minBid; i-- {
		if !b.bids[i].IsZero() {
			return i, true
		}
	}
	return 0, false
}

// BestAskIndex is the ask-side counterpart of BestBidIndex.
func (b *NLevelOrderBook) BestAskIndex() (int, bool) {
	if b.bestAskIdx < b.maxLevels {
		return b.bestAskIdx, true
	}
	if b.minAsk >= b.maxLevels {
		return 0, false
	}
	for i := b.minAsk; i <= b.maxAsk; i++ {
		if !b.asks[i].IsZero() {
			return i, true
		}
	}
	return 0, false
}

// BestBid returns the best bid price, if any resting bid exists.
func (b *NLevelOrderBook) BestBid() (decimal.Price, bool) {
	if b.bestBidTick < 0 {
		return decimal.Price{}, false
	}
	return decimal.FromRaw[decimal.PriceTag](b.tickSize.Raw() * b.bestBidTick), true
}

// BestAsk returns the best ask price, if any resting ask exists.
func (b *NLevelOrderBook) BestAsk() (decimal.Price, bool) {
	if b.bestAskTick < 0 {
		return decimal.Price{}, false
	}
	return decimal.FromRaw[decimal.PriceTag](b.tickSize.Raw() * b.bestAskTick), true
}

// BidAtPrice returns the resting quantity at price on the bid side, or
// zero if price falls outside the current window.
func (b *NLevelOrderBook) BidAtPrice(p decimal.Price) decimal.Quantity {
	i := b.localIndex(p)
	if i >= b.maxLevels {
		return decimal.Quantity{}
	}
	return b.bids[i]
}

// AskAtPrice is the ask-side counterpart of BidAtPrice.
func (b *NLevelOrderBook) AskAtPrice(p decimal.Price) decimal.Quantity {
	i := b.localIndex(p)
	if i >= b.maxLevels {
		return decimal.Quantity{}
	}
	return b.asks[i]
}

// ApplyBookUpdate applies a snapshot (which first clears the book,
// reanchoring the window around the update's price span) or an
// incremental delta (which mutates levels in place).
func (b *NLevelOrderBook) ApplyBookUpdate(update market.BookUpdate) {
	if update.Type == market.BookUpdateSnapshot {
		var minIdx, maxIdx int64 = math.MaxInt64, math.MinInt64
		accumulate := func(levels []market.BookLevel) {
			for _, lvl := range levels {
				t := b.ticks(lvl.Price)
				if t < minIdx {
					minIdx = t
				}
				if t > maxIdx {
					maxIdx = t
				}
			}
		}
		accumulate(update.Bids)
		accumulate(update.Asks)

		if minIdx == math.MaxInt64 {
			b.Clear()
		} else {
			b.reanchor(minIdx, maxIdx)
		}

		for i := range b.bids {
			b.bids[i] = decimal.Quantity{}
		}
		for i := range b.asks {
			b.asks[i] = decimal.Quantity{}
		}
		b.minBid, b.maxBid = b.maxLevels, 0
		b.minAsk, b.maxAsk = b.maxLevels, 0
		b.bestBidIdx, b.bestAskIdx = b.maxLevels, b.maxLevels
		b.bestBidTick, b.bestAskTick = -1, -1
	}

	for _, lvl := range update.Bids {
		b.applyBidLevel(lvl)
	}
	for _, lvl := range update.Asks {
		b.applyAskLevel(lvl)
	}
}

func (b *NLevelOrderBook) applyBidLevel(lvl market.BookLevel) {
	i := b.localIndex(lvl.Price)
	if i >= b.maxLevels {
		return
	}
	had := !b.bids[i].IsZero()
	if b.bids[i].Raw() == lvl.Quantity.Raw() {
		return
	}
	b.bids[i] = lvl.Quantity

	if !lvl.Quantity.IsZero() {
		if i < b.minBid {
			b.minBid = i
		}
		if i > b.maxBid {
			b.maxBid = i
		}
		if b.bestBidIdx >= b.maxLevels || i > b.bestBidIdx {
			b.bestBidIdx = i
			b.bestBidTick = b.baseIndex + int64(i)
		}
		return
	}
	if !had {
		return
	}
	if i == b.bestBidIdx {
		b.bestBidIdx = b.prevNonZeroBid(i)
		if b.bestBidIdx < b.maxLevels {
			b.bestBidTick = b.baseIndex + int64(b.bestBidIdx)
		} else {
			b.bestBidTick = -1
		}
	}
	if i == b.minBid {
		b.minBid = b.nextNonZeroBid(b.minBid)
	}
	if i == b.maxBid {
		b.maxBid = b.prevNonZeroBid(b.maxBid)
	}
}

func (b *NLevelOrderBook) applyAskLevel(lvl market.BookLevel) {
	i := b.localIndex(lvl.Price)
	if i >= b.maxLevels {
		return
	}
	had := !b.asks[i].IsZero()
	if b.asks[i].Raw() == lvl.Quantity.Raw() {
		return
	}
	b.asks[i] = lvl.Quantity

	if !lvl.Quantity.IsZero() {
		if i < b.minAsk {
			b.minAsk = i
		}
		if i > b.maxAsk {
			b.maxAsk = i
		}
		if b.bestAskIdx >= b.maxLevels || i < b.bestAskIdx {
			b.bestAskIdx = i
			b.bestAskTick = b.baseIndex + int64(i)
		}
		return
	}
	if !had {
		return
	}
	if i == b.bestAskIdx {
		b.bestAskIdx = b.nextNonZeroAsk(i)
		if b.bestAskIdx < b.maxLevels {
			b.bestAskTick = b.baseIndex + int64(b.bestAskIdx)
		} else {
			b.bestAskTick = -1
		}
	}
	if i == b.minAsk {
		b.minAsk = b.nextNonZeroAsk(b.minAsk)
	}
	if i == b.maxAsk {
		b.maxAsk = b.prevNonZeroAsk(b.maxAsk)
	}
}

// ConsumeAsks walks the ask side from best upward, returning the
// quantity and notional filled by a market order asking for needQty.
func (b *NLevelOrderBook) ConsumeAsks(needQty float64) (filled, notional float64) {
	if b.bestAskIdx >= b.maxLevels {
		return 0, 0
	}
	rem := needQty
	ts := b.tickSize.ToDouble()
	px := ts * float64(b.baseIndex+int64(b.bestAskIdx))
	for i := b.bestAskIdx; i <= b.maxAsk && rem > epsQty; i, px = i+1, px+ts {
		q := b.asks[i].ToDouble()
		if q <= 0 {
			continue
		}
		take := math.Min(q, rem)
		notional += take * px
		rem -= take
	}
	return needQty - rem, notional
}

// ConsumeBids walks the bid side from best downward.
func (b *NLevelOrderBook) ConsumeBids(needQty float64) (filled, notional float64) {
	if b.bestBidIdx >= b.maxLevels {
		return 0, 0
	}
	rem := needQty
	ts := b.tickSize.ToDouble()
	i := b.bestBidIdx
	lo := b.minBid
	px := ts * float64(b.baseIndex+int64(i))
	for {
		if rem <= epsQty {
			break
		}
		q := b.bids[i].ToDouble()
		if q > 0 {
			take := math.Min(q, rem)
			notional += take * px
			rem -= take
		}
		if i == lo {
			break
		}
		i--
		px -= ts
	}
	return needQty - rem, notional
}

const epsQty = 1e-9

func (b *NLevelOrderBook) reanchor(minIdx, maxIdx int64) {
	span := maxIdx - minIdx + 1
	curLo := b.baseIndex
	curHi := b.baseIndex + int64(b.maxLevels) - 1
	if curLo+reanchorHysteresisTicks <= minIdx && maxIdx <= curHi-reanchorHysteresisTicks {
		return
	}
	if span >= int64(b.maxLevels) {
		b.baseIndex = minIdx
		return
	}
	mid := (minIdx + maxIdx) / 2
	b.baseIndex = mid - int64(b.maxLevels/2)
}

func (b *NLevelOrderBook) nextNonZeroAsk(from int) int {
	for i := from; i < b.maxLevels; i++ {
		if !b.asks[i].IsZero() {
			return i
		}
	}
	return b.maxLevels
}

func (b *NLevelOrderBook) prevNonZeroAsk(from int) int {
	for i := from; i >= 0; i-- {
		if !b.asks[i].IsZero() {
			return i
		}
	}
	return b.maxLevels
}

func (b *NLevelOrderBook) prevNonZeroBid(from int) int {
	for i := from; i >= 0; i-- {
		if !b.bids[i].IsZero() {
			return i
		}
	}
	return b.maxLevels
}

func (b *NLevelOrderBook) nextNonZeroBid(from int) int {
	for i := from; i < b.maxLevels; i++ {
		if !b.bids[i].IsZero() {
			return i
		}
	}
	return b.maxLevels
}

// divRoundNearest divides a by b and rounds the quotient to the nearest
// integer, half away from zero, matching the tick-index computation the
// book uses to map a raw price onto its tick.
func divRoundNearest(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	neg := (a < 0) != (b < 0)
	ua, ub := a, b
	if ua < 0 {
		ua = -ua
	}
	if ub < 0 {
		ub = -ub
	}
	q := (ua + ub/2) / ub
	if neg {
		return -q
	}
	return q
}

// DebugString renders up to depth levels on each side as a two-column
// table, a debugging aid with no role in the hot update/query path.
func (b *NLevelOrderBook) DebugString(depth int) string {
	var sb strings.Builder
	bestBid, hasBid := b.BestBid()
	bestAsk, hasAsk := b.BestAsk()
	fmt.Fprintf(&sb, "tick=%s base=%d", b.tickSize.String(), b.baseIndex)
	if hasBid && hasAsk {
		fmt.Fprintf(&sb, " spread=%s mid=%s",
			bestAsk.Sub(bestBid).String(),
			decimal.FromRaw[decimal.PriceTag]((bestAsk.Raw()+bestBid.Raw())/2).String())
	}
	sb.WriteString("\n")

	if aIdx, ok := b.BestAskIndex(); ok {
		n := 0
		for i := aIdx; i <= b.maxAsk && i < b.maxLevels && n < depth; i++ {
			if b.asks[i].IsZero() {
				continue
			}
			fmt.Fprintf(&sb, "  ASK %s x %s\n", b.indexToPrice(i).String(), b.asks[i].String())
			n++
		}
	}
	if bIdx, ok := b.BestBidIndex(); ok {
		n := 0
		for i := bIdx; i >= b.minBid && n < depth; i-- {
			if !b.bids[i].IsZero() {
				fmt.Fprintf(&sb, "  BID %s x %s\n", b.indexToPrice(i).String(), b.bids[i].String())
				n++
			}
			if i == 0 {
				break
			}
		}
	}
	return sb.String()
}
