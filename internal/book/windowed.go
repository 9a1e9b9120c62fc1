package book

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rishav/floxcore/internal/decimal"
	"github.com/rishav/floxcore/internal/market"
)

// WindowedOrderBook tracks a ring of levels centered on the book's
// recent price, sized once from an expected price deviation rather than
// from a level count. It re-centers (shifting the ring, not
// reallocating it) whenever an incoming update falls outside the
// current window. Safe for concurrent readers/writer, matching the
// teacher's shared-state types that guard mutable fields with a mutex
// rather than relying on single-writer discipline.
type WindowedOrderBook struct {
	mu sync.Mutex

	tickSize       decimal.Price
	invTickSize    float64
	windowSize     int
	halfWindowSize int

	centerPrice decimal.Price
	basePrice   decimal.Price

	bids *BookSide
	asks *BookSide
}

// NewWindowedOrderBook sizes the window to ceil(2*expectedDeviation /
// tickSize) levels.
func NewWindowedOrderBook(tickSize, expectedDeviation decimal.Price) *WindowedOrderBook {
	windowSize := int(math.Ceil((expectedDeviation.ToDouble() * 2) / tickSize.ToDouble()))
	if windowSize < 1 {
		windowSize = 1
	}
	return &WindowedOrderBook{
		tickSize:       tickSize,
		invTickSize:    1.0 / tickSize.ToDouble(),
		windowSize:     windowSize,
		halfWindowSize: windowSize / 2,
		bids:           NewBookSide(windowSize, SideBid),
		asks:           NewBookSide(windowSize, SideAsk),
	}
}

// ApplyBookUpdate applies a snapshot or incremental delta. A snapshot
// (or the first update the book sees) always re-centers the window on
// the update's price range first; a delta re-centers only if a touched
// price falls outside the current window.
func (w *WindowedOrderBook) ApplyBookUpdate(update market.BookUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	minPrice := decimal.FromRaw[decimal.PriceTag](math.MaxInt64)
	maxPrice := decimal.FromRaw[decimal.PriceTag](math.MinInt64)
	scan := func(levels []market.BookLevel) {
		for _, lvl := range levels {
			if lvl.Price.Less(minPrice) {
				minPrice = lvl.Price
			}
			if lvl.Price.Greater(maxPrice) {
				maxPrice = lvl.Price
			}
		}
	}
	scan(update.Bids)
	scan(update.Asks)

	if w.centerPrice.Raw() == 0 || update.Type == market.BookUpdateSnapshot {
		if minPrice.Raw() <= maxPrice.Raw() {
			w.shiftWindow(decimal.FromRaw[decimal.PriceTag]((minPrice.Raw() + maxPrice.Raw()) / 2))
		}
	} else {
		needsShift := false
		for _, lvl := range update.Bids {
			if !w.isPriceInWindow(lvl.Price) {
				needsShift = true
				break
			}
		}
		if !needsShift {
			for _, lvl := range update.Asks {
				if !w.isPriceInWindow(lvl.Price) {
					needsShift = true
					break
				}
			}
		}
		if needsShift && minPrice.Raw() <= maxPrice.Raw() {
			w.shiftWindow(decimal.FromRaw[decimal.PriceTag]((minPrice.Raw() + maxPrice.Raw()) / 2))
		}
	}

	if update.Type == market.BookUpdateSnapshot {
		bidsTouched := make([]bool, w.windowSize)
		for _, lvl := range update.Bids {
			if idx, ok := w.windowIndex(lvl.Price); ok {
				bidsTouched[idx] = true
				w.bids.SetLevel(idx, lvl.Quantity)
			}
		}
		for i, touched := range bidsTouched {
			if !touched {
				w.bids.SetLevel(i, decimal.Quantity{})
			}
		}

		asksTouched := make([]bool, w.windowSize)
		for _, lvl := range update.Asks {
			if idx, ok := w.windowIndex(lvl.Price); ok {
				asksTouched[idx] = true
				w.asks.SetLevel(idx, lvl.Quantity)
			}
		}
		for i, touched := range asksTouched {
			if !touched {
				w.asks.SetLevel(i, decimal.Quantity{})
			}
		}
		return
	}

	for _, lvl := range update.Bids {
		if idx, ok := w.windowIndex(lvl.Price); ok {
			w.bids.SetLevel(idx, lvl.Quantity)
		}
	}
	for _, lvl := range update.Asks {
		if idx, ok := w.windowIndex(lvl.Price); ok {
			w.asks.SetLevel(idx, lvl.Quantity)
		}
	}
}

func (w *WindowedOrderBook) windowIndex(p decimal.Price) (int, bool) {
	offset := p.Raw() - w.basePrice.Raw()
	if offset < 0 || offset >= w.tickSize.Raw()*int64(w.windowSize) {
		return 0, false
	}
	return int(offset / w.tickSize.Raw()), true
}

func (w *WindowedOrderBook) isPriceInWindow(p decimal.Price) bool {
	_, ok := w.windowIndex(p)
	return ok
}

func (w *WindowedOrderBook) priceToIndex(p decimal.Price) int {
	return int((p.Raw() - w.basePrice.Raw()) / w.tickSize.Raw())
}

func (w *WindowedOrderBook) indexToPrice(index int) decimal.Price {
	return decimal.FromRaw[decimal.PriceTag](w.basePrice.Raw() + int64(index)*w.tickSize.Raw())
}

func (w *WindowedOrderBook) shiftWindow(newCenter decimal.Price) {
	newBaseRaw := int64(math.Round((newCenter.ToDouble()-w.tickSize.ToDouble()*float64(w.halfWindowSize))*w.invTickSize)) * w.tickSize.Raw()
	shift := int(math.Round(float64(newBaseRaw-w.basePrice.Raw()) / float64(w.tickSize.Raw())))

	abs := shift
	if abs < 0 {
		abs = -abs
	}
	if w.centerPrice.Raw() == 0 || abs >= w.windowSize {
		w.bids.Clear()
		w.asks.Clear()
	} else if shift != 0 {
		w.bids.Shift(shift)
		w.asks.Shift(shift)
	}

	w.basePrice = decimal.FromRaw[decimal.PriceTag](newBaseRaw)
	w.centerPrice = newCenter
}

// BidAtPrice returns the resting bid quantity at price, or zero if out
// of window.
func (w *WindowedOrderBook) BidAtPrice(p decimal.Price) decimal.Quantity {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isPriceInWindow(p) {
		return decimal.Quantity{}
	}
	return w.bids.GetLevel(w.priceToIndex(p))
}

// AskAtPrice is the ask-side counterpart of BidAtPrice.
func (w *WindowedOrderBook) AskAtPrice(p decimal.Price) decimal.Quantity {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isPriceInWindow(p) {
		return decimal.Quantity{}
	}
	return w.asks.GetLevel(w.priceToIndex(p))
}

// BestBid returns the best bid price in the window, if any.
func (w *WindowedOrderBook) BestBid() (decimal.Price, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx, ok := w.bids.FindBest()
	if !ok {
		return decimal.Price{}, false
	}
	return w.indexToPrice(idx), true
}

// BestAsk returns the best ask price in the window, if any.
func (w *WindowedOrderBook) BestAsk() (decimal.Price, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	idx, ok := w.asks.FindBest()
	if !ok {
		return decimal.Price{}, false
	}
	return w.indexToPrice(idx), true
}

// CenterPrice returns the price the window is currently anchored around.
func (w *WindowedOrderBook) CenterPrice() decimal.Price {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.centerPrice
}

// DebugString renders the full window as a human-readable snapshot.
func (w *WindowedOrderBook) DebugString() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "=== WindowedOrderBook Snapshot (center=%s) ===\n", w.centerPrice.String())
	sb.WriteString(" Asks (price x qty):\n")
	for i := w.windowSize - 1; i >= 0; i-- {
		lvl := w.asks.GetLevel(i)
		if lvl.Raw() > 0 {
			fmt.Fprintf(&sb, "  %s x %s\n", w.indexToPrice(i).String(), lvl.String())
		}
	}
	sb.WriteString(" Bids (price x qty):\n")
	for i := 0; i < w.windowSize; i++ {
		lvl := w.bids.GetLevel(i)
		if lvl.Raw() > 0 {
			fmt.Fprintf(&sb, "  %s x %s\n", w.indexToPrice(i).String(), lvl.String())
		}
	}
	sb.WriteString("=============================================\n")
	return sb.String()
}
