package book

import "github.com/rishav/floxcore/internal/decimal"

// Side distinguishes which side of the book a BookSide ring holds.
// Distinct from market.Side because a bid/ask designation is a book
// concept, not a trade direction.
type Side int8

const (
	SideBid Side = iota
	SideAsk
)

// BookSide is a fixed-size ring buffer of resting quantities, indexed
// by a logical tick position that is mapped onto a rotating physical
// slot via offset. Shift moves the window without touching quantities
// that remain in view, so streaming updates never reallocate.
type BookSide struct {
	qty        []decimal.Quantity
	offset     int
	windowSize int
	side       Side

	bestIndex    int
	bestIndexSet bool
}

// NewBookSide constructs an empty ring of windowSize levels.
func NewBookSide(windowSize int, side Side) *BookSide {
	return &BookSide{
		qty:        make([]decimal.Quantity, windowSize),
		windowSize: windowSize,
		side:       side,
	}
}

func (s *BookSide) ring(index int) int {
	return (index + s.offset) % s.windowSize
}

// SetLevel writes qty at the logical index, updating the cached best
// index in place when possible and invalidating it when the level that
// held the cached best goes to zero.
func (s *BookSide) SetLevel(index int, qty decimal.Quantity) {
	s.qty[s.ring(index)] = qty

	if !qty.IsZero() {
		switch {
		case !s.bestIndexSet:
			s.bestIndex, s.bestIndexSet = index, true
		case s.side == SideBid && index > s.bestIndex:
			s.bestIndex = index
		case s.side == SideAsk && index < s.bestIndex:
			s.bestIndex = index
		}
		return
	}
	if s.bestIndexSet && index == s.bestIndex {
		s.bestIndexSet = false
	}
}

// GetLevel returns the quantity resting at the logical index.
func (s *BookSide) GetLevel(index int) decimal.Quantity {
	return s.qty[s.ring(index)]
}

// Shift moves the window by levels logical positions, clearing
// everything if the shift is at least the window size (nothing in the
// old view could still be relevant).
func (s *BookSide) Shift(levels int) {
	abs := levels
	if abs < 0 {
		abs = -abs
	}
	if abs >= s.windowSize {
		s.Clear()
		s.offset = 0
		return
	}
	s.offset = ((s.offset+levels)%s.windowSize + s.windowSize) % s.windowSize
	s.bestIndexSet = false
}

// Clear zeroes every level and invalidates the best-index cache.
func (s *BookSide) Clear() {
	for i := range s.qty {
		s.qty[i] = decimal.Quantity{}
	}
	s.bestIndexSet = false
}

// FindBest returns the best logical index, re-scanning the ring if the
// cache was invalidated.
func (s *BookSide) FindBest() (int, bool) {
	if s.bestIndexSet {
		return s.bestIndex, true
	}
	if s.side == SideBid {
		for i := s.windowSize - 1; i >= 0; i-- {
			if !s.qty[s.ring(i)].IsZero() {
				return i, true
			}
		}
		return 0, false
	}
	for i := 0; i < s.windowSize; i++ {
		if !s.qty[s.ring(i)].IsZero() {
			return i, true
		}
	}
	return 0, false
}
