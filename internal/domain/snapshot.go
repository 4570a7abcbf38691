package domain

import "time"

// PriceLevel is a single price+quantity entry in the book, best levels first.
type PriceLevel struct {
	Price float64
	Qty   int64
}

// MarketSnapshot is one tick of book state for the run. Step values are
// monotonically non-decreasing but not guaranteed contiguous; consumers must
// track the last step seen, never a step count. BestBid/BestAsk are resolved
// at decode time (top of the level arrays, falling back to the flattened
// fields some server builds send instead).
type MarketSnapshot struct {
	Step      int64
	Bids      []PriceLevel
	Asks      []PriceLevel
	LastTrade float64
	BestBid   float64
	BestAsk   float64
	At        time.Time
}

// Mid returns the midpoint of the best bid and ask. With only one side
// present it returns that side; with an empty book it returns 0.
func (s MarketSnapshot) Mid() float64 {
	switch {
	case s.BestBid > 0 && s.BestAsk > 0:
		return (s.BestBid + s.BestAsk) / 2
	case s.BestBid > 0:
		return s.BestBid
	case s.BestAsk > 0:
		return s.BestAsk
	default:
		return 0
	}
}

// Quote is the strategy-facing view of a processed tick.
type Quote struct {
	Step      int64
	Bid       float64
	Ask       float64
	Mid       float64
	LastTrade float64
}

// QuoteOf derives the strategy-facing quote from a snapshot.
func QuoteOf(s MarketSnapshot) Quote {
	return Quote{
		Step:      s.Step,
		Bid:       s.BestBid,
		Ask:       s.BestAsk,
		Mid:       s.Mid(),
		LastTrade: s.LastTrade,
	}
}
