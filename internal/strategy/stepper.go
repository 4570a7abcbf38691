package strategy

import (
	"math"
	"sync"

	"github.com/oskarw/simtrader/internal/domain"
)

// Stepper default parameters.
const (
	defaultInterval     = 50
	defaultQty          = 100
	defaultMaxInventory = 200
)

// Stepper trades on a fixed step cadence: every interval steps it places
// one order, alternating BUY and SELL while inventory stays inside the
// band, and forcing the reverting side once the band edge is reached. BUYs
// lift the ask, SELLs hit the bid; the needed side being empty skips the
// tick. Prices are rounded to two decimals.
type Stepper struct {
	interval int64
	qty      int64
	maxInv   int64

	mu       sync.Mutex
	lastStep int64
	lastSide domain.Side
}

// NewStepper returns a stepper with the given cadence, order size, and
// inventory band. Non-positive values fall back to the defaults.
func NewStepper(interval, qty, maxInventory int64) *Stepper {
	if interval <= 0 {
		interval = defaultInterval
	}
	if qty <= 0 {
		qty = defaultQty
	}
	if maxInventory <= 0 {
		maxInventory = defaultMaxInventory
	}
	return &Stepper{interval: interval, qty: qty, maxInv: maxInventory}
}

// Decide implements Strategy.
func (s *Stepper) Decide(q domain.Quote, acct domain.AccountState) *domain.OrderIntent {
	if q.Step == 0 || q.Step%s.interval != 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Duplicate deliveries of the same step must not double-trade.
	if q.Step == s.lastStep {
		return nil
	}

	var side domain.Side
	switch {
	case acct.Inventory >= s.maxInv:
		side = domain.SideSell
	case acct.Inventory <= -s.maxInv:
		side = domain.SideBuy
	case s.lastSide == domain.SideBuy:
		side = domain.SideSell
	default:
		side = domain.SideBuy
	}

	price := q.Ask
	if side == domain.SideSell {
		price = q.Bid
	}
	if price <= 0 {
		return nil
	}

	s.lastStep = q.Step
	s.lastSide = side
	return &domain.OrderIntent{
		Side:  side,
		Price: math.Round(price*100) / 100,
		Qty:   s.qty,
	}
}
