package strategy

import "github.com/oskarw/simtrader/internal/domain"

// Idle never trades. It backs observe mode, where the session watches the
// market and paces steps without placing orders.
type Idle struct{}

// NewIdle returns the no-op strategy.
func NewIdle() Idle {
	return Idle{}
}

// Decide implements Strategy.
func (Idle) Decide(domain.Quote, domain.AccountState) *domain.OrderIntent {
	return nil
}
