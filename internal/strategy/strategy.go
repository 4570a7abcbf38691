// Package strategy contains the pluggable decision hooks that turn market
// quotes into order intents.
package strategy

import "github.com/oskarw/simtrader/internal/domain"

// Strategy decides, for one admitted tick, whether to place an order. The
// runtime calls Decide on the market listener goroutine with a consistent
// account snapshot; returning nil places nothing.
type Strategy interface {
	Decide(q domain.Quote, acct domain.AccountState) *domain.OrderIntent
}
