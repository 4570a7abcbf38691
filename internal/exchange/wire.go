package exchange

import (
	"time"

	"github.com/oskarw/simtrader/internal/domain"
)

// Message type tags used by the simulator protocol.
const (
	msgConnected     = "CONNECTED"
	msgSnapshot      = "SNAPSHOT"
	msgMarketData    = "MARKET_DATA"
	msgAuthenticated = "AUTHENTICATED"
	msgFill          = "FILL"
	msgError         = "ERROR"
	msgNewOrder      = "NEW_ORDER"
	msgCancelOrder   = "CANCEL_ORDER"
	actionDone       = "DONE"
)

// envelope is the minimal frame wrapper used to route inbound messages.
type envelope struct {
	Type string `json:"type"`
}

// registrationResponse is the body of a successful registration call.
type registrationResponse struct {
	Token string `json:"token"`
	RunID string `json:"run_id"`
}

// wireLevel is one price level as the simulator encodes it.
type wireLevel struct {
	Price float64 `json:"price"`
	Qty   int64   `json:"qty"`
}

// marketMessage covers both SNAPSHOT and MARKET_DATA frames; the two are
// structurally identical. Some server builds send only the flattened
// bid/ask fields, so those are decoded as a fallback for the level arrays.
type marketMessage struct {
	Type      string      `json:"type"`
	Step      int64       `json:"step"`
	Bids      []wireLevel `json:"bids"`
	Asks      []wireLevel `json:"asks"`
	LastTrade float64     `json:"last_trade"`
	Bid       float64     `json:"bid"`
	Ask       float64     `json:"ask"`
}

// toSnapshot converts a decoded market frame into the domain snapshot,
// resolving best levels from the arrays with the flattened fields as
// fallback.
func (m *marketMessage) toSnapshot(at time.Time) domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		Step:      m.Step,
		LastTrade: m.LastTrade,
		BestBid:   m.Bid,
		BestAsk:   m.Ask,
		At:        at,
	}

	if len(m.Bids) > 0 {
		snap.Bids = make([]domain.PriceLevel, len(m.Bids))
		for i, l := range m.Bids {
			snap.Bids[i] = domain.PriceLevel{Price: l.Price, Qty: l.Qty}
		}
		snap.BestBid = m.Bids[0].Price
	}
	if len(m.Asks) > 0 {
		snap.Asks = make([]domain.PriceLevel, len(m.Asks))
		for i, l := range m.Asks {
			snap.Asks[i] = domain.PriceLevel{Price: l.Price, Qty: l.Qty}
		}
		snap.BestAsk = m.Asks[0].Price
	}

	return snap
}

// newOrderMessage is the outbound order placement frame.
type newOrderMessage struct {
	Type    string  `json:"type"`
	OrderID string  `json:"order_id"`
	Ticker  string  `json:"ticker"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Qty     int64   `json:"qty"`
}

// cancelOrderMessage is the outbound cancellation frame.
type cancelOrderMessage struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
}

// doneMessage is the step-advance signal. Unlike the order frames it is
// keyed by "action"; the simulator treats it as a session-level signal.
type doneMessage struct {
	Action string `json:"action"`
}

// fillMessage is the inbound fill confirmation frame.
type fillMessage struct {
	OrderID string  `json:"order_id"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Qty     int64   `json:"qty"`
}

// errorMessage is the inbound server-reported error frame.
type errorMessage struct {
	Message string `json:"message"`
}
