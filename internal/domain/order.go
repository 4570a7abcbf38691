package domain

import "time"

// Side indicates whether an order buys or sells. Values match the wire
// protocol verbatim.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderState tracks the order lifecycle as this session observes it.
type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderFilled    OrderState = "FILLED"
	OrderCancelled OrderState = "CANCELLED"
	OrderErrored   OrderState = "ERRORED"
)

// OrderIntent is a strategy decision: place this order on the current tick.
// It is consumed immediately into an OrderRecord on dispatch.
type OrderIntent struct {
	Side  Side
	Price float64
	Qty   int64
}

// OrderRecord is the session's record of one sent order. FilledQty
// accumulates across fills; State moves to FILLED once it reaches Qty.
// A record with no matching server response stays PENDING forever; there
// is no order timeout.
type OrderRecord struct {
	OrderID   string     `json:"order_id"`
	Ticker    string     `json:"ticker"`
	Side      Side       `json:"side"`
	Price     float64    `json:"price"`
	Qty       int64      `json:"qty"`
	FilledQty int64      `json:"filled_qty"`
	SentAt    time.Time  `json:"sent_at"`
	State     OrderState `json:"state"`
}

// Fill is a confirmation that a previously sent order matched for some
// quantity at some price. At is the local receive timestamp used for
// fill-latency correlation.
type Fill struct {
	OrderID string
	Side    Side
	Price   float64
	Qty     int64
	At      time.Time
}
