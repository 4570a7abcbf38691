// Package ledger tracks the session's trading account: inventory, cash
// flow, mark-to-market P&L, per-order records, and the pending-send table
// used to correlate fills back to their send timestamps. A single mutex
// serializes updates from the market listener, the order listener, and the
// decision path.
package ledger

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oskarw/simtrader/internal/domain"
)

// Ledger is the single owner of account state. Inventory and cash flow
// change only on confirmed fills; sent intents never move the account.
type Ledger struct {
	logger  *slog.Logger
	latency *Recorder

	mu         sync.Mutex
	step       int64
	inventory  int64
	cashFlow   decimal.Decimal
	lastMid    decimal.Decimal
	ordersSent int64
	fillCount  int64
	anomalies  int64

	orders  map[string]*domain.OrderRecord
	pending map[string]time.Time
}

// New returns an empty ledger recording fill latencies into rec.
func New(logger *slog.Logger, rec *Recorder) *Ledger {
	return &Ledger{
		logger:  logger.With(slog.String("component", "ledger")),
		latency: rec,
		orders:  make(map[string]*domain.OrderRecord),
		pending: make(map[string]time.Time),
	}
}

// TrackOrder registers a freshly sent order and its send timestamp for
// fill-latency correlation.
func (l *Ledger) TrackOrder(rec domain.OrderRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.State == "" {
		rec.State = domain.OrderPending
	}
	l.orders[rec.OrderID] = &rec
	l.pending[rec.OrderID] = rec.SentAt
	l.ordersSent++
}

// ApplyFill applies one fill confirmation. Inventory and cash flow derive
// from the fill payload itself and are applied even when the order_id does
// not correlate; in that case the pending table is left untouched and the
// fill is counted as an anomaly. Returns the post-fill account state and
// whether the fill matched a tracked order.
func (l *Ledger) ApplyFill(f domain.Fill) (domain.AccountState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	notional := decimal.NewFromFloat(f.Price).Mul(decimal.NewFromInt(f.Qty))
	switch f.Side {
	case domain.SideBuy:
		l.inventory += f.Qty
		l.cashFlow = l.cashFlow.Sub(notional)
	case domain.SideSell:
		l.inventory -= f.Qty
		l.cashFlow = l.cashFlow.Add(notional)
	}
	l.fillCount++

	rec, matched := l.orders[f.OrderID]
	if !matched {
		l.anomalies++
		l.logger.Warn("fill for untracked order",
			slog.String("order_id", f.OrderID),
			slog.String("side", string(f.Side)),
			slog.Float64("price", f.Price),
			slog.Int64("qty", f.Qty),
		)
		return l.accountLocked(), false
	}

	rec.FilledQty += f.Qty
	if rec.FilledQty >= rec.Qty {
		rec.State = domain.OrderFilled
	}
	if sentAt, ok := l.pending[f.OrderID]; ok {
		delete(l.pending, f.OrderID)
		l.latency.Record(domain.LatencySample{
			Kind:  domain.LatencyFill,
			Delta: f.At.Sub(sentAt),
			At:    f.At,
		})
	}

	return l.accountLocked(), true
}

// ObserveMid records the latest step and mid price for mark-to-market. A
// zero mid means the book carried no price information and keeps the
// previous mark.
func (l *Ledger) ObserveMid(step int64, mid float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.step = step
	if mid != 0 {
		l.lastMid = decimal.NewFromFloat(mid)
	}
}

// MarkCancelled records a locally requested cancellation. The server sends
// no confirmation; a fill racing the cancel still applies normally.
func (l *Ledger) MarkCancelled(orderID string) bool {
	return l.markClosed(orderID, domain.OrderCancelled)
}

// MarkErrored records an order whose transport write failed.
func (l *Ledger) MarkErrored(orderID string) bool {
	return l.markClosed(orderID, domain.OrderErrored)
}

func (l *Ledger) markClosed(orderID string, state domain.OrderState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.orders[orderID]
	if !ok || rec.State != domain.OrderPending {
		return false
	}
	rec.State = state
	delete(l.pending, orderID)
	return true
}

// Account returns a consistent point-in-time view of the account.
func (l *Ledger) Account() domain.AccountState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accountLocked()
}

func (l *Ledger) accountLocked() domain.AccountState {
	open := 0
	for _, rec := range l.orders {
		if rec.State == domain.OrderPending {
			open++
		}
	}

	cash, _ := l.cashFlow.Float64()
	mid, _ := l.lastMid.Float64()
	pnl, _ := l.cashFlow.Add(l.lastMid.Mul(decimal.NewFromInt(l.inventory))).Float64()

	return domain.AccountState{
		Step:       l.step,
		Inventory:  l.inventory,
		CashFlow:   cash,
		PnL:        pnl,
		LastMid:    mid,
		OrdersSent: l.ordersSent,
		OpenOrders: open,
		Fills:      l.fillCount,
		Anomalies:  l.anomalies,
	}
}

// Orders returns copies of all tracked order records, oldest first.
func (l *Ledger) Orders() []domain.OrderRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.OrderRecord, 0, len(l.orders))
	for _, rec := range l.orders {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}

// Summary is the end-of-session account report.
type Summary struct {
	Account     domain.AccountState `json:"account"`
	StepLatency domain.LatencyStats `json:"step_latency"`
	FillLatency domain.LatencyStats `json:"fill_latency"`
}

// Summary returns the account together with latency statistics.
func (l *Ledger) Summary() Summary {
	return Summary{
		Account:     l.Account(),
		StepLatency: l.latency.Stats(domain.LatencyStep),
		FillLatency: l.latency.Stats(domain.LatencyFill),
	}
}
