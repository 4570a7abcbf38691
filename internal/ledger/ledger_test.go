package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oskarw/simtrader/internal/domain"
)

func newTestLedger() (*Ledger, *Recorder) {
	rec := NewRecorder(100, nil)
	return New(testLogger(), rec), rec
}

func TestFillArithmetic(t *testing.T) {
	l, _ := newTestLedger()

	base := time.Now()
	l.TrackOrder(domain.OrderRecord{OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 10.0, Qty: 100, SentAt: base})
	l.TrackOrder(domain.OrderRecord{OrderID: "ORD_team7_2_2", Side: domain.SideSell, Price: 11.0, Qty: 50, SentAt: base})

	state, matched := l.ApplyFill(domain.Fill{OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 10.0, Qty: 100, At: base})
	require.True(t, matched)
	assert.Equal(t, int64(100), state.Inventory)
	assert.Equal(t, -1000.0, state.CashFlow)

	state, matched = l.ApplyFill(domain.Fill{OrderID: "ORD_team7_2_2", Side: domain.SideSell, Price: 11.0, Qty: 50, At: base})
	require.True(t, matched)
	assert.Equal(t, int64(50), state.Inventory)
	assert.Equal(t, -450.0, state.CashFlow)

	l.ObserveMid(3, 11.0)
	state = l.Account()
	assert.Equal(t, 100.0, state.PnL, "cash_flow + inventory*last_mid = -450 + 50*11")
	assert.Equal(t, 11.0, state.LastMid)
	assert.Equal(t, int64(3), state.Step)
	assert.Equal(t, int64(2), state.Fills)
	assert.Equal(t, int64(0), state.Anomalies)
}

func TestFillSignedSums(t *testing.T) {
	l, _ := newTestLedger()

	fills := []domain.Fill{
		{OrderID: "a", Side: domain.SideBuy, Price: 10.25, Qty: 30},
		{OrderID: "b", Side: domain.SideSell, Price: 10.75, Qty: 10},
		{OrderID: "c", Side: domain.SideBuy, Price: 9.5, Qty: 7},
		{OrderID: "d", Side: domain.SideSell, Price: 10.0, Qty: 41},
	}

	var wantInv int64
	var wantCash float64
	for _, f := range fills {
		if f.Side == domain.SideBuy {
			wantInv += f.Qty
			wantCash -= float64(f.Qty) * f.Price
		} else {
			wantInv -= f.Qty
			wantCash += float64(f.Qty) * f.Price
		}
		l.ApplyFill(f)
	}

	state := l.Account()
	assert.Equal(t, wantInv, state.Inventory)
	assert.InDelta(t, wantCash, state.CashFlow, 1e-9)
}

func TestCashFlowAvoidsFloatDrift(t *testing.T) {
	l, _ := newTestLedger()

	// 0.1 has no exact binary representation; naive float accumulation
	// across many fills drifts.
	for i := 0; i < 1000; i++ {
		l.ApplyFill(domain.Fill{OrderID: fmt.Sprintf("x%d", i), Side: domain.SideBuy, Price: 0.1, Qty: 1})
	}
	state := l.Account()
	assert.Equal(t, -100.0, state.CashFlow)
}

func TestUnmatchedFillIsAnomaly(t *testing.T) {
	l, rec := newTestLedger()

	base := time.Now()
	l.TrackOrder(domain.OrderRecord{OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 10.0, Qty: 100, SentAt: base})

	state, matched := l.ApplyFill(domain.Fill{OrderID: "ORD_ghost_9_9", Side: domain.SideBuy, Price: 10.0, Qty: 10, At: base})
	assert.False(t, matched)
	assert.Equal(t, int64(1), state.Anomalies)

	// Inventory and cash derive from the payload and are applied anyway.
	assert.Equal(t, int64(10), state.Inventory)
	assert.Equal(t, -100.0, state.CashFlow)

	// The pending table was not touched: the tracked order still yields a
	// fill-latency sample when its own fill arrives.
	assert.Empty(t, rec.Samples(domain.LatencyFill))
	_, matched = l.ApplyFill(domain.Fill{OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 10.0, Qty: 100, At: base.Add(30 * time.Millisecond)})
	assert.True(t, matched)
	require.Len(t, rec.Samples(domain.LatencyFill), 1)
}

func TestFillLatencyFirstFillOnly(t *testing.T) {
	l, rec := newTestLedger()

	sent := time.Now()
	l.TrackOrder(domain.OrderRecord{OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 10.0, Qty: 100, SentAt: sent})

	l.ApplyFill(domain.Fill{OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 10.0, Qty: 60, At: sent.Add(25 * time.Millisecond)})
	l.ApplyFill(domain.Fill{OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 10.0, Qty: 40, At: sent.Add(90 * time.Millisecond)})

	samples := rec.Samples(domain.LatencyFill)
	require.Len(t, samples, 1, "partial fills after the first must not add samples")
	assert.Equal(t, 25*time.Millisecond, samples[0].Delta)

	state := l.Account()
	assert.Equal(t, int64(100), state.Inventory)
	assert.Equal(t, 0, state.OpenOrders, "fully filled order is no longer open")
}

func TestPartialFillKeepsOrderOpen(t *testing.T) {
	l, _ := newTestLedger()

	l.TrackOrder(domain.OrderRecord{OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 10.0, Qty: 100, SentAt: time.Now()})
	l.ApplyFill(domain.Fill{OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 10.0, Qty: 60, At: time.Now()})

	orders := l.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderPending, orders[0].State)
	assert.Equal(t, int64(60), orders[0].FilledQty)
	assert.Equal(t, 1, l.Account().OpenOrders)
}

func TestMarkCancelledAndErrored(t *testing.T) {
	l, _ := newTestLedger()

	l.TrackOrder(domain.OrderRecord{OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 10.0, Qty: 100, SentAt: time.Now()})
	l.TrackOrder(domain.OrderRecord{OrderID: "ORD_team7_2_2", Side: domain.SideSell, Price: 11.0, Qty: 50, SentAt: time.Now()})

	assert.True(t, l.MarkCancelled("ORD_team7_1_1"))
	assert.True(t, l.MarkErrored("ORD_team7_2_2"))
	assert.False(t, l.MarkCancelled("ORD_team7_1_1"), "already closed")
	assert.False(t, l.MarkErrored("nope"), "unknown order")

	orders := l.Orders()
	require.Len(t, orders, 2)
	states := map[string]domain.OrderState{}
	for _, rec := range orders {
		states[rec.OrderID] = rec.State
	}
	assert.Equal(t, domain.OrderCancelled, states["ORD_team7_1_1"])
	assert.Equal(t, domain.OrderErrored, states["ORD_team7_2_2"])
	assert.Equal(t, 0, l.Account().OpenOrders)
}

func TestZeroMidKeepsPreviousMark(t *testing.T) {
	l, _ := newTestLedger()

	l.ApplyFill(domain.Fill{OrderID: "x", Side: domain.SideBuy, Price: 10.0, Qty: 10})
	l.ObserveMid(1, 10.5)
	l.ObserveMid(2, 0)

	state := l.Account()
	assert.Equal(t, int64(2), state.Step)
	assert.Equal(t, 10.5, state.LastMid, "empty book must not zero the mark")
	assert.InDelta(t, -100.0+10*10.5, state.PnL, 1e-9)
}

func TestSummaryCombinesAccountAndLatency(t *testing.T) {
	l, rec := newTestLedger()

	now := time.Now()
	rec.Record(domain.LatencySample{Kind: domain.LatencyStep, Delta: 40 * time.Millisecond, At: now})
	rec.Record(domain.LatencySample{Kind: domain.LatencyStep, Delta: 60 * time.Millisecond, At: now})
	l.ObserveMid(7, 10.0)

	sum := l.Summary()
	assert.Equal(t, int64(7), sum.Account.Step)
	assert.Equal(t, 2, sum.StepLatency.Count)
	assert.Equal(t, 50.0, sum.StepLatency.MeanMS)
	assert.Equal(t, 0, sum.FillLatency.Count)
}
