// Package telemetry exposes the session's operational metrics through a
// private Prometheus registry served by the status server.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oskarw/simtrader/internal/domain"
)

const namespace = "simtrader"

// Channel label values for the channel state gauge.
const (
	ChannelMarket = "market"
	ChannelOrders = "orders"
)

// Metrics holds all collectors for one session. Everything registers on a
// private registry so tests and embedded use never collide with the global
// default.
type Metrics struct {
	registry *prometheus.Registry

	stepLatency  prometheus.Histogram
	fillLatency  prometheus.Histogram
	snapshots    prometheus.Counter
	suppressed   prometheus.Counter
	ordersSent   prometheus.Counter
	fills        prometheus.Counter
	anomalies    prometheus.Counter
	decodeErrors prometheus.Counter
	serverErrors prometheus.Counter

	inventory  prometheus.Gauge
	cashFlow   prometheus.Gauge
	pnl        prometheus.Gauge
	lastMid    prometheus.Gauge
	step       prometheus.Gauge
	openOrders prometheus.Gauge

	channelState *prometheus.GaugeVec
}

// New constructs and registers all session collectors.
func New() *Metrics {
	latencyBuckets := []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		stepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_latency_milliseconds",
			Help:      "Interval between a DONE send and the next tick arrival.",
			Buckets:   latencyBuckets,
		}),
		fillLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fill_latency_milliseconds",
			Help:      "Interval between an order send and its first fill.",
			Buckets:   latencyBuckets,
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Market snapshots received.",
		}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_suppressed_total",
			Help:      "Snapshots dropped as structural duplicates.",
		}),
		ordersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_sent_total",
			Help:      "Orders written to the order channel.",
		}),
		fills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fill confirmations received.",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_anomalies_total",
			Help:      "Fills that did not correlate with a tracked order.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Malformed channel messages dropped.",
		}),
		serverErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "ERROR messages reported by the exchange.",
		}),

		inventory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inventory",
			Help:      "Signed net position from confirmed fills.",
		}),
		cashFlow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cash_flow",
			Help:      "Realized signed cash flow.",
		}),
		pnl: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mark_to_market_pnl",
			Help:      "Cash flow plus inventory valued at the last mid.",
		}),
		lastMid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_mid",
			Help:      "Most recent non-zero mid price.",
		}),
		step: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step",
			Help:      "Latest simulation step observed.",
		}),
		openOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_orders",
			Help:      "Tracked orders still pending.",
		}),

		channelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_state",
			Help:      "Channel FSM state: 0 connecting, 1 open, 2 closed, 3 failed.",
		}, []string{"channel"}),
	}

	m.registry.MustRegister(
		m.stepLatency, m.fillLatency,
		m.snapshots, m.suppressed, m.ordersSent, m.fills,
		m.anomalies, m.decodeErrors, m.serverErrors,
		m.inventory, m.cashFlow, m.pnl, m.lastMid, m.step, m.openOrders,
		m.channelState,
	)
	return m
}

// Handler serves the private registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveLatency routes one latency sample to its histogram.
func (m *Metrics) ObserveLatency(s domain.LatencySample) {
	switch s.Kind {
	case domain.LatencyStep:
		m.stepLatency.Observe(s.Milliseconds())
	case domain.LatencyFill:
		m.fillLatency.Observe(s.Milliseconds())
	}
}

func (m *Metrics) IncSnapshots()    { m.snapshots.Inc() }
func (m *Metrics) IncSuppressed()   { m.suppressed.Inc() }
func (m *Metrics) IncOrders()       { m.ordersSent.Inc() }
func (m *Metrics) IncFills()        { m.fills.Inc() }
func (m *Metrics) IncAnomalies()    { m.anomalies.Inc() }
func (m *Metrics) IncDecodeErrors() { m.decodeErrors.Inc() }
func (m *Metrics) IncServerErrors() { m.serverErrors.Inc() }

// SetAccount mirrors the ledger snapshot onto the account gauges.
func (m *Metrics) SetAccount(s domain.AccountState) {
	m.inventory.Set(float64(s.Inventory))
	m.cashFlow.Set(s.CashFlow)
	m.pnl.Set(s.PnL)
	m.lastMid.Set(s.LastMid)
	m.step.Set(float64(s.Step))
	m.openOrders.Set(float64(s.OpenOrders))
}

// SetChannelState records a channel FSM transition.
func (m *Metrics) SetChannelState(channel string, state float64) {
	m.channelState.WithLabelValues(channel).Set(state)
}
