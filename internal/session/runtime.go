package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oskarw/simtrader/internal/config"
	"github.com/oskarw/simtrader/internal/domain"
	"github.com/oskarw/simtrader/internal/exchange"
	"github.com/oskarw/simtrader/internal/ledger"
	"github.com/oskarw/simtrader/internal/strategy"
	"github.com/oskarw/simtrader/internal/telemetry"
)

// Options bundle the runtime's collaborators. Strategy may be nil for a
// pure observer; Sinks receive every session event.
type Options struct {
	Config   config.Config
	Logger   *slog.Logger
	Strategy strategy.Strategy
	Metrics  *telemetry.Metrics
	Sinks    []domain.EventSink
}

// Runtime owns one exchange run end to end: registration, both channels,
// the tick pipeline, and the session event fan-out. It is fail-stop: a
// transport error on either channel ends the run.
type Runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	strat   strategy.Strategy
	metrics *telemetry.Metrics
	sinks   []domain.EventSink

	ledger    *ledger.Ledger
	latency   *ledger.Recorder
	processor *Processor
	pacer     *Pacer

	mu           sync.Mutex
	sess         domain.Session
	startedAt    time.Time
	seq          int64
	decodeErrors int64
	serverErrors int64
	market       *exchange.MarketChannel
	orders       *exchange.OrderChannel
}

// NewRuntime wires a runtime from its options. Run must be called exactly
// once.
func NewRuntime(opts Options) *Runtime {
	if opts.Metrics == nil {
		opts.Metrics = telemetry.New()
	}
	logger := opts.Logger.With(slog.String("component", "session"))

	r := &Runtime{
		cfg:     opts.Config,
		logger:  logger,
		strat:   opts.Strategy,
		metrics: opts.Metrics,
		sinks:   opts.Sinks,
	}

	r.latency = ledger.NewRecorder(opts.Config.Session.LatencyWindow, opts.Metrics.ObserveLatency)
	r.ledger = ledger.New(opts.Logger, r.latency)
	r.processor = NewProcessor(opts.Config.ProcessMode() == config.ProcessChanged, opts.Config.Session.Depth)
	r.pacer = NewPacer(opts.Config.Session.AutoAdvance, r.latency, r.sendDone, opts.Logger)
	return r
}

// Run registers the session, opens both channels, and blocks until the run
// ends. The order channel is opened first and must authenticate before the
// market channel dials, so no tick can arrive while orders are unusable.
func (r *Runtime) Run(ctx context.Context) error {
	ex := r.cfg.Exchange

	registrar := exchange.NewRegistrar(exchange.RegistrarConfig{
		Options:  r.wsOptions(),
		Scenario: ex.Scenario,
		Name:     ex.Name,
		Password: ex.Password,
		Timeout:  ex.RegisterTimeout.Duration,
	}, r.logger)

	sess, err := registrar.Register(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.sess = sess
	r.startedAt = time.Now()
	r.mu.Unlock()

	r.logger.Info("registered",
		slog.String("run_id", sess.RunID),
		slog.String("scenario", sess.Scenario),
		slog.String("participant", sess.Name),
	)
	r.emit(domain.Event{Kind: domain.EventRegistered})

	orders, err := exchange.DialOrders(ctx, r.wsOptions(), sess.Token, sess.RunID, exchange.OrderHandlers{
		OnFill:        r.handleFill,
		OnServerError: r.handleServerError,
		OnDecodeError: r.handleDecodeError,
	}, r.logger)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.orders = orders
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orders.Listen(gctx) })

	readyTimeout := ex.ReadyTimeout.Duration
	if readyTimeout <= 0 {
		readyTimeout = 10 * time.Second
	}
	select {
	case <-orders.Ready():
	case <-time.After(readyTimeout):
		orders.Close()
		_ = g.Wait()
		return fmt.Errorf("session: order channel: %w", domain.ErrReadyTimeout)
	case <-gctx.Done():
		err := g.Wait()
		r.finish()
		return err
	}

	market, err := exchange.DialMarket(gctx, r.wsOptions(), sess.RunID, exchange.MarketHandlers{
		OnSnapshot:    r.handleSnapshot,
		OnDecodeError: r.handleDecodeError,
	}, r.logger)
	if err != nil {
		orders.Close()
		_ = g.Wait()
		return err
	}
	r.mu.Lock()
	r.market = market
	r.mu.Unlock()

	g.Go(func() error { return market.Listen(gctx) })

	r.updateChannelMetrics()
	r.logger.Info("session running",
		slog.String("mode", r.cfg.Mode),
		slog.String("strategy", r.cfg.Strategy.Name),
		slog.Bool("auto_advance", r.cfg.Session.AutoAdvance),
	)

	err = g.Wait()
	r.finish()
	return err
}

// Status returns a point-in-time view for the HTTP surface.
func (r *Runtime) Status() domain.SessionStatus {
	r.mu.Lock()
	sess := r.sess
	startedAt := r.startedAt
	decodeErrors := r.decodeErrors
	serverErrors := r.serverErrors
	market, orders := r.market, r.orders
	r.mu.Unlock()

	marketState, orderState := "CLOSED", "CLOSED"
	if market != nil {
		marketState = market.State().String()
	}
	if orders != nil {
		orderState = orders.State().String()
	}

	return domain.SessionStatus{
		RunID:         sess.RunID,
		Scenario:      sess.Scenario,
		Participant:   sess.Name,
		Mode:          r.cfg.Mode,
		Strategy:      r.cfg.Strategy.Name,
		StartedAt:     startedAt,
		MarketChannel: marketState,
		OrderChannel:  orderState,
		Account:       r.ledger.Account(),
		StepLatency:   r.latency.Stats(domain.LatencyStep),
		FillLatency:   r.latency.Stats(domain.LatencyFill),
		Snapshots:     r.processor.Seen(),
		Suppressed:    r.processor.Suppressed(),
		DecodeErrors:  decodeErrors,
		ServerErrors:  serverErrors,
	}
}

// AdvanceStep sends one DONE regardless of the auto-advance gate. It backs
// the operator-driven advance endpoint used when auto pacing is off.
func (r *Runtime) AdvanceStep() error {
	return r.pacer.AdvanceManual()
}

// CancelOrder asks the exchange to cancel a previously sent order. The
// server is authoritative: a fill racing the cancel still applies, so the
// local record is only marked after the send went out.
func (r *Runtime) CancelOrder(orderID string) error {
	r.mu.Lock()
	orders := r.orders
	r.mu.Unlock()

	if orders == nil {
		return fmt.Errorf("session: cancel: %w", domain.ErrChannelClosed)
	}
	if err := orders.SendCancel(orderID); err != nil {
		return err
	}
	r.ledger.MarkCancelled(orderID)
	r.logger.Info("cancel requested", slog.String("order_id", orderID))
	return nil
}

// handleSnapshot is the tick path; it runs on the market listener
// goroutine, so ticks are processed strictly in arrival order.
func (r *Runtime) handleSnapshot(snap domain.MarketSnapshot) {
	r.pacer.ObserveTick(snap.At)
	r.metrics.IncSnapshots()

	if !r.processor.Admit(snap) {
		r.metrics.IncSuppressed()
		return
	}

	r.ledger.ObserveMid(snap.Step, snap.Mid())

	if r.strat != nil {
		if intent := r.strat.Decide(domain.QuoteOf(snap), r.ledger.Account()); intent != nil {
			r.dispatch(*intent, snap.Step)
		}
	}
	r.metrics.SetAccount(r.ledger.Account())

	// DONE goes out only after this tick's order dispatch finished.
	_ = r.pacer.Advance()
}

// dispatch sends one order, tracking it before the write so a fast fill
// always correlates.
func (r *Runtime) dispatch(intent domain.OrderIntent, step int64) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	name := r.sess.Name
	orders := r.orders
	r.mu.Unlock()

	rec := domain.OrderRecord{
		OrderID: fmt.Sprintf("ORD_%s_%d_%d", name, step, seq),
		Ticker:  r.cfg.Session.Ticker,
		Side:    intent.Side,
		Price:   intent.Price,
		Qty:     intent.Qty,
		SentAt:  time.Now(),
		State:   domain.OrderPending,
	}
	r.ledger.TrackOrder(rec)

	if err := orders.SendOrder(rec); err != nil {
		r.ledger.MarkErrored(rec.OrderID)
		r.logger.Warn("order send failed",
			slog.String("order_id", rec.OrderID),
			slog.String("error", err.Error()),
		)
		r.emit(domain.Event{
			Kind:    domain.EventAnomaly,
			Step:    step,
			OrderID: rec.OrderID,
			Message: "order send failed: " + err.Error(),
		})
		return
	}

	r.metrics.IncOrders()
	r.logger.Info("order sent",
		slog.String("order_id", rec.OrderID),
		slog.String("side", string(rec.Side)),
		slog.Float64("price", rec.Price),
		slog.Int64("qty", rec.Qty),
		slog.Int64("step", step),
	)
	r.emit(domain.Event{
		Kind:    domain.EventOrder,
		Step:    step,
		OrderID: rec.OrderID,
		Side:    rec.Side,
		Price:   rec.Price,
		Qty:     rec.Qty,
	})
}

// handleFill is the fill path; it runs on the order listener goroutine.
func (r *Runtime) handleFill(f domain.Fill) {
	state, matched := r.ledger.ApplyFill(f)
	r.metrics.IncFills()
	r.metrics.SetAccount(state)

	if !matched {
		r.metrics.IncAnomalies()
		r.emit(domain.Event{
			Kind:    domain.EventAnomaly,
			Step:    state.Step,
			OrderID: f.OrderID,
			Side:    f.Side,
			Price:   f.Price,
			Qty:     f.Qty,
			Message: "fill did not match a tracked order",
			Account: &state,
		})
		return
	}

	r.logger.Info("fill",
		slog.String("order_id", f.OrderID),
		slog.String("side", string(f.Side)),
		slog.Float64("price", f.Price),
		slog.Int64("qty", f.Qty),
		slog.Int64("inventory", state.Inventory),
		slog.Float64("pnl", state.PnL),
	)
	r.emit(domain.Event{
		Kind:    domain.EventFill,
		Step:    state.Step,
		OrderID: f.OrderID,
		Side:    f.Side,
		Price:   f.Price,
		Qty:     f.Qty,
		Account: &state,
	})
}

func (r *Runtime) handleServerError(msg string) {
	r.mu.Lock()
	r.serverErrors++
	r.mu.Unlock()

	r.metrics.IncServerErrors()
	r.emit(domain.Event{
		Kind:    domain.EventServerError,
		Step:    r.ledger.Account().Step,
		Message: msg,
	})
}

func (r *Runtime) handleDecodeError(error) {
	r.mu.Lock()
	r.decodeErrors++
	r.mu.Unlock()
	r.metrics.IncDecodeErrors()
}

// sendDone is the pacer's transport hook.
func (r *Runtime) sendDone() error {
	r.mu.Lock()
	orders := r.orders
	r.mu.Unlock()

	if orders == nil {
		return fmt.Errorf("session: advance: %w", domain.ErrChannelClosed)
	}
	return orders.SendDone()
}

// emit stamps and fans one event out to every sink.
func (r *Runtime) emit(ev domain.Event) {
	ev.ID = uuid.NewString()
	ev.At = time.Now()

	r.mu.Lock()
	ev.RunID = r.sess.RunID
	r.mu.Unlock()

	for _, sink := range r.sinks {
		if err := sink.Publish(context.Background(), ev); err != nil {
			r.logger.Warn("event sink publish failed",
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// finish logs the end-of-session report and emits SESSION_END.
func (r *Runtime) finish() {
	r.updateChannelMetrics()
	sum := r.ledger.Summary()

	r.logger.Info("session finished",
		slog.Int64("last_step", sum.Account.Step),
		slog.Int64("snapshots", r.processor.Seen()),
		slog.Int64("snapshots_suppressed", r.processor.Suppressed()),
		slog.Int64("orders_sent", sum.Account.OrdersSent),
		slog.Int64("fills", sum.Account.Fills),
		slog.Int64("anomalies", sum.Account.Anomalies),
		slog.Int64("inventory", sum.Account.Inventory),
		slog.Float64("cash_flow", sum.Account.CashFlow),
		slog.Float64("pnl", sum.Account.PnL),
		slog.Float64("step_latency_mean_ms", sum.StepLatency.MeanMS),
		slog.Float64("fill_latency_mean_ms", sum.FillLatency.MeanMS),
	)
	r.emit(domain.Event{
		Kind:    domain.EventSessionEnd,
		Step:    sum.Account.Step,
		Account: &sum.Account,
	})
}

func (r *Runtime) updateChannelMetrics() {
	r.mu.Lock()
	market, orders := r.market, r.orders
	r.mu.Unlock()

	if market != nil {
		r.metrics.SetChannelState(telemetry.ChannelMarket, float64(market.State()))
	}
	if orders != nil {
		r.metrics.SetChannelState(telemetry.ChannelOrders, float64(orders.State()))
	}
}

func (r *Runtime) wsOptions() exchange.Options {
	ex := r.cfg.Exchange
	return exchange.Options{
		Host:               ex.Host,
		Secure:             ex.Secure,
		InsecureSkipVerify: ex.InsecureSkipVerify,
		HandshakeTimeout:   ex.HandshakeTimeout.Duration,
		PingInterval:       ex.PingInterval.Duration,
	}
}
