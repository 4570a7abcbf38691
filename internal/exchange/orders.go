package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oskarw/simtrader/internal/domain"
)

// OrderHandlers receive decoded order-channel traffic. All callbacks run on
// the listener goroutine in arrival order.
type OrderHandlers struct {
	OnFill        func(domain.Fill)
	OnServerError func(message string)
	OnDecodeError func(error)
}

// OrderChannel is the bidirectional streaming connection carrying outbound
// orders, cancellations and step-advance signals, and inbound fills and
// server errors. Writes are serialized; sends are refused unless the
// channel is OPEN (no queueing while disconnected).
type OrderChannel struct {
	handlers OrderHandlers
	logger   *slog.Logger

	conn         *websocket.Conn
	writeMu      sync.Mutex
	state        channelState
	pingInterval time.Duration

	ready     chan struct{}
	readyOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// DialOrders connects the order channel for the given session. The returned
// channel is OPEN but not yet authenticated; wait on Ready before sending.
func DialOrders(ctx context.Context, opts Options, token, runID string, handlers OrderHandlers, logger *slog.Logger) (*OrderChannel, error) {
	if token == "" || runID == "" {
		return nil, fmt.Errorf("exchange: dial orders: %w", domain.ErrNotRegistered)
	}

	c := &OrderChannel{
		handlers:     handlers,
		logger:       logger.With(slog.String("component", "order_channel")),
		pingInterval: opts.PingInterval,
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.state.set(StateConnecting)

	q := url.Values{}
	q.Set("token", token)
	q.Set("run_id", runID)
	endpoint := wsEndpoint(opts, "/api/ws/orders", q)

	dialer := newDialer(opts)
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.state.set(StateFailed)
		return nil, fmt.Errorf("exchange: dial orders: %w", err)
	}

	c.conn = conn
	c.state.set(StateOpen)
	c.logger.Info("connected")

	return c, nil
}

// Ready is closed once the server acknowledges authentication. Orders and
// DONE signals sent before that may be rejected server-side.
func (c *OrderChannel) Ready() <-chan struct{} {
	return c.ready
}

// State reports the channel's lifecycle state.
func (c *OrderChannel) State() State {
	return c.state.get()
}

// SendOrder places a new order from an already-populated record.
func (c *OrderChannel) SendOrder(rec domain.OrderRecord) error {
	return c.send(newOrderMessage{
		Type:    msgNewOrder,
		OrderID: rec.OrderID,
		Ticker:  rec.Ticker,
		Side:    string(rec.Side),
		Price:   rec.Price,
		Qty:     rec.Qty,
	})
}

// SendCancel requests cancellation of a previously sent order. The server
// treats it as a no-op if the order already filled.
func (c *OrderChannel) SendCancel(orderID string) error {
	return c.send(cancelOrderMessage{Type: msgCancelOrder, OrderID: orderID})
}

// SendDone signals that this participant has finished reacting to the
// current tick and the simulation clock may advance.
func (c *OrderChannel) SendDone() error {
	return c.send(doneMessage{Action: actionDone})
}

// send marshals and writes one frame. Messages are dropped with
// ErrChannelClosed when the channel is not OPEN.
func (c *OrderChannel) send(v any) error {
	if c.state.get() != StateOpen {
		return fmt.Errorf("exchange: order channel: %w", domain.ErrChannelClosed)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("exchange: marshal order frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.state.transition(StateOpen, StateFailed)
		return fmt.Errorf("exchange: order channel write: %w", err)
	}
	return nil
}

// Listen blocks reading messages until the context ends, Close is called,
// or the transport fails. Same fail-stop contract as the market channel.
func (c *OrderChannel) Listen(ctx context.Context) error {
	defer c.Close()

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	if c.pingInterval > 0 {
		go c.pingLoop()
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			c.state.transition(StateOpen, StateFailed)
			return fmt.Errorf("exchange: order channel: %w", err)
		}
		c.handleMessage(raw)
	}
}

// Close shuts the channel down. Safe to call more than once.
func (c *OrderChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.transition(StateConnecting, StateClosed)
		c.state.transition(StateOpen, StateClosed)
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	})
	return err
}

// handleMessage routes one inbound frame. FILL and ERROR payloads reach the
// handlers; AUTHENTICATED opens the ready gate; anything else is ignored.
func (c *OrderChannel) handleMessage(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.decodeError(fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err))
		return
	}

	switch env.Type {
	case msgAuthenticated:
		c.readyOnce.Do(func() { close(c.ready) })
		c.logger.Info("authenticated")

	case msgFill:
		var msg fillMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.decodeError(fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err))
			return
		}
		if c.handlers.OnFill != nil {
			c.handlers.OnFill(domain.Fill{
				OrderID: msg.OrderID,
				Side:    domain.Side(msg.Side),
				Price:   msg.Price,
				Qty:     msg.Qty,
				At:      time.Now(),
			})
		}

	case msgError:
		var msg errorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.decodeError(fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err))
			return
		}
		c.logger.Warn("server reported error", slog.String("message", msg.Message))
		if c.handlers.OnServerError != nil {
			c.handlers.OnServerError(msg.Message)
		}

	default:
	}
}

func (c *OrderChannel) decodeError(err error) {
	c.logger.Warn("dropping malformed message", slog.String("error", err.Error()))
	if c.handlers.OnDecodeError != nil {
		c.handlers.OnDecodeError(err)
	}
}

// pingLoop sends keepalive pings while the channel is up. Only runs when a
// ping interval was configured.
func (c *OrderChannel) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
