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

// MarketHandlers receive decoded market-channel traffic. OnSnapshot is
// called on the listener goroutine, in arrival order, for both SNAPSHOT and
// MARKET_DATA frames. OnDecodeError is called when a malformed frame is
// dropped.
type MarketHandlers struct {
	OnSnapshot    func(domain.MarketSnapshot)
	OnDecodeError func(error)
}

// MarketChannel is the receive-only streaming connection carrying book
// snapshots and trade prints for one run. It is fail-stop: a transport
// error ends the channel for good.
type MarketChannel struct {
	handlers MarketHandlers
	logger   *slog.Logger

	conn         *websocket.Conn
	state        channelState
	pingInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// DialMarket connects the market data channel for the given run. The
// returned channel is OPEN; call Listen to start consuming messages.
func DialMarket(ctx context.Context, opts Options, runID string, handlers MarketHandlers, logger *slog.Logger) (*MarketChannel, error) {
	if runID == "" {
		return nil, fmt.Errorf("exchange: dial market: %w", domain.ErrNotRegistered)
	}

	c := &MarketChannel{
		handlers:     handlers,
		logger:       logger.With(slog.String("component", "market_channel")),
		pingInterval: opts.PingInterval,
		done:         make(chan struct{}),
	}
	c.state.set(StateConnecting)

	q := url.Values{}
	q.Set("run_id", runID)
	endpoint := wsEndpoint(opts, "/api/ws/market", q)

	dialer := newDialer(opts)
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.state.set(StateFailed)
		return nil, fmt.Errorf("exchange: dial market: %w", err)
	}

	c.conn = conn
	c.state.set(StateOpen)
	c.logger.Info("connected", slog.String("endpoint", endpoint))

	return c, nil
}

// State reports the channel's lifecycle state.
func (c *MarketChannel) State() State {
	return c.state.get()
}

// Listen blocks reading messages until the context ends, Close is called,
// or the transport fails. It returns nil on deliberate shutdown and a
// wrapped transport error otherwise; the session treats any error as
// terminal (no reconnection).
func (c *MarketChannel) Listen(ctx context.Context) error {
	defer c.Close()

	// Unblock the blocking read when the context ends.
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
			return fmt.Errorf("exchange: market channel: %w", err)
		}
		c.handleMessage(raw)
	}
}

// Close shuts the channel down. It is safe to call more than once and from
// any goroutine.
func (c *MarketChannel) Close() error {
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

// handleMessage routes one inbound frame. Unknown message types are a
// forward-compatible no-op; malformed frames are dropped without killing
// the listener.
func (c *MarketChannel) handleMessage(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.decodeError(fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err))
		return
	}

	switch env.Type {
	case msgConnected:
		// Liveness confirmation only.
		c.logger.Info("market stream confirmed")

	case msgSnapshot, msgMarketData:
		var msg marketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.decodeError(fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err))
			return
		}
		if c.handlers.OnSnapshot != nil {
			c.handlers.OnSnapshot(msg.toSnapshot(time.Now()))
		}

	default:
	}
}

func (c *MarketChannel) decodeError(err error) {
	c.logger.Warn("dropping malformed message", slog.String("error", err.Error()))
	if c.handlers.OnDecodeError != nil {
		c.handlers.OnDecodeError(err)
	}
}

// pingLoop sends keepalive pings while the channel is up. Only runs when a
// ping interval was configured.
func (c *MarketChannel) pingLoop() {
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
