package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oskarw/simtrader/internal/config"
	"github.com/oskarw/simtrader/internal/domain"
	"github.com/oskarw/simtrader/internal/exchange"
)

// captureSink buffers published events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *captureSink) Publish(_ context.Context, ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) kinds() []domain.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.EventKind, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

func (c *captureSink) firstOfKind(kind domain.EventKind) (domain.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return domain.Event{}, false
}

// buyOnStepOne places a single BUY at the ask on step 1.
type buyOnStepOne struct {
	mu     sync.Mutex
	traded bool
}

func (s *buyOnStepOne) Decide(q domain.Quote, _ domain.AccountState) *domain.OrderIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.traded || q.Step != 1 {
		return nil
	}
	s.traded = true
	return &domain.OrderIntent{Side: domain.SideBuy, Price: q.Ask, Qty: 100}
}

func testConfig(host string) config.Config {
	cfg := config.Defaults()
	cfg.Exchange.Host = host
	cfg.Exchange.Scenario = "calm"
	cfg.Exchange.Name = "team7"
	cfg.Exchange.Password = "pw"
	cfg.Exchange.RegisterTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.Exchange.HandshakeTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.Exchange.ReadyTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.Server.Enabled = false
	return cfg
}

// fakeExchange scripts a two-tick run: tick 1 triggers the strategy order
// and is filled immediately, tick 2 arrives after the first DONE.
func TestRuntimeEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	var frameMu sync.Mutex
	var orderFrames []string
	recordFrame := func(typ string) {
		frameMu.Lock()
		orderFrames = append(orderFrames, typ)
		frameMu.Unlock()
	}

	dones := make(chan struct{}, 8)
	ticksDelivered := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/replays/{scenario}/start", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "calm", r.PathValue("scenario"))
		assert.Equal(t, "Bearer team7", r.Header.Get("Authorization"))
		assert.Equal(t, "pw", r.Header.Get("X-Team-Password"))
		w.Write([]byte(`{"token":"tok-1","run_id":"run-7"}`))
	})
	mux.HandleFunc("/api/ws/orders", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"AUTHENTICATED"}`)); err != nil {
			return
		}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			if m["action"] == "DONE" {
				recordFrame("DONE")
				dones <- struct{}{}
				continue
			}
			if m["type"] == "NEW_ORDER" {
				recordFrame("NEW_ORDER")
				fill := fmt.Sprintf(`{"type":"FILL","order_id":%q,"side":%q,"price":%v,"qty":%v}`,
					m["order_id"], m["side"], m["price"], m["qty"])
				if err := conn.WriteMessage(websocket.TextMessage, []byte(fill)); err != nil {
					return
				}
			}
		}
	})
	mux.HandleFunc("/api/ws/market", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		send := func(frame string) bool {
			return conn.WriteMessage(websocket.TextMessage, []byte(frame)) == nil
		}
		send(`{"type":"CONNECTED"}`)
		send(`{"type":"SNAPSHOT","step":1,"bids":[{"price":99.5,"qty":10}],"asks":[{"price":100.5,"qty":10}],"last_trade":100.0}`)
		<-dones
		send(`{"type":"MARKET_DATA","step":2,"bids":[{"price":99.6,"qty":10}],"asks":[{"price":100.6,"qty":10}],"last_trade":100.1}`)
		<-dones
		close(ticksDelivered)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	sink := &captureSink{}
	rt := NewRuntime(Options{
		Config:   testConfig(strings.TrimPrefix(srv.URL, "http://")),
		Logger:   testLogger(),
		Strategy: &buyOnStepOne{},
		Sinks:    []domain.EventSink{sink},
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- rt.Run(ctx) }()

	select {
	case <-ticksDelivered:
	case <-time.After(5 * time.Second):
		t.Fatal("scripted run did not complete")
	}

	// The fill arrives on the order channel concurrently with the second
	// tick; wait for it to land in the ledger.
	assert.Eventually(t, func() bool {
		st := rt.Status()
		return st.Account.Inventory == 100 && st.FillLatency.Count == 1
	}, 2*time.Second, 10*time.Millisecond)

	st := rt.Status()
	assert.Equal(t, "run-7", st.RunID)
	assert.Equal(t, "calm", st.Scenario)
	assert.Equal(t, "team7", st.Participant)
	assert.Equal(t, "OPEN", st.MarketChannel)
	assert.Equal(t, "OPEN", st.OrderChannel)
	assert.Equal(t, int64(2), st.Snapshots)
	assert.Equal(t, int64(1), st.Account.OrdersSent)
	assert.Equal(t, int64(1), st.Account.Fills)
	assert.Equal(t, int64(0), st.Account.Anomalies)
	assert.Equal(t, -10050.0, st.Account.CashFlow, "BUY 100 @ 100.50")
	assert.Equal(t, 1, st.StepLatency.Count, "first tick records nothing, second closes one interval")

	// Mark-to-market at tick 2's mid of 100.10.
	assert.InDelta(t, -10050.0+100*100.1, st.Account.PnL, 1e-9)

	frameMu.Lock()
	frames := append([]string(nil), orderFrames...)
	frameMu.Unlock()
	require.Equal(t, []string{"NEW_ORDER", "DONE", "DONE"}, frames,
		"the tick's order must be dispatched before its DONE")

	orderEv, ok := sink.firstOfKind(domain.EventOrder)
	require.True(t, ok)
	assert.Equal(t, "ORD_team7_1_1", orderEv.OrderID)
	assert.Equal(t, "run-7", orderEv.RunID)

	fillEv, ok := sink.firstOfKind(domain.EventFill)
	require.True(t, ok)
	assert.Equal(t, "ORD_team7_1_1", fillEv.OrderID)
	require.NotNil(t, fillEv.Account)
	assert.Equal(t, int64(100), fillEv.Account.Inventory)

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err, "context cancel is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}

	kinds := sink.kinds()
	assert.Equal(t, domain.EventRegistered, kinds[0])
	assert.Equal(t, domain.EventSessionEnd, kinds[len(kinds)-1])

	final := rt.Status()
	assert.Equal(t, "CLOSED", final.MarketChannel)
	assert.Equal(t, "CLOSED", final.OrderChannel)
}

func TestRuntimeRegistrationFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "scenario unknown", http.StatusNotFound)
	}))
	defer srv.Close()

	rt := NewRuntime(Options{
		Config: testConfig(strings.TrimPrefix(srv.URL, "http://")),
		Logger: testLogger(),
	})

	err := rt.Run(context.Background())
	require.Error(t, err)

	var regErr *exchange.RegistrationError
	require.True(t, errors.As(err, &regErr))
	assert.Equal(t, http.StatusNotFound, regErr.Status)
}

func TestRuntimeReadyTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/replays/{scenario}/start", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"tok-1","run_id":"run-7"}`))
	})
	mux.HandleFunc("/api/ws/orders", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never authenticate; just hold the socket open.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(strings.TrimPrefix(srv.URL, "http://"))
	cfg.Exchange.ReadyTimeout = config.Duration{Duration: 150 * time.Millisecond}

	rt := NewRuntime(Options{Config: cfg, Logger: testLogger()})

	err := rt.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrReadyTimeout)
}
