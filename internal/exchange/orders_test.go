package exchange

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oskarw/simtrader/internal/domain"
)

func TestDialOrdersRequiresCredentials(t *testing.T) {
	opts := Options{Host: "localhost:1"}

	_, err := DialOrders(context.Background(), opts, "", "run-42", OrderHandlers{}, testLogger())
	require.ErrorIs(t, err, domain.ErrNotRegistered)

	_, err = DialOrders(context.Background(), opts, "tok-abc", "", OrderHandlers{}, testLogger())
	require.ErrorIs(t, err, domain.ErrNotRegistered)
}

func waitReady(t *testing.T, ch *OrderChannel) {
	t.Helper()
	select {
	case <-ch.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AUTHENTICATED")
	}
}

func TestOrderChannelWritesWireFrames(t *testing.T) {
	frames := make(chan string, 8)

	srv, opts := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		assert.Equal(t, "/api/ws/orders", r.URL.Path)
		assert.Equal(t, "tok-abc", r.URL.Query().Get("token"))
		assert.Equal(t, "run-42", r.URL.Query().Get("run_id"))

		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"AUTHENTICATED"}`)); err != nil {
			return
		}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(raw)
		}
	})
	defer srv.Close()

	ch, err := DialOrders(context.Background(), opts, "tok-abc", "run-42", OrderHandlers{}, testLogger())
	require.NoError(t, err)
	defer ch.Close()

	go ch.Listen(context.Background())
	waitReady(t, ch)

	require.NoError(t, ch.SendOrder(domain.OrderRecord{
		OrderID: "ORD_team7_3_1",
		Ticker:  "SYM",
		Side:    domain.SideBuy,
		Price:   99.5,
		Qty:     10,
	}))
	require.NoError(t, ch.SendCancel("ORD_team7_3_1"))
	require.NoError(t, ch.SendDone())

	recv := func() string {
		select {
		case f := <-frames:
			return f
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for outbound frame")
			return ""
		}
	}

	assert.JSONEq(t,
		`{"type":"NEW_ORDER","order_id":"ORD_team7_3_1","ticker":"SYM","side":"BUY","price":99.5,"qty":10}`,
		recv())
	assert.JSONEq(t,
		`{"type":"CANCEL_ORDER","order_id":"ORD_team7_3_1"}`,
		recv())
	// DONE is keyed by "action", not "type".
	assert.JSONEq(t, `{"action":"DONE"}`, recv())
}

func TestOrderChannelDispatchesInbound(t *testing.T) {
	fills := make(chan domain.Fill, 8)
	serverErrs := make(chan string, 8)
	decodeErrs := make(chan error, 8)

	srv, opts := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		frames := []string{
			`{"type":"AUTHENTICATED"}`,
			`{"type":"FILL","order_id":"ORD_team7_3_1","side":"BUY","price":10.0,"qty":100}`,
			`{"type":"MYSTERY","payload":true}`,
			`{{{`,
			`{"type":"ERROR","message":"qty must be positive"}`,
			`{"type":"FILL","order_id":"ORD_team7_4_2","side":"SELL","price":11.0,"qty":50}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	ch, err := DialOrders(context.Background(), opts, "tok-abc", "run-42", OrderHandlers{
		OnFill:        func(f domain.Fill) { fills <- f },
		OnServerError: func(msg string) { serverErrs <- msg },
		OnDecodeError: func(err error) { decodeErrs <- err },
	}, testLogger())
	require.NoError(t, err)
	defer ch.Close()

	go ch.Listen(context.Background())
	waitReady(t, ch)

	recvFill := func() domain.Fill {
		select {
		case f := <-fills:
			return f
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for fill")
			return domain.Fill{}
		}
	}

	first := recvFill()
	assert.Equal(t, "ORD_team7_3_1", first.OrderID)
	assert.Equal(t, domain.SideBuy, first.Side)
	assert.Equal(t, 10.0, first.Price)
	assert.Equal(t, int64(100), first.Qty)
	assert.False(t, first.At.IsZero())

	// Processing survives the unknown and malformed frames in between.
	second := recvFill()
	assert.Equal(t, "ORD_team7_4_2", second.OrderID)
	assert.Equal(t, domain.SideSell, second.Side)

	select {
	case msg := <-serverErrs:
		assert.Equal(t, "qty must be positive", msg)
	default:
		t.Fatal("expected a server error callback")
	}
	select {
	case err := <-decodeErrs:
		assert.ErrorIs(t, err, domain.ErrMalformedMessage)
	default:
		t.Fatal("expected a decode error for the malformed frame")
	}
}

func TestOrderChannelRefusesSendsAfterClose(t *testing.T) {
	srv, opts := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	ch, err := DialOrders(context.Background(), opts, "tok-abc", "run-42", OrderHandlers{}, testLogger())
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	assert.Equal(t, StateClosed, ch.State())
	assert.ErrorIs(t, ch.SendDone(), domain.ErrChannelClosed)
	assert.ErrorIs(t, ch.SendCancel("ORD_team7_3_1"), domain.ErrChannelClosed)
	assert.ErrorIs(t, ch.SendOrder(domain.OrderRecord{OrderID: "ORD_team7_3_2"}), domain.ErrChannelClosed)
}
