package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oskarw/simtrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func TestHubRoutesEventsByKind(t *testing.T) {
	h := NewHub(nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	everything := &client{hub: h, send: make(chan []byte, 8), kinds: map[domain.EventKind]bool{}}
	fillsOnly := &client{hub: h, send: make(chan []byte, 8), kinds: map[domain.EventKind]bool{domain.EventFill: true}}
	h.register <- everything
	h.register <- fillsOnly

	require.NoError(t, h.Publish(context.Background(), domain.Event{Kind: domain.EventOrder, OrderID: "ORD_team7_1_1"}))
	require.NoError(t, h.Publish(context.Background(), domain.Event{Kind: domain.EventFill, OrderID: "ORD_team7_1_1"}))

	var first, second domain.Event
	require.NoError(t, json.Unmarshal(recv(t, everything.send), &first))
	require.NoError(t, json.Unmarshal(recv(t, everything.send), &second))
	assert.Equal(t, domain.EventOrder, first.Kind)
	assert.Equal(t, domain.EventFill, second.Kind)

	var filtered domain.Event
	require.NoError(t, json.Unmarshal(recv(t, fillsOnly.send), &filtered))
	assert.Equal(t, domain.EventFill, filtered.Kind, "the ORDER event must be skipped for this client")
	assert.Empty(t, fillsOnly.send)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	// No Run loop draining the broadcast buffer; every Publish must still
	// return immediately, counting overflow as dropped.
	h := NewHub(nil, testLogger())

	for i := 0; i < 300; i++ {
		require.NoError(t, h.Publish(context.Background(), domain.Event{Kind: domain.EventFill}))
	}
	assert.Greater(t, h.Dropped(), int64(0))
}

func TestApplySubscribeNormalizesKinds(t *testing.T) {
	c := &client{kinds: make(map[domain.EventKind]bool)}

	assert.True(t, c.wants(domain.EventOrder), "no subscriptions means every kind")

	c.applySubscribe(subscribeMsg{Action: "subscribe", Kinds: []string{" fill ", "session_end"}})
	assert.True(t, c.wants(domain.EventFill))
	assert.True(t, c.wants(domain.EventSessionEnd))
	assert.False(t, c.wants(domain.EventOrder))

	c.applySubscribe(subscribeMsg{Action: "unsubscribe", Kinds: []string{"FILL"}})
	assert.False(t, c.wants(domain.EventFill))
	assert.True(t, c.wants(domain.EventSessionEnd))
}

func TestHandleWSDeliversStatusThenEvents(t *testing.T) {
	status := func() domain.SessionStatus {
		return domain.SessionStatus{RunID: "run-7", MarketChannel: "OPEN", OrderChannel: "OPEN"}
	}
	h := NewHub(status, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var envelope struct {
		Type    string               `json:"type"`
		Payload domain.SessionStatus `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&envelope))
	assert.Equal(t, "session_status", envelope.Type)
	assert.Equal(t, "run-7", envelope.Payload.RunID)

	require.NoError(t, h.Publish(context.Background(), domain.Event{
		Kind:    domain.EventFill,
		RunID:   "run-7",
		OrderID: "ORD_team7_3_1",
		Side:    domain.SideBuy,
		Price:   99.5,
		Qty:     10,
	}))

	var ev domain.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, domain.EventFill, ev.Kind)
	assert.Equal(t, "ORD_team7_3_1", ev.OrderID)
	assert.Equal(t, int64(10), ev.Qty)
}
