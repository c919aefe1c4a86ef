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

	"github.com/alanyoungcy/marginsim/internal/domain"
)

type fakeBus struct {
	events  chan []byte
	history map[string][]domain.StreamMessage
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.events, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, stream, _ string, _ int) ([]domain.StreamMessage, error) {
	return b.history[stream], nil
}

func TestRouteUsesRunID(t *testing.T) {
	assert.Equal(t, "ch:run:abc", route([]byte(`{"run_id":"abc","pct":10}`)).channel)
	assert.Equal(t, "ch:run:*", route([]byte(`not json`)).channel)
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:run:*": true}}
	assert.True(t, c.isSubscribed("ch:run:abc"))

	c = &client{subs: map[string]bool{"ch:run:abc": true}}
	assert.True(t, c.isSubscribed("ch:run:abc"))
	assert.False(t, c.isSubscribed("ch:run:xyz"))
}

func TestHubStreamsRunEvents(t *testing.T) {
	bus := &fakeBus{
		events: make(chan []byte, 8),
		history: map[string][]domain.StreamMessage{
			"stream:run:r2": {{ID: "1-0", Payload: []byte(`{"run_id":"r2","event":"run.started"}`)}},
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus, func() []string { return []string{"r1"} }, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}

	hello := read()
	assert.Equal(t, "hello", hello["type"])
	assert.Equal(t, []any{"r1"}, hello["active_runs"])

	bus.events <- []byte(`{"run_id":"r1","pct":50}`)
	assert.Equal(t, "r1", read()["run_id"])

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:run:*"}}))
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Channels: []string{"ch:run:r2"}}))
	assert.Equal(t, "run.started", read()["event"])

	bus.events <- []byte(`{"run_id":"r1","pct":60}`)
	bus.events <- []byte(`{"run_id":"r2","pct":10}`)
	got := read()
	assert.Equal(t, "r2", got["run_id"])
	assert.Equal(t, 10.0, got["pct"])
}

func httpHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", h.HandleWS)
	return mux
}
