// Package ws streams run progress and lifecycle events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marginsim/internal/cache/redis"
	"github.com/alanyoungcy/marginsim/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// replayCount bounds the lifecycle history sent on subscribe.
	replayCount  = 100
	replayWindow = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// subscribeMsg is what a client sends to change its subscriptions, e.g.
// {"action":"subscribe","channels":["ch:run:<id>"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// envelope is the part of a bus payload the hub routes on.
type envelope struct {
	RunID string `json:"run_id"`
}

type message struct {
	channel string
	data    []byte
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

// Hub fans run events from the signal bus out to connected clients. New
// clients follow every run until they change their subscriptions.
type Hub struct {
	bus    domain.SignalBus
	active func() []string
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan message
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a Hub reading from bus. active, when set, lists the run ids
// announced to each client on connect.
func NewHub(bus domain.SignalBus, active func() []string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		active:     active,
		logger:     logger.With(slog.String("component", "ws")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
}

// Run subscribes to every run channel and serves clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	events, err := h.bus.Subscribe(ctx, redis.AllRunsPattern)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "ws: hub started", slog.String("pattern", redis.AllRunsPattern))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("clients", n))

		case data, ok := <-events:
			if !ok {
				h.logger.Warn("ws: bus subscription closed")
				events = nil
				continue
			}
			h.fanOut(route(data))

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// route derives the concrete run channel from the payload, since pattern
// subscriptions deliver payloads without their channel name.
func route(data []byte) message {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.RunID == "" {
		return message{channel: redis.AllRunsPattern, data: data}
	}
	return message{channel: redis.RunChannel(env.RunID), data: data}
}

func (h *Hub) fanOut(msg message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(msg.channel) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			h.logger.Warn("ws: dropping message for slow client", slog.String("channel", msg.channel))
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{redis.AllRunsPattern: true},
	}
	c.hello()
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// hello queues the list of active runs. It runs before registration, while
// nothing else can close send.
func (c *client) hello() {
	runs := []string{}
	if c.hub.active != nil {
		runs = append(runs, c.hub.active()...)
	}
	data, err := json.Marshal(map[string]any{"type": "hello", "active_runs": runs})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Action == "" {
			continue
		}
		c.handle(msg)
	}
}

// handle applies a subscription change. Subscribing to one run also replays
// its lifecycle stream so late clients see how it started.
func (c *client) handle(msg subscribeMsg) {
	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
	c.mu.Unlock()

	if msg.Action != "subscribe" {
		return
	}
	for _, ch := range msg.Channels {
		if id, ok := strings.CutPrefix(ch, "ch:run:"); ok && id != "" && !strings.HasSuffix(id, "*") {
			c.replay(id)
		}
	}
}

func (c *client) replay(runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), replayWindow)
	defer cancel()
	history, err := c.hub.bus.StreamRead(ctx, redis.RunStream(runID), "0", replayCount)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		return
	}
	for _, m := range history {
		if !c.offer(m.Payload) {
			return
		}
	}
}

// offer queues data unless the client is gone or its buffer is full. The hub
// closes send under its write lock, so holding the read lock keeps it open.
func (c *client) offer(data []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// isSubscribed matches exact channels and trailing-* prefixes.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
