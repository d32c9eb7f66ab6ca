package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"crashpilot/config"
	"crashpilot/events"
)

// Channels a client can subscribe to.
const (
	ChannelEvents = "events" // bot events from the bus
	ChannelCrash  = "crash"  // game_start / price_update / game_end feed
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the envelope for everything sent over the socket.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ClientMessage is what clients send: subscribe / unsubscribe.
type ClientMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

type outbound struct {
	channel string
	data    []byte
}

// Client is one connected websocket with its subscriptions.
type Client struct {
	ID            string
	Conn          *websocket.Conn
	Subscriptions map[string]bool
	Send          chan []byte

	hub        *Hub
	mu         sync.RWMutex
	writeMutex sync.Mutex
}

// Hub fans published messages out to subscribed clients. It is also an
// events.Subscriber, so the bot's event bus streams onto ChannelEvents.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	done       chan struct{}

	clientCount atomic.Int64
	nextID      atomic.Int64

	historyMu sync.RWMutex
	retain    map[string]int
	history   map[string][][]byte

	log *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, config.WSBroadcastBuffer),
		done:       make(chan struct{}),
		retain:     make(map[string]int),
		history:    make(map[string][][]byte),
		log:        logrus.WithField("component", "ws"),
	}
}

// Retain keeps the last n messages of channel and replays them to new
// subscribers.
func (h *Hub) Retain(channel string, n int) {
	h.historyMu.Lock()
	h.retain[channel] = n
	h.historyMu.Unlock()
}

// Run is the central dispatcher. It owns the client set.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("🚀 websocket hub started")
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				delete(h.clients, c)
				close(c.Send)
			}
			h.clientCount.Store(0)
			h.log.Info("🛑 websocket hub stopped")
			return

		case c := <-h.register:
			h.clients[c] = true
			h.clientCount.Store(int64(len(h.clients)))
			h.log.Infof("✅ client registered: %s (total: %d)", c.ID, len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Send)
			}
			h.clientCount.Store(int64(len(h.clients)))
			h.log.Infof("👋 client unregistered: %s (total: %d)", c.ID, len(h.clients))

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.subscribed(msg.channel) {
					continue
				}
				select {
				case c.Send <- msg.data:
				default:
					h.log.Warnf("⚠️  client %s send buffer full, skipping message", c.ID)
				}
			}
		}
	}
}

// Publish queues msg for every subscriber of channel. Never blocks: when
// the broadcast buffer is full the message is dropped.
func (h *Hub) Publish(channel string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Errorf("❌ failed to marshal message for %s: %v", channel, err)
		return
	}
	h.remember(channel, data)
	select {
	case h.broadcast <- outbound{channel: channel, data: data}:
	default:
		h.log.Warnf("⚠️  broadcast buffer full, dropping %s message", channel)
	}
}

func (h *Hub) remember(channel string, data []byte) {
	h.historyMu.Lock()
	defer h.historyMu.Unlock()
	n := h.retain[channel]
	if n <= 0 {
		return
	}
	hist := append(h.history[channel], data)
	if len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	h.history[channel] = hist
}

func (h *Hub) replay(channel string) [][]byte {
	h.historyMu.RLock()
	defer h.historyMu.RUnlock()
	out := make([][]byte, len(h.history[channel]))
	copy(out, h.history[channel])
	return out
}

// Handle publishes a bus event on ChannelEvents.
func (h *Hub) Handle(e events.Event) {
	h.Publish(ChannelEvents, Message{Type: string(e.Type), Data: e})
}

func (h *Hub) ClientCount() int { return int(h.clientCount.Load()) }

// ServeHTTP upgrades the request and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.log.Debugf("📥 websocket connection from %s", r.RemoteAddr)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("❌ websocket upgrade failed: %v", err)
		return
	}

	c := &Client{
		ID:            fmt.Sprintf("client-%d", h.nextID.Add(1)),
		Conn:          conn,
		Subscriptions: make(map[string]bool),
		Send:          make(chan []byte, config.WSSendBuffer),
		hub:           h,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *Client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Subscriptions[channel]
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// writePump drains Send and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(config.WSPingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.hub.log.Errorf("❌ write error for client %s: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles subscriptions until the client goes away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.Conn.Close()
	}()

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Errorf("❌ read error for client %s: %v", c.ID, err)
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.log.Warnf("⚠️  failed to parse message from client %s: %v", c.ID, err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg ClientMessage) {
	channel, _ := msg.Data["channel"].(string)
	switch msg.Type {
	case "subscribe":
		if channel == "" {
			_ = c.writeJSON(Message{Type: "error", Data: "subscribe needs a channel"})
			return
		}
		c.mu.Lock()
		c.Subscriptions[channel] = true
		c.mu.Unlock()
		c.hub.log.Debugf("📡 client %s subscribed to %s", c.ID, channel)
		c.sendHistory(channel)

	case "unsubscribe":
		c.mu.Lock()
		delete(c.Subscriptions, channel)
		c.mu.Unlock()
		c.hub.log.Debugf("📴 client %s unsubscribed from %s", c.ID, channel)

	default:
		c.hub.log.Warnf("⚠️  unknown message type from client %s: %s", c.ID, msg.Type)
	}
}

func (c *Client) sendHistory(channel string) {
	hist := c.hub.replay(channel)
	for _, data := range hist {
		if err := c.write(websocket.TextMessage, data); err != nil {
			c.hub.log.Warnf("⚠️  failed to send %s history to client %s: %v", channel, c.ID, err)
			return
		}
	}
	if len(hist) > 0 {
		c.hub.log.Debugf("📨 client %s sent %d %s history messages", c.ID, len(hist), channel)
	}
}
