// Package wstransport is an alternate distributor.Transport implementation
// over gorilla/websocket: one broker process (Hub) every node connects to,
// relaying messages to connections whose subscribed patterns match the
// topic, ordered per connection.
package wstransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
	sendBufferSize = 256
)

// wireEnvelope is the on-the-wire frame: either a publish or a
// subscribe/unsubscribe control message.
type wireEnvelope struct {
	Kind    string          `json:"kind"` // "publish", "subscribe", "unsubscribe"
	Topic   string          `json:"topic,omitempty"`
	Pattern string          `json:"pattern,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub is the broker every wstransport client connects to.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}

	register   chan *hubClient
	unregister chan *hubClient
}

// NewHub constructs a Hub. CheckOrigin is permissive by default; callers
// running across untrusted origins should wrap the handler with their own
// origin check.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		logger:     logger,
		clients:    make(map[*hubClient]struct{}),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		}
	}
}

// ServeHTTP upgrades the connection and starts its read/write pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("wstransport: upgrade failed", "error", err)
		return
	}

	c := &hubClient{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), logger: h.logger}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// publish fans a raw publish envelope out to every client whose subscribed
// pattern matches topic.
func (h *Hub) publish(topic string, raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.matchesAny(topic) {
			select {
			case c.send <- raw:
			default:
				h.logger.Warn("wstransport: client send buffer full, dropping message")
			}
		}
	}
}

type hubClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu       sync.Mutex
	patterns []string
}

func (c *hubClient) matchesAny(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.patterns {
		if matchTopic(p, topic) {
			return true
		}
	}
	return false
}

func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env wireEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Kind {
		case "publish":
			c.hub.publish(env.Topic, raw)
		case "subscribe":
			c.mu.Lock()
			c.patterns = append(c.patterns, env.Pattern)
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			c.patterns = removePattern(c.patterns, env.Pattern)
			c.mu.Unlock()
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func removePattern(patterns []string, target string) []string {
	out := patterns[:0]
	for _, p := range patterns {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

// matchTopic matches a colon-segmented pattern (with "*" wildcard segments)
// against a topic, the same scheme distributor.Topic produces.
func matchTopic(pattern, topic string) bool {
	pSegs := strings.Split(pattern, ":")
	tSegs := strings.Split(topic, ":")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, seg := range pSegs {
		if seg != "*" && seg != tSegs[i] {
			return false
		}
	}
	return true
}
