// Package realtime pushes events to browser dashboards over WebSocket.
//
// Clients connect to the hub's handler and receive every event by default.
// Sending {"type":"subscribe","channel":"alerts"} narrows delivery to the
// named channels plus unchannelled events.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/pkg/contracts"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxInbound = 4096
)

// Frame is what clients receive.
type Frame struct {
	Event     string    `json:"event"`
	Channel   string    `json:"channel,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// clientMessage is what clients may send.
type clientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]bool
}

func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return channel == "" || len(c.channels) == 0 || c.channels[channel]
}

// Hub tracks connected clients and fans events out to them.
type Hub struct {
	upgrader   websocket.Upgrader
	sendBuffer int

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub. allowedOrigins of ["*"] or empty accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || allowed[origin]
			},
		},
		sendBuffer: 64,
		clients:    make(map[*client]struct{}),
	}
}

var _ contracts.Broadcaster = (*Hub)(nil)

// Emit sends an event to every interested client. Slow clients whose
// buffer is full are disconnected rather than blocking the caller.
func (h *Hub) Emit(_ context.Context, event, channel string, data any) error {
	payload, err := json.Marshal(Frame{Event: event, Channel: channel, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Warn().Str("client", c.id).Msg("Real-time client too slow, disconnecting")
		h.remove(c)
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	c := &client{
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan []byte, h.sendBuffer),
		channels: make(map[string]bool),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Debug().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("🔌 Real-time client connected")

	go h.writePump(c)
	h.readPump(c)
}

// remove unregisters c and closes its send queue once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		log.Debug().Str("client", c.id).Msg("Real-time client disconnected")
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxInbound)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("WebSocket read error")
			}
			return
		}
		switch msg.Type {
		case "subscribe":
			c.mu.Lock()
			c.channels[msg.Channel] = true
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			delete(c.channels, msg.Channel)
			c.mu.Unlock()
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.remove(c)
	}
}
