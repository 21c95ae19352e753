// Package ws provides a lightweight WebSocket pub/sub hub.
// Components broadcast JSON events through the hub and every connected client
// receives the topics it subscribed to. The hub also handles ping/pong
// keepalives so stale connections get cleaned up automatically.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Topical is implemented by events that carry a routing topic. Events
// without one reach every client.
type Topical interface {
	Topic() string
}

type client struct {
	conn   *websocket.Conn
	topics map[string]bool // nil subscribes to everything
}

func (c *client) wants(topic string) bool {
	return c.topics == nil || topic == "" || c.topics[topic]
}

type message struct {
	topic string
	data  []byte
}

// Hub manages WebSocket client connections and fans out broadcast messages
// to them. It is safe for concurrent use; register, unregister, and
// broadcast all go through channels.
type Hub struct {
	clients    map[*websocket.Conn]*client
	register   chan *client
	unregister chan *websocket.Conn
	broadcast  chan message
	upgrader   websocket.Upgrader

	connected atomic.Int64
	dropped   atomic.Int64
}

// NewHub allocates a hub with buffered channels.
// Call Run in a goroutine to start the event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*client),
		register:   make(chan *client, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan message, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run processes registrations, broadcasts and keepalive pings in a single
// select loop. It closes all clients when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	drop := func(c *websocket.Conn) {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			h.connected.Add(-1)
		}
		_ = c.Close()
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c.conn] = c
			h.connected.Add(1)

		case c := <-h.unregister:
			drop(c)

		case msg := <-h.broadcast:
			for conn, c := range h.clients {
				if !c.wants(msg.topic) {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					drop(conn)
				}
			}

		case <-ping.C:
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					drop(conn)
				}
			}
		}
	}
}

// parseTopics reads the comma-separated ?types= subscription list.
func parseTopics(r *http.Request) map[string]bool {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	topics := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics[t] = true
		}
	}
	if len(topics) == 0 {
		return nil
	}
	return topics
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and registers them with the hub. A ?types= query
// restricts the client to those event topics.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topics := parseTopics(r)
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			return
		}
		h.register <- &client{conn: conn, topics: topics}

		go func() {
			defer func() { h.unregister <- conn }()
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			conn.SetPongHandler(func(string) error {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				return nil
			})

			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

// BroadcastJSON marshals v to JSON and queues it for delivery. If the
// broadcast channel is full the message is dropped to avoid blocking the
// caller.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	msg := message{data: b}
	if t, ok := v.(Topical); ok {
		msg.topic = t.Topic()
	}
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int64 { return h.connected.Load() }

// Dropped returns the number of broadcasts lost to a full queue.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
