// WebSocket fan-out for the desktop UI. The hub subscribes to the
// internal event bus and forwards every event to connected localhost
// clients, so the UI sees sync, conflict and presence changes live.
package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/plexa-app/plexa/internal/events"
	"github.com/plexa-app/plexa/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The desktop API only serves the local UI.
		host := r.Host
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		return host == "localhost" || host == "127.0.0.1"
	},
}

// WSEnvelope wraps every message pushed to UI clients.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// WSClient is one connected UI window.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub maintains UI connections and fans bus events out to them.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	closeOnce  sync.Once
}

// NewWSHub creates the hub and starts its dispatch loop.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

// Forward subscribes to the bus and rebroadcasts every event until the
// hub is closed. Runs in its own goroutine.
func (h *WSHub) Forward(bus *events.Bus) {
	ch, cancel := bus.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				h.Broadcast(string(ev.Type), ev.Data)
			case <-h.done:
				return
			}
		}
	}()
}

// Broadcast queues an envelope for every connected client.
func (h *WSHub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("marshal ws envelope", err)
		return
	}
	select {
	case h.broadcast <- raw:
	case <-h.done:
	}
}

// Close stops the dispatch loop and disconnects every client.
func (h *WSHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client.id] = client
			logging.Debug("ui client connected", map[string]interface{}{
				"client_id": client.id,
				"total":     len(h.clients),
			})

		case client := <-h.unregister:
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}

		case message := <-h.broadcast:
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client; drop it rather than stall the hub.
					delete(h.clients, id)
					close(client.send)
				}
			}

		case <-h.done:
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			return
		}
	}
}

// ServeWS upgrades an HTTP request into a UI event stream.
func (h *WSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("ws upgrade failed", err)
		return
	}

	client := &WSClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		// UI clients only listen; reads exist to notice the close.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
