package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/plexa-app/plexa/internal/logging"
	"github.com/plexa-app/plexa/internal/models"
	"github.com/plexa-app/plexa/internal/presence"
	"github.com/plexa-app/plexa/pkg/jwt"
)

const (
	hubWriteWait  = 10 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingPeriod = (hubPongWait * 9) / 10
	hubSendBuffer = 256
)

// hubClient is one websocket connection inside a note room.
type hubClient struct {
	id     string
	userID string
	noteID models.UUID
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte

	mu       sync.Mutex
	userName string
	cursor   *models.CursorPosition
	lastSeen int64
}

// Hub is the presence fan-out: one room per note, a roster rebuilt and
// broadcast on every membership or cursor change. Nothing here persists;
// a room vanishes with its last connection.
type Hub struct {
	mu    sync.RWMutex
	rooms map[models.UUID]map[string]*hubClient

	register   chan *hubClient
	unregister chan *hubClient
	inbound    chan *clientMessage
	done       chan struct{}
	closeOnce  sync.Once
}

type clientMessage struct {
	client *hubClient
	data   []byte
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[models.UUID]map[string]*hubClient),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		inbound:    make(chan *clientMessage),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until Close.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.inbound:
			h.handleMessage(msg)
		}
	}
}

// Close stops the hub loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// RoomSize reports how many connections a note room holds.
func (h *Hub) RoomSize(noteID models.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[noteID])
}

func (h *Hub) addClient(c *hubClient) {
	h.mu.Lock()
	if h.rooms[c.noteID] == nil {
		h.rooms[c.noteID] = make(map[string]*hubClient)
	}
	h.rooms[c.noteID][c.id] = c
	h.mu.Unlock()

	logging.Debug("presence client joined", map[string]interface{}{
		"note_id": c.noteID, "user_id": c.userID,
	})
	h.broadcastRoster(c.noteID)
}

func (h *Hub) removeClient(c *hubClient) {
	h.mu.Lock()
	room, ok := h.rooms[c.noteID]
	if ok {
		if _, present := room[c.id]; present {
			delete(room, c.id)
			close(c.send)
		}
		if len(room) == 0 {
			delete(h.rooms, c.noteID)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	logging.Debug("presence client left", map[string]interface{}{
		"note_id": c.noteID, "user_id": c.userID,
	})
	h.broadcastRoster(c.noteID)
}

func (h *Hub) handleMessage(cm *clientMessage) {
	var msg presence.Message
	if err := json.Unmarshal(cm.data, &msg); err != nil {
		logging.Warn("malformed presence message", map[string]interface{}{"error": err.Error()})
		return
	}

	switch msg.Type {
	case presence.TypeJoin:
		var p presence.JoinPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return
		}
		cm.client.mu.Lock()
		cm.client.userName = p.User.UserName
		cm.client.lastSeen = time.Now().UnixMilli()
		cm.client.mu.Unlock()
		h.broadcastRoster(cm.client.noteID)

	case presence.TypeCursor:
		var p presence.CursorPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return
		}
		cm.client.mu.Lock()
		cursor := p.Cursor
		cm.client.cursor = &cursor
		cm.client.lastSeen = time.Now().UnixMilli()
		cm.client.mu.Unlock()
		h.broadcastRoster(cm.client.noteID)

	case presence.TypeLeave:
		h.unregisterAsync(cm.client)
	}
}

// unregisterAsync schedules removal without blocking the hub loop.
func (h *Hub) unregisterAsync(c *hubClient) {
	go func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
}

// broadcastRoster sends the authoritative room roster to every
// connection in the note's room. One roster entry per user id: the most
// recently active connection wins.
func (h *Hub) broadcastRoster(noteID models.UUID) {
	h.mu.RLock()
	room := h.rooms[noteID]
	byUser := make(map[string]models.UserPresence, len(room))
	clients := make([]*hubClient, 0, len(room))
	for _, c := range room {
		c.mu.Lock()
		p := models.UserPresence{
			UserID:       c.userID,
			UserName:     c.userName,
			NoteID:       noteID,
			Cursor:       c.cursor,
			LastActivity: c.lastSeen,
		}
		c.mu.Unlock()
		if existing, ok := byUser[c.userID]; !ok || p.LastActivity > existing.LastActivity {
			byUser[c.userID] = p
		}
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	users := make([]models.UserPresence, 0, len(byUser))
	for _, p := range byUser {
		users = append(users, p)
	}

	msg, err := presence.NewMessage(presence.TypeRoster, presence.RosterPayload{
		NoteID: noteID,
		Users:  users,
	})
	if err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			logging.Warn("presence send buffer full, dropping client", map[string]interface{}{
				"note_id": noteID, "user_id": c.userID,
			})
			h.unregisterAsync(c)
		}
	}
}

func (c *hubClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn("presence read error", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		select {
		case c.hub.inbound <- &clientMessage{client: c, data: data}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// PresenceHandler upgrades GET /ws/presence/{noteID} connections into
// hub clients. Auth runs here rather than in middleware so the upgrade
// path stays hijackable.
type PresenceHandler struct {
	hub       *Hub
	jwtSecret string
	upgrader  websocket.Upgrader
}

func NewPresenceHandler(hub *Hub, jwtSecret string) *PresenceHandler {
	return &PresenceHandler{
		hub:       hub,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := ""
	if h.jwtSecret != "" {
		token := bearerToken(r)
		claims, err := jwt.ValidateToken(token, h.jwtSecret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID = claims.UserID
	}
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if userID == "" {
		http.Error(w, "user identity required", http.StatusBadRequest)
		return
	}

	noteID := models.UUID(mux.Vars(r)["noteID"])
	if noteID == "" {
		http.Error(w, "note id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("presence upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &hubClient{
		id:       uuid.New().String(),
		userID:   userID,
		noteID:   noteID,
		conn:     conn,
		hub:      h.hub,
		send:     make(chan []byte, hubSendBuffer),
		lastSeen: time.Now().UnixMilli(),
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return r.URL.Query().Get("token")
}
