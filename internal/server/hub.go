package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/babelgas/internal/models"
)

const (
	eventStateChanged = "state_changed"

	sendBuffer = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event is one message on the websocket stream.
type Event struct {
	EventType string    `json:"event_type"`
	Data      EventData `json:"data"`
}

type EventData struct {
	EntityID string       `json:"entity_id"`
	NewState *StateObject `json:"new_state"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans state changes out to websocket subscribers.
type Hub struct {
	logger   *logrus.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			// Origin checks are left to the CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish implements entry.Publisher.
func (h *Hub) Publish(state models.EntityState) {
	obj := renderState(state)
	h.broadcast(Event{
		EventType: eventStateChanged,
		Data:      EventData{EntityID: obj.EntityID, NewState: &obj},
	})
}

// Remove implements entry.Publisher.
func (h *Hub) Remove(uniqueID string) {
	h.broadcast(Event{
		EventType: eventStateChanged,
		Data:      EventData{EntityID: EntityID(uniqueID)},
	})
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal event")
		return
	}

	// Sends happen under the read lock so removeClient cannot close a
	// channel mid-send.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("websocket client too slow, dropping")
		h.removeClient(c)
	}
}

// ServeWS upgrades the request and streams events, starting with one
// state_changed event per entry of initial.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial []StateObject) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer+len(initial))}
	for i := range initial {
		data, err := json.Marshal(Event{
			EventType: eventStateChanged,
			Data:      EventData{EntityID: initial[i].EntityID, NewState: &initial[i]},
		})
		if err == nil {
			c.send <- data
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
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

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
