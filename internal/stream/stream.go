package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mycoool/boneagent/internal/eventbus"
	"github.com/mycoool/boneagent/internal/logging"
)

// writeWait bounds a single write so a stalled client cannot hold up a broadcast.
const writeWait = 10 * time.Second

// WebSocket message
type WsMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Hub fans events out to every connected WebSocket client.
type Hub struct {
	clients    map[*websocket.Conn]*sync.Mutex
	clientsMux sync.RWMutex
	upgrader   websocket.Upgrader
	log        logging.Logger

	writeTimeout time.Duration
}

// NewHub returns an empty Hub.
func NewHub(log logging.Logger) *Hub {
	if log == nil {
		log = logging.New("stream")
	}
	return &Hub{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		upgrader: websocket.Upgrader{
			// only local consumers reach the status listener
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:          log,
		writeTimeout: writeWait,
	}
}

// add WebSocket connection
func (h *Hub) AddClient(conn *websocket.Conn) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	h.clients[conn] = &sync.Mutex{}
}

// remove WebSocket connection
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	delete(h.clients, conn)
}

// get client count
func (h *Hub) ClientCount() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}

// Broadcast sends message to all connected clients, dropping the ones that fail.
func (h *Hub) Broadcast(message WsMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.WithError(err).Error("failed to encode stream message")
		return
	}

	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()

	for client, writeMu := range h.clients {
		if err := writeTo(client, writeMu, data, h.writeTimeout); err != nil {
			// connection disconnected, remove client
			go func(conn *websocket.Conn) {
				h.RemoveClient(conn)
				conn.Close()
			}(client)
		}
	}
}

// Forward relays every event published on bus to the connected clients and
// returns a function that stops forwarding.
func (h *Hub) Forward(bus *eventbus.Bus) func() {
	return bus.SubscribeAll(func(ev eventbus.Event) {
		h.Broadcast(WsMessage{
			Type:      ev.Type,
			Timestamp: time.Now(),
			Data:      ev.Fields(),
		})
	})
}

// HandleWebSocket upgrades the request and keeps the connection until the client leaves.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "WebSocket upgrade failed"})
		return
	}
	defer func() {
		h.RemoveClient(conn)
		conn.Close()
	}()

	h.AddClient(conn)
	h.log.WithField("clients", h.ClientCount()).Info("stream client connected")

	if err := h.send(conn, WsMessage{
		Type:      "connected",
		Timestamp: time.Now(),
		Data:      map[string]string{"message": "WebSocket connected successfully"},
	}); err != nil {
		h.log.WithError(err).Warn("error writing connected message")
		return
	}

	// keep connection, handle heartbeat
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var clientMsg map[string]interface{}
		if json.Unmarshal(message, &clientMsg) == nil {
			if msgType, ok := clientMsg["type"].(string); ok && msgType == "ping" {
				if err := h.send(conn, WsMessage{
					Type:      "pong",
					Timestamp: time.Now(),
					Data:      map[string]string{"message": "pong"},
				}); err != nil {
					h.log.WithError(err).Warn("error writing pong message")
					return
				}
			}
		}
	}

	h.log.WithField("clients", h.ClientCount()-1).Info("stream client disconnected")
}

func (h *Hub) send(conn *websocket.Conn, msg WsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.clientsMux.RLock()
	writeMu := h.clients[conn]
	h.clientsMux.RUnlock()
	if writeMu == nil {
		writeMu = &sync.Mutex{}
	}
	return writeTo(conn, writeMu, data, h.writeTimeout)
}

// gorilla connections allow one concurrent writer
func writeTo(conn *websocket.Conn, mu *sync.Mutex, data []byte, timeout time.Duration) error {
	mu.Lock()
	defer mu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
