// Package events broadcasts operational messages to WebSocket subscribers.
package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tjfontaine/twin-gateway/internal/domain"
)

// Message types.
const (
	TypeLog             = "log"
	TypeError           = "error"
	TypeStatus          = "status"
	TypeOperationResult = "operation_result"
)

// Status texts sent by the gateway itself.
const (
	StatusConnected    = "connected"
	StatusShuttingDown = "shutting_down"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
)

// Message is one broadcast frame.
type Message struct {
	Type      string `json:"type"`
	Content   any    `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// OperationResult is the content of an operation_result message.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to every connected client. Delivery is best effort:
// a client whose buffer is full misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *slog.Logger
	now     func() time.Time
}

var _ domain.Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger,
		now:     time.Now,
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and subscribes the connection until it
// closes. The first frame a client receives is a "connected" status.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	if payload, err := h.encode(TypeStatus, StatusConnected); err == nil {
		c.send <- payload
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Info("websocket client connected", slog.String("client_id", c.id))

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop discards inbound frames and unregisters the client on close.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", slog.String("client_id", c.id), slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Warn("websocket write failed", slog.String("client_id", c.id), slog.String("error", err.Error()))
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Info("websocket client disconnected", slog.String("client_id", c.id))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

func (h *Hub) encode(typ string, content any) ([]byte, error) {
	payload, err := json.Marshal(Message{Type: typ, Content: content, Timestamp: h.now().UnixMilli()})
	if err != nil {
		h.logger.Error("failed to encode broadcast", slog.String("type", typ), slog.String("error", err.Error()))
	}
	return payload, err
}

// Broadcast sends a message of type typ to all clients.
func (h *Hub) Broadcast(typ string, content any) {
	payload, err := h.encode(typ, content)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping broadcast for slow client", slog.String("client_id", c.id), slog.String("type", typ))
		}
	}
}

func (h *Hub) SendLog(message string) { h.Broadcast(TypeLog, message) }
func (h *Hub) SendError(message string) { h.Broadcast(TypeError, message) }
func (h *Hub) SendStatus(message string) { h.Broadcast(TypeStatus, message) }

func (h *Hub) SendOperationResult(success bool, message string, data any) {
	h.Broadcast(TypeOperationResult, OperationResult{Success: success, Message: message, Data: data})
}

// Discard is a Notifier that drops every message.
var Discard domain.Notifier = discard{}

type discard struct{}

func (discard) SendLog(string) {}
func (discard) SendError(string) {}
func (discard) SendStatus(string) {}
func (discard) SendOperationResult(bool, string, any) {}
