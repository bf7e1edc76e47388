package stubapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shotonme/shotonme/pkg/middleware"
)

const (
	sendBuffer   = 64
	pingInterval = 25 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// envelope mirrors push.Envelope on the server side.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub fans push events out to connected users.
type Hub struct {
	upgrader websocket.Upgrader
	metrics  *middleware.Metrics
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

type conn struct {
	user string
	ws   *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(m *middleware.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: m,
		logger:  logger,
		conns:   make(map[*conn]struct{}),
	}
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Serve upgrades the request and keeps the connection until the client goes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, user string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	c := &conn{user: user, ws: ws, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.PushConnected()
	h.logger.Info("push client connected", "user", user)

	go h.writePump(c)
	h.readPump(c)
}

// Publish sends event to the listed users, or to everyone when none are listed.
func (h *Hub) Publish(event string, data any, users ...string) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("push payload not encodable", "event", event, "error", err)
		return
	}
	frame, err := json.Marshal(envelope{Event: event, Data: raw})
	if err != nil {
		return
	}

	want := make(map[string]bool, len(users))
	for _, u := range users {
		want[u] = true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.metrics.PushPublished(event)
	for c := range h.conns {
		if len(want) > 0 && !want[c.user] {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("push client too slow, frame dropped", "user", c.user, "event", event)
		}
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	close(c.send)
	h.mu.Unlock()
	h.metrics.PushDisconnected()
	h.logger.Info("push client disconnected", "user", c.user)
}

// readPump discards client frames and notices disconnects.
func (h *Hub) readPump(c *conn) {
	defer func() {
		h.remove(c)
		c.ws.Close()
	}()
	c.ws.SetReadLimit(64 << 10)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
