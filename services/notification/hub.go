package notification

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// conn pairs a websocket with its own write lock; gorilla connections
// allow only one concurrent writer. Locking per connection keeps a
// stalled client from blocking pushes to anyone else.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(payload)
}

// Hub is the directory of live websocket connections keyed by user id.
// One user may hold several connections (multiple tabs or devices);
// Send fans out to all of them. A connection that fails a write is
// evicted on the spot.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]*conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]*conn)}
}

func (h *Hub) Register(userID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]*conn)
	}
	h.conns[userID][ws] = &conn{ws: ws}
}

func (h *Hub) Unregister(userID string, ws *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.conns[userID]; set != nil {
		delete(set, ws)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}

// Send pushes the payload to every live connection of the user. Delivery
// is best-effort; a missing or broken connection is not an error.
func (h *Hub) Send(userID string, payload any) {
	h.mu.RLock()
	set := h.conns[userID]
	targets := make([]*conn, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(payload); err != nil {
			zap.L().Debug("evicting dead websocket connection",
				zap.String("user_id", userID), zap.Error(err))
			h.Unregister(userID, c.ws)
			c.ws.Close()
		}
	}
}

// Connected reports how many live connections the user currently holds.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}
