package notify

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wookieewrath/OnMyWay/internal/observability"
)

// Event types pushed to UI shells.
const (
	LoginSucceeded    = "login.succeeded"
	LoginFailed       = "login.failed"
	CurrentUserPulled = "current_user.pulled"
	UserDeleted       = "user.deleted"
	UserDeleteFailed  = "user.delete_failed"
	RequestCreated    = "request.created"
)

type Event struct {
	Type  string    `json:"type"`
	At    time.Time `json:"at"`
	Data  any       `json:"data,omitempty"`
	Error string    `json:"error,omitempty"`
}

const writeWait = 5 * time.Second

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(e)
}

// Hub fans session events out to every connected websocket client.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "notify"),
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades the request and keeps the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn}
	h.add(c)
	go h.readLoop(c)
}

// readLoop discards inbound frames; it exists to notice closed peers.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	observability.WSClients.Inc()
	h.logger.Debug("client connected", "clients", n)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = c.conn.Close()
	observability.WSClients.Dec()
}

// Broadcast writes e to every client. Clients that fail the write are dropped.
func (h *Hub) Broadcast(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(e); err != nil {
			h.logger.Info("dropping websocket client", "event", e.Type, "error", err)
			h.remove(c)
		}
	}
}

// Len is the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.remove(c)
	}
}
