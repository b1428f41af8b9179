package ws

import (
	"encoding/json"
	"sync"
	"time"

	xerrors "match-service/pkg/utils/errors"

	"go.uber.org/zap"
)

// Envelope is the frame every push wears on the wire. Type carries the
// topic tag; routing beyond that is the client's concern.
type Envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// DisconnectFunc is invoked when a user's last connection is gone.
type DisconnectFunc func(userID string)

// Hub owns the live-connection registry. A user may hold several
// simultaneous connections (phone + browser); the hub only reports a
// detach once the last one drops.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // userID -> connections

	register   chan *Client
	unregister chan *Client

	onDisconnect DisconnectFunc
	logger       *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// OnDisconnect installs the hook called after a user's last connection
// closes. Must be set before Run.
func (h *Hub) OnDisconnect(fn DisconnectFunc) {
	h.onDisconnect = fn
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[c.UserID] = conns
	}
	conns[c] = struct{}{}
	total := len(conns)
	h.mu.Unlock()

	h.logger.Info("ws client connected",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.UserID),
		zap.Int("connections", total))
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	conns, ok := h.clients[c.UserID]
	if ok {
		if _, present := conns[c]; present {
			delete(conns, c)
			close(c.Send)
		}
		if len(conns) == 0 {
			delete(h.clients, c.UserID)
		}
	}
	last := ok && len(conns) == 0
	h.mu.Unlock()

	h.logger.Info("ws client disconnected",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.UserID),
		zap.Bool("last_connection", last))

	// The hook does store work with its own timeout; keep it off the run
	// loop so a slow backend cannot stall register/unregister traffic.
	if last && h.onDisconnect != nil {
		go h.onDisconnect(c.UserID)
	}
}

// IsAttached reports whether the user holds at least one live connection.
func (h *Hub) IsAttached(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Send pushes a payload to every connection the user holds. Returns
// ErrNotAttached when there is nothing to push to.
func (h *Hub) Send(userID, topic string, payload interface{}) error {
	data, err := json.Marshal(Envelope{
		Type:      topic,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return xerrors.ErrNotAttached
	}

	delivered := 0
	for _, c := range conns {
		select {
		case c.Send <- data:
			delivered++
		default:
			h.logger.Warn("ws send buffer full, dropping frame",
				zap.String("client_id", c.ID),
				zap.String("user_id", userID),
				zap.String("topic", topic))
		}
	}
	if delivered == 0 {
		return xerrors.ErrNotAttached
	}
	return nil
}

// ConnectedUsers returns how many distinct users are attached.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
