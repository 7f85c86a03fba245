// Package ws delivers nudges to connected end users over websockets.
// The hub keeps at most one connection per user; the worker publishes
// nudges over Redis pub/sub and the server fans them in here.
package ws

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The SDK connects from arbitrary customer origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks live connections by user ID.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*websocket.Conn
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*websocket.Conn),
		logger: logger,
	}
}

// Handle upgrades the request and registers the connection under the
// user_id route parameter. A new connection for a user displaces the
// previous one.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}

	h.register(userID, conn)
	h.logger.Info("websocket connected", slog.String("user_id", userID))

	// Reads are drained only to detect the close; clients never send
	// application data.
	go func() {
		defer h.unregister(userID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Send writes a payload to the user's connection if one is live.
// Returns false when the user is not connected or the write failed.
func (h *Hub) Send(userID string, payload []byte) bool {
	h.mu.RLock()
	conn := h.conns[userID]
	h.mu.RUnlock()
	if conn == nil {
		return false
	}

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.logger.Warn("websocket write failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		h.unregister(userID, conn)
		return false
	}
	return true
}

// Connected reports whether the user currently has a live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[userID] != nil
}

func (h *Hub) register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	prev := h.conns[userID]
	h.conns[userID] = conn
	h.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func (h *Hub) unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	if h.conns[userID] == conn {
		delete(h.conns, userID)
	}
	h.mu.Unlock()
	conn.Close()
}
