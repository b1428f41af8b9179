package handler

import (
	"fmt"
	"net/http"
	"time"

	"match-service/internal/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict origins once the client domains are fixed
	},
}

type WSHandler struct {
	hub    *ws.Hub
	logger *zap.Logger
}

func NewWSHandler(hub *ws.Hub, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{hub: hub, logger: logger}
}

// HandleConnection upgrades an authenticated request into a live push
// connection. Auth ran in middleware; by here the user id is set.
func (h *WSHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed",
			zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := ws.NewClient(
		fmt.Sprintf("%s_%d", userID, time.Now().UnixNano()),
		userID,
		conn,
		h.hub,
	)
	client.Register()
}
