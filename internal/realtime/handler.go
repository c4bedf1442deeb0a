package realtime

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kallied-admin/backend/internal/server/httpx"
	"kallied-admin/backend/internal/server/middleware"
)

// Handler upgrades authenticated requests at /ws and registers them with the hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler returns a WebSocket handler. allowedOrigins lists the browser origins that may connect;
// "*" allows any. Requests without an Origin header are accepted.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// ServeWS handles GET /ws.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing or invalid authorization")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.hub.logger.Debug("realtime: upgrade failed", zap.Error(err))
		return
	}
	c := newClient(h.hub, conn, userID, uuid.New().String())
	select {
	case h.hub.register <- c:
	case <-h.hub.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
	h.hub.logger.Debug("realtime: client connected", zap.String("client_id", c.id), zap.String("user_id", userID))
}
