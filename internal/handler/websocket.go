package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"messenger/internal/domain"
	"messenger/pkg/logger"
)

// SocketServer runs an authenticated connection until it closes.
type SocketServer interface {
	Serve(ctx context.Context, ws *websocket.Conn, identity domain.Identity)
}

type WebSocketHandler struct {
	server   SocketServer
	upgrader websocket.Upgrader
	log      logger.Logger
}

// NewWebSocketHandler accepts any origin when allowedOrigins is empty.
func NewWebSocketHandler(server SocketServer, allowedOrigins []string, log logger.Logger) *WebSocketHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}

	return &WebSocketHandler{
		server: server,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[strings.ToLower(origin)]
				return ok
			},
		},
		log: log,
	}
}

// Handle upgrades a request that already passed authentication.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.log.Warn("Failed to upgrade connection", "user_id", user.UserID, "error", err)
		return
	}

	h.server.Serve(c.Request.Context(), ws, user)
}
