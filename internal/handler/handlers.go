package handler

import (
	"github.com/gin-gonic/gin"
	"messenger/internal/config"
	"messenger/internal/realtime"
	"messenger/internal/service"
	"messenger/pkg/logger"
)

type Handlers struct {
	Health    *HealthHandler
	Message   *MessageHandler
	Room      *RoomHandler
	WebSocket *WebSocketHandler
}

func NewHandlers(services *service.Services, gateway *realtime.Gateway, cfg *config.Config, log logger.Logger) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(gateway.Hub(), cfg),
		Message:   NewMessageHandler(gateway, services.Message, services.Receipt, services.Visibility, log),
		Room:      NewRoomHandler(services.Visibility, log),
		WebSocket: NewWebSocketHandler(gateway, cfg.Gateway.AllowedOrigins, log),
	}
}

// Register mounts every route. requireAuth guards /api/v1 and /ws; limit
// throttles the REST API per user.
func (h *Handlers) Register(router *gin.Engine, requireAuth, limit gin.HandlerFunc) {
	router.GET("/health", h.Health.Check)

	router.GET("/ws", requireAuth, h.WebSocket.Handle)

	v1 := router.Group("/api/v1")
	v1.Use(requireAuth, limit)
	{
		messages := v1.Group("/messages")
		{
			messages.POST("/send", h.Message.Send)
			messages.GET("/room/:room_id", h.Message.RoomMessages)
			messages.GET("/room/:room_id/latest", h.Message.Latest)
			messages.POST("/read/:message_id", h.Message.MarkRead)
			messages.POST("/read-all/:room_id", h.Message.MarkAllRead)
			messages.GET("/unread/:room_id", h.Message.Unread)
			messages.GET("/:message_id", h.Message.Get)
		}

		rooms := v1.Group("/rooms")
		{
			rooms.POST("/:room_id/hide", h.Room.Hide)
			rooms.POST("/:room_id/show", h.Room.Show)
			rooms.GET("/:room_id/membership", h.Room.Membership)
		}
	}
}
