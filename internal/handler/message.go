package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"messenger/internal/domain"
	"messenger/internal/realtime"
	"messenger/internal/service"
	apperrors "messenger/pkg/errors"
	"messenger/pkg/logger"
)

// MessageGateway runs pull-path mutations through the same code as live
// events so they are ordered with them and broadcast identically.
type MessageGateway interface {
	SendMessage(ctx context.Context, userID int64, req realtime.SendRequest) (*domain.Message, error)
	MarkRead(ctx context.Context, userID, messageID, roomID int64) (*domain.ReadResult, error)
	MarkAllRead(ctx context.Context, userID, roomID int64) (int64, error)
}

type MessageHandler struct {
	gateway           MessageGateway
	messageService    service.MessageService
	receiptService    service.ReceiptService
	visibilityService service.VisibilityService
	log               logger.Logger
}

func NewMessageHandler(
	gateway MessageGateway,
	messageService service.MessageService,
	receiptService service.ReceiptService,
	visibilityService service.VisibilityService,
	log logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		gateway:           gateway,
		messageService:    messageService,
		receiptService:    receiptService,
		visibilityService: visibilityService,
		log:               log,
	}
}

type SendMessageRequest struct {
	RoomID  int64  `json:"room_id" binding:"required"`
	Type    string `json:"type"`
	Content string `json:"content"`
	// MessageType is the legacy spelling of Type.
	MessageType string `json:"message_type"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperrors.Validation("invalid request body: %v", err))
		return
	}
	messageType, err := service.MessageTypeField(req.Type, req.MessageType)
	if err != nil {
		fail(c, err)
		return
	}

	message, err := h.gateway.SendMessage(c.Request.Context(), user.UserID, realtime.SendRequest{
		RoomID:      req.RoomID,
		Content:     req.Content,
		MessageType: messageType,
	})
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusCreated, gin.H{"message": message})
}

// RoomMessages returns the whole history oldest first, or the newest page
// when limit or offset is given.
func (h *MessageHandler) RoomMessages(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}

	limit, hasLimit, err := queryInt(c, "limit")
	if err != nil {
		fail(c, err)
		return
	}
	offset, hasOffset, err := queryInt(c, "offset")
	if err != nil {
		fail(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.visibilityService.RequireParticipant(ctx, roomID, user.UserID); err != nil {
		fail(c, err)
		return
	}

	messages, err := h.messageService.FetchRange(ctx, roomID, user.UserID, service.HistoryPage(hasLimit || hasOffset, limit, offset))
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"messages": messages})
}

func (h *MessageHandler) Latest(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.visibilityService.RequireParticipant(ctx, roomID, user.UserID); err != nil {
		fail(c, err)
		return
	}

	message, err := h.messageService.Latest(ctx, roomID, user.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"message": message})
}

func (h *MessageHandler) Get(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	message, err := h.messageService.Get(ctx, messageID, user.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.visibilityService.RequireParticipant(ctx, message.RoomID, user.UserID); err != nil {
		// outsiders learn nothing about message ids
		fail(c, apperrors.ErrMessageNotFound)
		return
	}

	respond(c, http.StatusOK, gin.H{"message": message})
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}

	result, err := h.gateway.MarkRead(c.Request.Context(), user.UserID, messageID, 0)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"already_read": !result.Created})
}

func (h *MessageHandler) MarkAllRead(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}

	affected, err := h.gateway.MarkAllRead(c.Request.Context(), user.UserID, roomID)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"affected": affected})
}

func (h *MessageHandler) Unread(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.visibilityService.RequireParticipant(ctx, roomID, user.UserID); err != nil {
		fail(c, err)
		return
	}

	count, err := h.receiptService.UnreadCount(ctx, roomID, user.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"unread_count": count})
}
