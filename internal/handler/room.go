package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"messenger/internal/service"
	"messenger/pkg/logger"
)

// RoomHandler exposes the per-user visibility flag to room management.
type RoomHandler struct {
	visibilityService service.VisibilityService
	log               logger.Logger
}

func NewRoomHandler(visibilityService service.VisibilityService, log logger.Logger) *RoomHandler {
	return &RoomHandler{
		visibilityService: visibilityService,
		log:               log,
	}
}

func (h *RoomHandler) Hide(c *gin.Context) {
	h.setHidden(c, true)
}

func (h *RoomHandler) Show(c *gin.Context) {
	h.setHidden(c, false)
}

func (h *RoomHandler) setHidden(c *gin.Context, hidden bool) {
	user, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}

	var err error
	if hidden {
		err = h.visibilityService.Hide(c.Request.Context(), roomID, user.UserID)
	} else {
		err = h.visibilityService.Show(c.Request.Context(), roomID, user.UserID)
	}
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"room_id": roomID, "hidden": hidden})
}

func (h *RoomHandler) Membership(c *gin.Context) {
	user, ok := identity(c)
	if !ok {
		return
	}
	roomID, ok := pathID(c, "room_id")
	if !ok {
		return
	}

	membership, err := h.visibilityService.Membership(c.Request.Context(), roomID, user.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"membership": membership})
}
