package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"messenger/internal/config"
)

type ConnectionCounter interface {
	Count() int
}

type HealthHandler struct {
	connections ConnectionCounter
	storage     string
}

func NewHealthHandler(connections ConnectionCounter, cfg *config.Config) *HealthHandler {
	return &HealthHandler{
		connections: connections,
		storage:     cfg.Storage.Driver,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"service":     "messenger",
		"storage":     h.storage,
		"connections": h.connections.Count(),
	})
}
