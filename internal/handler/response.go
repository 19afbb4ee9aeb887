package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"messenger/internal/domain"
	"messenger/internal/middleware"
	apperrors "messenger/pkg/errors"
)

func respond(c *gin.Context, status int, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["success"] = true
	c.JSON(status, payload)
}

// fail hands err to middleware.ErrorHandler.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func identity(c *gin.Context) (domain.Identity, bool) {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		fail(c, apperrors.ErrUnauthorized)
	}
	return id, ok
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		fail(c, apperrors.Validation("invalid %s", name))
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) (int, bool, error) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, apperrors.Validation("invalid %s", name)
	}
	return n, true, nil
}
