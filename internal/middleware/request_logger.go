package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"messenger/pkg/logger"
)

func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		args := []any{
			"request_id", c.GetString(requestIDKey),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		}
		if userID, ok := c.Get(userIDKey); ok {
			args = append(args, "user_id", userID)
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("HTTP request", args...)
		case status >= 400:
			log.Warn("HTTP request", args...)
		default:
			log.Info("HTTP request", args...)
		}
	}
}
