package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"messenger/pkg/errors"
	"messenger/pkg/logger"
)

// ErrorHandler renders the last error attached with c.Error. Server-side
// failures are logged and replaced with a generic message.
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		statusCode := errors.HTTPStatusFromError(err)
		if statusCode >= http.StatusInternalServerError {
			log.Error("Request failed",
				"method", c.Request.Method,
				"path", c.FullPath(),
				"request_id", c.GetString(requestIDKey),
				"error", err,
			)
		}

		c.JSON(statusCode, gin.H{
			"success": false,
			"error":   errors.PublicMessage(err),
		})
	}
}
