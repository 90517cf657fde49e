// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"kiosk-control/internal/utils"
)

// skipPaths are high-frequency probe endpoints kept out of the request log
var skipPaths = map[string]bool{
	"/live":  true,
	"/ready": true,
}

// LoggingMiddleware logs every completed request through the service logger
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if skipPaths[c.Request.URL.Path] {
			return
		}

		logger.LogAPIRequest(
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}
