// Package middleware holds the gin middleware shared by the Core's
// HTTP transport: request logging and panic recovery.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/saan-system/uprl-core/pkg/logger"
)

// LoggingMiddleware logs one structured line per request.
func LoggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		log.WithFields(map[string]interface{}{
			"client_ip":   param.ClientIP,
			"timestamp":   param.TimeStamp.Format(time.RFC3339),
			"method":      param.Method,
			"path":        param.Path,
			"status_code": param.StatusCode,
			"latency":     param.Latency,
		}).Info("http request")
		return ""
	})
}

// RecoveryMiddleware turns a panic into a 500 response instead of
// killing the process — no single bad read should take down the Core.
func RecoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithField("error", recovered).Error("panic recovered")
		c.JSON(500, gin.H{"error": "internal server error"})
		c.Abort()
	})
}
