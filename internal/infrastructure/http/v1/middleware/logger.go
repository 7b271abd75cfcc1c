package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"stockledger/pkg/logger"
)

// Logger writes one access line per request. Routes are logged by their
// template so material and warehouse ids do not explode cardinality.
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", status,
			"bytes", c.Writer.Size(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.Last().Error())
		}

		entry := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			entry.Warnw("request", fields...)
		case status >= 400:
			entry.Infow("request", fields...)
		default:
			entry.Debugw("request", fields...)
		}
	}
}
