package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "stockledger/internal/core/context"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// Trace adopts or generates request and trace ids and echoes them back.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := appctx.NewTrace(c.GetHeader(HeaderRequestID), c.GetHeader(HeaderTraceID))
		c.Request = c.Request.WithContext(appctx.WithTrace(c.Request.Context(), t))

		c.Set("request_id", t.RequestID)
		c.Header(HeaderRequestID, t.RequestID)
		c.Header(HeaderTraceID, t.TraceID)

		c.Next()
	}
}
