// Package middleware holds the gin middleware of the ledger API.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"stockledger/internal/core/apperror"
	"stockledger/pkg/logger"
)

// Recovery turns a handler panic into a 500. The stack goes to the log only.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error(c.Request.Context(), "handler panicked",
				"panic", r,
				"route", c.FullPath(),
				"stack", string(debug.Stack()),
			)
			// The error middleware sits inside this one and has already returned.
			if c.Writer.Written() {
				c.Abort()
				return
			}
			writeError(c, apperror.NewInternal(fmt.Errorf("panic: %v", r)))
		}()
		c.Next()
	}
}
