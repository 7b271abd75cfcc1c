package middleware

import (
	"github.com/gin-gonic/gin"

	"stockledger/internal/core/apperror"
	"stockledger/internal/infrastructure/http/v1/dto"
	"stockledger/pkg/logger"
)

// ErrorHandler renders the last error recorded by a handler.
// Anything that is not an AppError becomes a 500 without internals.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr, ok := apperror.AsAppError(err)
		if !ok {
			appErr = apperror.NewInternal(err)
		}
		if appErr.Err != nil {
			logger.Error(c.Request.Context(), "request failed",
				"code", appErr.Code,
				"route", c.FullPath(),
				"cause", appErr.Err,
			)
		}
		writeError(c, appErr)
	}
}

// writeError aborts with the JSON error body. Server errors carry the
// request id so operators can find the log line.
func writeError(c *gin.Context, appErr *apperror.AppError) {
	body := dto.ErrorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: map[string]any{},
	}
	for k, v := range appErr.Details {
		body.Details[k] = v
	}
	if appErr.HTTPStatus >= 500 {
		body.Details["request_id"] = c.GetString("request_id")
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus, body)
}
