// Package handlers adapts the ledger services to gin.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"stockledger/internal/core/apperror"
)

// BaseHandler holds the binding and response helpers shared by all handlers.
// Handlers only register errors; middleware.ErrorHandler writes the body.
type BaseHandler struct{}

func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	return h.bind(c, c.ShouldBindJSON(obj), "invalid request body")
}

// BindOptionalJSON leaves obj untouched when the request has no body.
func (h *BaseHandler) BindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return h.BindJSON(c, obj)
}

func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	return h.bind(c, c.ShouldBindQuery(obj), "invalid query parameters")
}

func (h *BaseHandler) bind(c *gin.Context, err error, msg string) bool {
	if err == nil {
		return true
	}
	appErr := apperror.NewValidation(msg)

	// Field rules report the first failing field like the service validators do.
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		appErr = appErr.WithDetail("field", fe.Field()).WithDetail("rule", fe.Tag())
		if fe.Param() != "" {
			appErr = appErr.WithDetail("limit", fe.Param())
		}
	} else {
		appErr = appErr.WithDetail("error", err.Error())
	}
	h.Error(c, appErr)
	return false
}

// Error records err for the error middleware and stops the chain.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

func (h *BaseHandler) OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}
