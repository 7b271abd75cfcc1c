// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"strings"
	"time"

	"stockledger/internal/core/apperror"
)

// --- Paging ---

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// PageRequest contains offset paging parameters.
type PageRequest struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// Defaults sets default paging values.
func (p *PageRequest) Defaults() {
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
}

// ListResponse wraps one page of results.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// --- Common Responses ---

// ErrorResponse documents the error body written by the error middleware.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// --- Time parameters ---

// ParseTime reads an RFC 3339 timestamp or a bare date. Dates are midnight in loc.
// An empty value yields nil.
func ParseTime(field, value string, loc *time.Location) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return &t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(time.DateOnly, value, loc)
	if err != nil {
		return nil, apperror.NewValidation(field+" must be an RFC 3339 timestamp or YYYY-MM-DD date").
			WithDetail("field", field).
			WithDetail("value", value)
	}
	return &t, nil
}
