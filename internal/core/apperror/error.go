// Package apperror is the error taxonomy of the stock ledger. Every outcome
// reported to a caller is an *AppError with a stable code; the HTTP status is
// derived from the code.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeInternal = "INTERNAL_ERROR"
	CodeStorage  = "STORAGE_ERROR"

	CodeValidation        = "VALIDATION_ERROR"
	CodeInvalidReference  = "INVALID_REFERENCE"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeNotFound          = "NOT_FOUND"

	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeIdempotencyMismatch    = "IDEMPOTENCY_MISMATCH"
)

var statusByCode = map[string]int{
	CodeInternal:               http.StatusInternalServerError,
	CodeStorage:                http.StatusServiceUnavailable,
	CodeValidation:             http.StatusBadRequest,
	CodeInvalidReference:       http.StatusUnprocessableEntity,
	CodeInsufficientStock:      http.StatusUnprocessableEntity,
	CodeNotFound:               http.StatusNotFound,
	CodeConcurrentModification: http.StatusConflict,
	CodeIdempotencyMismatch:    http.StatusConflict,
}

// deterministic codes are final for a given request and ledger state;
// the rest are infrastructure faults that may clear on retry.
var deterministic = map[string]bool{
	CodeValidation:             true,
	CodeInvalidReference:       true,
	CodeInsufficientStock:      true,
	CodeNotFound:               true,
	CodeConcurrentModification: true,
	CodeIdempotencyMismatch:    true,
}

type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"` // never serialized
}

// New builds an error for code. Unknown codes map to 500.
func New(code, message string) *AppError {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

func (e *AppError) withDetails(kv map[string]any) *AppError {
	for k, v := range kv {
		e.WithDetail(k, v)
	}
	return e
}

func NewValidation(message string) *AppError {
	return New(CodeValidation, message)
}

// NewInvalidReference reports an unknown or inactive material or warehouse.
func NewInvalidReference(entity, id, reason string) *AppError {
	return New(CodeInvalidReference, fmt.Sprintf("%s %s is %s", entity, id, reason)).
		withDetails(map[string]any{"entity": entity, "id": id, "reason": reason})
}

func NewInsufficientStock(materialID, warehouseID string, requested, available int64) *AppError {
	return New(CodeInsufficientStock, "Insufficient stock").withDetails(map[string]any{
		"materialId":  materialID,
		"warehouseId": warehouseID,
		"requested":   requested,
		"available":   available,
	})
}

// NewConcurrentModification reports a lost compare-and-swap on one record.
func NewConcurrentModification(entity string, id any) *AppError {
	return New(CodeConcurrentModification, "Record was modified concurrently").
		withDetails(map[string]any{"entity": entity, "id": id})
}

// NewConcurrencyConflict is returned once the admission retry budget is spent.
func NewConcurrencyConflict(key string, attempts int) *AppError {
	return New(CodeConcurrentModification, "Too much contention on stock key, retry later").
		withDetails(map[string]any{"key": key, "attempts": attempts})
}

// NewIdempotencyMismatch: the key was already used for a different request.
func NewIdempotencyMismatch(key string) *AppError {
	return New(CodeIdempotencyMismatch, "Idempotency key was already used for a different request").
		WithDetail("idempotencyKey", key)
}

func NewNotFound(entity string, id any) *AppError {
	return New(CodeNotFound, entity+" not found").
		withDetails(map[string]any{"entity": entity, "id": id})
}

// NewStorage wraps a persistence failure. The operation must be treated as
// not committed.
func NewStorage(op string, err error) *AppError {
	return New(CodeStorage, "Storage unavailable").WithDetail("operation", op).WithCause(err)
}

// WrapStorage passes AppErrors through and turns anything else into
// STORAGE_ERROR. nil stays nil.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsAppError(err); ok {
		return err
	}
	return NewStorage(op, err)
}

// NewInternal hides err from clients; it is kept for logging.
func NewInternal(err error) *AppError {
	return New(CodeInternal, "Internal server error").WithCause(err)
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsCode(err error, code string) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }

func IsConcurrentModification(err error) bool {
	return IsCode(err, CodeConcurrentModification)
}

// IsDeterministic reports whether err is a final outcome of one submission,
// as opposed to an infrastructure fault.
func IsDeterministic(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && deterministic[appErr.Code]
}
