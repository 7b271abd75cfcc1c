package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFollowsCode(t *testing.T) {
	cases := []struct {
		err    *AppError
		status int
	}{
		{NewValidation("bad"), http.StatusBadRequest},
		{NewInvalidReference("material", "M9", "unknown"), http.StatusUnprocessableEntity},
		{NewInsufficientStock("M1", "W1", 5, 2), http.StatusUnprocessableEntity},
		{NewNotFound("transaction", "x"), http.StatusNotFound},
		{NewConcurrencyConflict("M1@W1", 3), http.StatusConflict},
		{NewIdempotencyMismatch("k"), http.StatusConflict},
		{NewStorage("append", errors.New("down")), http.StatusServiceUnavailable},
		{NewInternal(errors.New("boom")), http.StatusInternalServerError},
		{New("SOMETHING_NEW", "?"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.HTTPStatus, tc.err.Code)
	}
}

func TestWrapStorage(t *testing.T) {
	assert.NoError(t, WrapStorage("op", nil))

	notFound := NewNotFound("transaction", "x")
	assert.Same(t, notFound, WrapStorage("op", notFound))

	cause := errors.New("connection reset")
	err := WrapStorage("append", cause)
	assert.True(t, IsCode(err, CodeStorage))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsDeterministic(err))
}

func TestAsAppError_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("submit: %w", NewInsufficientStock("M1", "W1", 5, 2))
	appErr, ok := AsAppError(err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), appErr.Details["available"])
	assert.True(t, IsDeterministic(err))
}
