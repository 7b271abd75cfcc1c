// Package id issues transaction identifiers. They are UUIDv7, so they sort
// roughly by admission time.
package id

import (
	"errors"

	"github.com/google/uuid"
)

type ID = uuid.UUID

// ErrNil is returned by Parse for the all-zero UUID.
var ErrNil = errors.New("id must not be the nil uuid")

// New falls back to a random UUID only if the clock source fails.
func New() ID {
	if v, err := uuid.NewV7(); err == nil {
		return v
	}
	return uuid.New()
}

// Parse accepts any UUID text form except the nil UUID.
func Parse(s string) (ID, error) {
	v, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, err
	}
	if v == uuid.Nil {
		return uuid.Nil, ErrNil
	}
	return v, nil
}

func IsNil(v ID) bool { return v == uuid.Nil }
