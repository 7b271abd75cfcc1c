package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the repositories react to.
const (
	CodeUniqueViolation      = "23505"
	CodeCheckViolation       = "23514"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
)

// PgError extracts *pgconn.PgError from err.
func PgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// IsUniqueViolation reports a unique violation, optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	pgErr, ok := PgError(err)
	if !ok || pgErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsCheckViolation reports a CHECK constraint violation on constraint.
func IsCheckViolation(err error, constraint string) bool {
	pgErr, ok := PgError(err)
	return ok && pgErr.Code == CodeCheckViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}

// IsRetryable reports errors that a fresh attempt of the same transaction may not hit.
func IsRetryable(err error) bool {
	pgErr, ok := PgError(err)
	if !ok {
		return false
	}
	switch pgErr.Code {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable:
		return true
	}
	return false
}
