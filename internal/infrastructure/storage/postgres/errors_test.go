package postgres

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"stockledger/internal/core/apperror"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "stock_transactions_reverses_uq"})
	check := &pgconn.PgError{Code: CodeCheckViolation, ConstraintName: "stock_balances_quantity_nonnegative"}
	deadlock := &pgconn.PgError{Code: CodeDeadlockDetected}

	assert.True(t, IsUniqueViolation(unique, ""))
	assert.True(t, IsUniqueViolation(unique, "stock_transactions_reverses_uq"))
	assert.False(t, IsUniqueViolation(unique, "stock_balances_pkey"))
	assert.False(t, IsUniqueViolation(check, ""))

	assert.True(t, IsCheckViolation(check, "stock_balances_quantity_nonnegative"))
	assert.False(t, IsCheckViolation(fmt.Errorf("plain"), ""))

	assert.True(t, IsRetryable(deadlock))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: CodeSerializationFailure}))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: CodeLockNotAvailable}))
	assert.False(t, IsRetryable(unique))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	lockWait := fmt.Errorf("select for update: %w", &pgconn.PgError{Code: CodeLockNotAvailable})
	err := classify(lockWait)
	assert.True(t, apperror.IsConcurrentModification(err))
	assert.ErrorIs(t, err, lockWait)

	plain := fmt.Errorf("connection refused")
	assert.Same(t, plain, classify(plain))
}
