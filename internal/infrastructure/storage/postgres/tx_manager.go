package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/tx"
	"stockledger/pkg/logger"
)

var tracer = otel.Tracer("stockledger/postgres")

var _ tx.SnapshotManager = (*TxManager)(nil)

// TxOptions are applied with SET LOCAL at the start of each transaction.
// Zero timeouts leave the server default.
type TxOptions struct {
	IsolationLevel   pgx.TxIsoLevel
	AccessMode       pgx.TxAccessMode
	StatementTimeout time.Duration
	LockTimeout      time.Duration
}

// WriteTxOptions are used for admissions and snapshot maintenance.
// Row locks on stock_balances serialize writers, so READ COMMITTED is enough.
func WriteTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel:   pgx.ReadCommitted,
		AccessMode:       pgx.ReadWrite,
		StatementTimeout: 30 * time.Second,
	}
}

// SnapshotTxOptions are used for reports: every statement sees the same cut.
func SnapshotTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel:   pgx.RepeatableRead,
		AccessMode:       pgx.ReadOnly,
		StatementTimeout: 2 * time.Minute,
	}
}

// TxManager keeps the current pgx.Tx in the context. Nested calls join
// the outer transaction.
type TxManager struct {
	pool  *pgxpool.Pool
	write TxOptions
	read  TxOptions
}

func NewTxManager(pool *Pool) *TxManager {
	return &TxManager{pool: pool.Pool, write: WriteTxOptions(), read: SnapshotTxOptions()}
}

// WithStatementTimeout overrides the statement timeout of write transactions.
func (m *TxManager) WithStatementTimeout(d time.Duration) *TxManager {
	if d > 0 {
		m.write.StatementTimeout = d
	}
	return m
}

// WithLockTimeout bounds how long a write transaction waits for a row lock.
// A timeout surfaces as CONCURRENT_MODIFICATION so the guard retries.
func (m *TxManager) WithLockTimeout(d time.Duration) *TxManager {
	if d > 0 {
		m.write.LockTimeout = d
	}
	return m
}

type txKey struct{}

func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.runWith(ctx, m.write, "tx.write", fn)
}

func (m *TxManager) ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.runWith(ctx, m.read, "tx.snapshot", fn)
}

func (m *TxManager) runWith(ctx context.Context, opts TxOptions, name string, fn func(ctx context.Context) error) error {
	if m.GetTx(ctx) != nil {
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.isolation", string(opts.IsolationLevel)),
		attribute.String("db.access_mode", string(opts.AccessMode)),
	))
	defer span.End()

	err := classify(m.run(ctx, opts, fn))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (m *TxManager) run(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error {
	pgTx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: opts.IsolationLevel, AccessMode: opts.AccessMode})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback after Commit is a no-op; it must run even when ctx is cancelled.
	defer func() { _ = pgTx.Rollback(context.WithoutCancel(ctx)) }()

	if err := setLocal(ctx, pgTx, "statement_timeout", opts.StatementTimeout); err != nil {
		return err
	}
	if err := setLocal(ctx, pgTx, "lock_timeout", opts.LockTimeout); err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, txKey{}, pgTx)); err != nil {
		logger.Debug(ctx, "transaction rolled back", "error", err)
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func setLocal(ctx context.Context, pgTx pgx.Tx, name string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	// set_config(..., true) is SET LOCAL with a bind parameter.
	if _, err := pgTx.Exec(ctx, "SELECT set_config($1, $2, true)", name, strconv.FormatInt(d.Milliseconds(), 10)); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// classify turns transient lock and serialization failures into
// CONCURRENT_MODIFICATION, which the guard retries.
func classify(err error) error {
	if err == nil || !IsRetryable(err) {
		return err
	}
	if _, ok := apperror.AsAppError(err); ok {
		return err
	}
	return apperror.NewConcurrentModification("transaction", nil).WithCause(err)
}

// GetTx returns the transaction carried by ctx, or nil.
func (m *TxManager) GetTx(ctx context.Context) pgx.Tx {
	t, _ := ctx.Value(txKey{}).(pgx.Tx)
	return t
}

// Querier is satisfied by both pgx.Tx and *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetQuerier returns the transaction in ctx or the pool.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if t := m.GetTx(ctx); t != nil {
		return t
	}
	return m.pool
}
