// Package ledger_repo provides the PostgreSQL ledger and balance snapshot repositories.
package ledger_repo

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/storage/postgres"
)

const (
	transactionsTable = "stock_transactions"

	idempotencyConstraint = "stock_transactions_idempotency_uq"
	reversesIndex         = "stock_transactions_reverses_uq"
)

var transactionColumns = postgres.ExtractDBColumns[ledger.StockTransaction]()

var _ ledger.Store = (*LedgerRepo)(nil)

// LedgerRepo implements ledger.Store.
type LedgerRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewLedgerRepo creates a new ledger repository.
func NewLedgerRepo(txm *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append inserts rec. A committed record with the same (actor, idempotency key)
// wins: it is returned and nothing is written.
func (r *LedgerRepo) Append(ctx context.Context, rec ledger.StockTransaction) (ledger.StockTransaction, error) {
	if err := rec.Validate(); err != nil {
		return ledger.StockTransaction{}, apperror.NewValidation(err.Error())
	}

	sql, args, err := r.insertQuery(rec).ToSql()
	if err != nil {
		return ledger.StockTransaction{}, fmt.Errorf("build insert: %w", err)
	}

	var stored ledger.StockTransaction
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &stored, sql, args...)
	switch {
	case err == nil:
		return stored, nil
	case pgxscan.NotFound(err):
		// ON CONFLICT DO NOTHING: the key is taken.
		existing, found, err := r.FindByIdempotencyKey(ctx, rec.ActorID, rec.IdempotencyKey)
		if err != nil {
			return ledger.StockTransaction{}, err
		}
		if !found {
			return ledger.StockTransaction{}, fmt.Errorf("idempotency key %q conflicted but is not visible", rec.IdempotencyKey)
		}
		return existing, nil
	case postgres.IsUniqueViolation(err, reversesIndex):
		return ledger.StockTransaction{}, apperror.NewValidation("transaction is already reversed").
			WithDetail("transactionId", rec.ReversesID.String())
	case postgres.IsCheckViolation(err, ""):
		return ledger.StockTransaction{}, apperror.NewValidation("transaction violates ledger constraints").WithCause(err)
	}
	if pgErr, ok := postgres.PgError(err); ok && pgErr.Code == postgres.CodeForeignKeyViolation {
		return ledger.StockTransaction{}, apperror.NewInvalidReference("reference", pgErr.ConstraintName, "unknown").WithCause(err)
	}
	return ledger.StockTransaction{}, fmt.Errorf("insert transaction: %w", err)
}

func (r *LedgerRepo) insertQuery(rec ledger.StockTransaction) squirrel.InsertBuilder {
	// sequence and recorded_at are assigned by the database.
	values := postgres.StructToMap(rec, "sequence", "recorded_at")
	values["type"] = string(rec.Type)
	return r.builder.Insert(transactionsTable).
		SetMap(values).
		Suffix("ON CONFLICT ON CONSTRAINT " + idempotencyConstraint + " DO NOTHING").
		Suffix(returning(transactionColumns))
}

// FindByIdempotencyKey implements ledger.Store.
func (r *LedgerRepo) FindByIdempotencyKey(ctx context.Context, actorID, key string) (ledger.StockTransaction, bool, error) {
	q := r.builder.Select(transactionColumns...).
		From(transactionsTable).
		Where(squirrel.Eq{"actor_id": actorID, "idempotency_key": key})

	rec, err := r.getOne(ctx, q)
	if pgxscan.NotFound(err) {
		return ledger.StockTransaction{}, false, nil
	}
	if err != nil {
		return ledger.StockTransaction{}, false, fmt.Errorf("find idempotency key: %w", err)
	}
	return rec, true, nil
}

// Get implements ledger.Store.
func (r *LedgerRepo) Get(ctx context.Context, txID id.ID) (ledger.StockTransaction, error) {
	q := r.builder.Select(transactionColumns...).
		From(transactionsTable).
		Where(squirrel.Eq{"id": txID})

	rec, err := r.getOne(ctx, q)
	if pgxscan.NotFound(err) {
		return ledger.StockTransaction{}, apperror.NewNotFound("transaction", txID.String())
	}
	if err != nil {
		return ledger.StockTransaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return rec, nil
}

func (r *LedgerRepo) getOne(ctx context.Context, q squirrel.SelectBuilder) (ledger.StockTransaction, error) {
	sql, args, err := q.Limit(1).ToSql()
	if err != nil {
		return ledger.StockTransaction{}, fmt.Errorf("build query: %w", err)
	}
	var rec ledger.StockTransaction
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &rec, sql, args...)
	return rec, err
}

// List implements ledger.Store. Rows are streamed; the scan holds its
// connection until the loop ends.
func (r *LedgerRepo) List(ctx context.Context, f ledger.Filter, order ledger.Order) iter.Seq2[ledger.StockTransaction, error] {
	return func(yield func(ledger.StockTransaction, error) bool) {
		sql, args, err := r.listQuery(f, order).ToSql()
		if err != nil {
			yield(ledger.StockTransaction{}, fmt.Errorf("build list query: %w", err))
			return
		}

		rows, err := r.txm.GetQuerier(ctx).Query(ctx, sql, args...)
		if err != nil {
			yield(ledger.StockTransaction{}, fmt.Errorf("list transactions: %w", err))
			return
		}
		defer rows.Close()

		scanner := pgxscan.NewRowScanner(rows)
		for rows.Next() {
			var rec ledger.StockTransaction
			if err := scanner.Scan(&rec); err != nil {
				yield(ledger.StockTransaction{}, fmt.Errorf("scan transaction: %w", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(ledger.StockTransaction{}, fmt.Errorf("list transactions: %w", err))
		}
	}
}

func (r *LedgerRepo) listQuery(f ledger.Filter, order ledger.Order) squirrel.SelectBuilder {
	q := r.builder.Select(transactionColumns...).From(transactionsTable)

	if f.OccurredFrom != nil {
		q = q.Where(squirrel.GtOrEq{"occurred_at": *f.OccurredFrom})
	}
	if f.OccurredTo != nil {
		q = q.Where(squirrel.Lt{"occurred_at": *f.OccurredTo})
	}
	if f.MaterialID != "" {
		q = q.Where(squirrel.Eq{"material_id": f.MaterialID})
	}
	if f.WarehouseID != "" {
		q = q.Where(squirrel.Eq{"warehouse_id": f.WarehouseID})
	}
	if f.Type != "" {
		q = q.Where(squirrel.Eq{"type": string(f.Type)})
	}
	if f.ReversesID != nil {
		q = q.Where(squirrel.Eq{"reverses_id": *f.ReversesID})
	}
	if f.MaxSequence > 0 {
		q = q.Where(squirrel.LtOrEq{"sequence": f.MaxSequence})
	}

	if order == ledger.Descending {
		q = q.OrderBy("occurred_at DESC", "sequence DESC")
	} else {
		q = q.OrderBy("occurred_at ASC", "sequence ASC")
	}

	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q
}

// Head implements ledger.Store.
func (r *LedgerRepo) Head(ctx context.Context) (ledger.Watermark, error) {
	sql, args, err := r.builder.
		Select("COALESCE(MAX(sequence), 0)", "COUNT(*)").
		From(transactionsTable).
		ToSql()
	if err != nil {
		return ledger.Watermark{}, fmt.Errorf("build head query: %w", err)
	}

	var w ledger.Watermark
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&w.Sequence, &w.Count); err != nil {
		return ledger.Watermark{}, fmt.Errorf("read ledger head: %w", err)
	}
	return w, nil
}

func returning(columns []string) string {
	return "RETURNING " + strings.Join(columns, ", ")
}
