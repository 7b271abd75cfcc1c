package ledger_repo

import (
	"context"
	"fmt"
	"iter"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/domain/balance"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/storage/postgres"
)

const (
	balancesTable = "stock_balances"

	nonNegativeConstraint = "stock_balances_quantity_nonnegative"
)

var balanceColumns = postgres.ExtractDBColumns[balance.Snapshot]()

var _ balance.Repository = (*BalanceRepo)(nil)

// BalanceRepo implements balance.Repository on stock_balances.
type BalanceRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewBalanceRepo creates a new snapshot repository.
func NewBalanceRepo(txm *postgres.TxManager) *BalanceRepo {
	return &BalanceRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Get implements balance.Repository.
func (r *BalanceRepo) Get(ctx context.Context, key ledger.Key) (balance.Snapshot, bool, error) {
	return r.get(ctx, r.selectQuery(key))
}

// GetForUpdate implements balance.Repository. The row stays locked until the
// surrounding transaction ends, which serializes admissions of one position.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, key ledger.Key) (balance.Snapshot, bool, error) {
	return r.get(ctx, r.selectQuery(key).Suffix("FOR UPDATE"))
}

func (r *BalanceRepo) selectQuery(key ledger.Key) squirrel.SelectBuilder {
	return r.builder.Select(balanceColumns...).
		From(balancesTable).
		Where(squirrel.Eq{"material_id": key.MaterialID, "warehouse_id": key.WarehouseID})
}

func (r *BalanceRepo) get(ctx context.Context, q squirrel.SelectBuilder) (balance.Snapshot, bool, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return balance.Snapshot{}, false, fmt.Errorf("build query: %w", err)
	}

	var snap balance.Snapshot
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &snap, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return balance.Snapshot{}, false, nil
		}
		return balance.Snapshot{}, false, fmt.Errorf("get balance: %w", err)
	}
	return snap, true, nil
}

// ApplyDelta implements balance.Repository.
func (r *BalanceRepo) ApplyDelta(ctx context.Context, key ledger.Key, delta, expectedVersion, lastSequence int64) (balance.Snapshot, error) {
	if expectedVersion == 0 {
		return r.insert(ctx, key, delta, lastSequence)
	}

	sql, args, err := r.updateQuery(key, delta, expectedVersion, lastSequence).ToSql()
	if err != nil {
		return balance.Snapshot{}, fmt.Errorf("build update: %w", err)
	}

	var snap balance.Snapshot
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &snap, sql, args...)
	if err == nil {
		return snap, nil
	}
	if postgres.IsCheckViolation(err, nonNegativeConstraint) {
		return balance.Snapshot{}, apperror.NewInsufficientStock(key.MaterialID, key.WarehouseID, -delta, 0).WithCause(err)
	}
	if !pgxscan.NotFound(err) {
		return balance.Snapshot{}, fmt.Errorf("update balance: %w", err)
	}

	// No row matched: either the version moved or the result would be negative.
	cur, found, err := r.Get(ctx, key)
	if err != nil {
		return balance.Snapshot{}, err
	}
	if !found || cur.Version != expectedVersion {
		return balance.Snapshot{}, apperror.NewConcurrentModification("balance", key.String()).
			WithDetail("expectedVersion", expectedVersion).
			WithDetail("actualVersion", cur.Version)
	}
	return balance.Snapshot{}, apperror.NewInsufficientStock(key.MaterialID, key.WarehouseID, -delta, cur.Quantity)
}

func (r *BalanceRepo) updateQuery(key ledger.Key, delta, expectedVersion, lastSequence int64) squirrel.UpdateBuilder {
	return r.builder.Update(balancesTable).
		Set("quantity", squirrel.Expr("quantity + ?", delta)).
		Set("version", squirrel.Expr("version + 1")).
		Set("last_sequence", squirrel.Expr("GREATEST(last_sequence, ?)", lastSequence)).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{
			"material_id":  key.MaterialID,
			"warehouse_id": key.WarehouseID,
			"version":      expectedVersion,
		}).
		Where(squirrel.Expr("quantity + ? >= 0", delta)).
		Suffix(returning(balanceColumns))
}

func (r *BalanceRepo) insert(ctx context.Context, key ledger.Key, quantity, lastSequence int64) (balance.Snapshot, error) {
	if quantity < 0 {
		return balance.Snapshot{}, apperror.NewInsufficientStock(key.MaterialID, key.WarehouseID, -quantity, 0)
	}

	sql, args, err := r.builder.Insert(balancesTable).
		Columns("material_id", "warehouse_id", "quantity", "version", "last_sequence").
		Values(key.MaterialID, key.WarehouseID, quantity, 1, lastSequence).
		Suffix("ON CONFLICT (material_id, warehouse_id) DO NOTHING").
		Suffix(returning(balanceColumns)).
		ToSql()
	if err != nil {
		return balance.Snapshot{}, fmt.Errorf("build insert: %w", err)
	}

	var snap balance.Snapshot
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &snap, sql, args...)
	if pgxscan.NotFound(err) {
		return balance.Snapshot{}, apperror.NewConcurrentModification("balance", key.String()).
			WithDetail("expectedVersion", 0)
	}
	if err != nil {
		return balance.Snapshot{}, fmt.Errorf("insert balance: %w", err)
	}
	return snap, nil
}

// All implements balance.Repository.
func (r *BalanceRepo) All(ctx context.Context) iter.Seq2[balance.Snapshot, error] {
	return func(yield func(balance.Snapshot, error) bool) {
		sql, args, err := r.builder.Select(balanceColumns...).
			From(balancesTable).
			OrderBy("material_id", "warehouse_id").
			ToSql()
		if err != nil {
			yield(balance.Snapshot{}, fmt.Errorf("build query: %w", err))
			return
		}

		rows, err := r.txm.GetQuerier(ctx).Query(ctx, sql, args...)
		if err != nil {
			yield(balance.Snapshot{}, fmt.Errorf("list balances: %w", err))
			return
		}
		defer rows.Close()

		scanner := pgxscan.NewRowScanner(rows)
		for rows.Next() {
			var snap balance.Snapshot
			if err := scanner.Scan(&snap); err != nil {
				yield(balance.Snapshot{}, fmt.Errorf("scan balance: %w", err))
				return
			}
			if !yield(snap, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(balance.Snapshot{}, fmt.Errorf("list balances: %w", err))
		}
	}
}
