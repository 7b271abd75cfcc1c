package balance_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/balance"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/storage/memory"
)

var pos = ledger.Key{MaterialID: "M1", WarehouseID: "W1"}

type rebuildCounter struct{ repaired, clean int }

func (r *rebuildCounter) ObserveRebuild(repaired bool) {
	if repaired {
		r.repaired++
	} else {
		r.clean++
	}
}

func setup(t *testing.T) (*memory.Store, *balance.Service) {
	t.Helper()
	store := memory.New()
	return store, balance.NewService(store.Ledger(), store.Balances(), store)
}

// seed appends raw ledger records without touching snapshots.
func seed(t *testing.T, store *memory.Store, moves ...int64) {
	t.Helper()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, m := range moves {
		typ, qty := ledger.TypeIn, m
		if m < 0 {
			typ, qty = ledger.TypeOut, -m
		}
		_, err := store.Ledger().Append(context.Background(), ledger.StockTransaction{
			ID: id.New(), MaterialID: pos.MaterialID, WarehouseID: pos.WarehouseID,
			Type: typ, Quantity: qty, OccurredAt: at.Add(time.Duration(i) * time.Minute),
			ActorID: "seed", IdempotencyKey: fmt.Sprintf("seed-%d", i),
		})
		require.NoError(t, err)
	}
}

func TestGetBalance_UnknownPositionIsZero(t *testing.T) {
	_, svc := setup(t)

	qty, err := svc.GetBalance(context.Background(), "M9", "W9")
	require.NoError(t, err)
	assert.Equal(t, int64(0), qty)

	_, err = svc.GetBalance(context.Background(), "", "W9")
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestGetBalance_MaterializesFromLedger(t *testing.T) {
	store, svc := setup(t)
	seed(t, store, 40, -15, 5)
	ctx := context.Background()

	_, found, err := store.Balances().Get(ctx, pos)
	require.NoError(t, err)
	require.False(t, found)

	qty, err := svc.GetBalance(ctx, "M1", "W1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), qty)

	snap, found, err := store.Balances().Get(ctx, pos)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(30), snap.Quantity)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, int64(3), snap.LastSequence)
}

func TestApplyDelta_CompareAndSwap(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	v, err := svc.ApplyDelta(ctx, pos, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = svc.ApplyDelta(ctx, pos, -4, v)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = svc.ApplyDelta(ctx, pos, -1, 1)
	assert.True(t, apperror.IsConcurrentModification(err), "stale version")

	_, err = svc.ApplyDelta(ctx, pos, -7, 2)
	assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientStock))

	qty, err := svc.GetBalance(ctx, "M1", "W1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), qty)
}

func TestVerifyAndRebuild(t *testing.T) {
	store, svc := setup(t)
	obs := &rebuildCounter{}
	svc.SetRebuildObserver(obs)
	seed(t, store, 20, -5)
	ctx := context.Background()

	drift, err := svc.Verify(ctx, pos)
	require.NoError(t, err)
	assert.False(t, drift.InSync(), "missing row with movements")
	assert.False(t, drift.Stored)

	drift, err = svc.Rebuild(ctx, pos)
	require.NoError(t, err)
	assert.True(t, drift.Repaired)

	drift, err = svc.Verify(ctx, pos)
	require.NoError(t, err)
	assert.True(t, drift.InSync())

	// Corrupt the snapshot and repair it again.
	snap, err := svc.Snapshot(ctx, pos)
	require.NoError(t, err)
	snap.Quantity = 999
	store.PutSnapshot(snap)

	drift, err = svc.Verify(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, int64(999), drift.SnapshotQuantity)
	assert.Equal(t, int64(15), drift.LedgerQuantity)

	drift, err = svc.Rebuild(ctx, pos)
	require.NoError(t, err)
	assert.True(t, drift.Repaired)

	qty, err := svc.GetBalance(ctx, "M1", "W1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), qty)

	drift, err = svc.Rebuild(ctx, pos)
	require.NoError(t, err)
	assert.False(t, drift.Repaired)

	assert.Equal(t, 2, obs.repaired)
	assert.Equal(t, 1, obs.clean)
}

func TestRebuild_EmptyPositionWritesNothing(t *testing.T) {
	store, svc := setup(t)
	ctx := context.Background()

	drift, err := svc.Rebuild(ctx, pos)
	require.NoError(t, err)
	assert.True(t, drift.InSync())
	assert.False(t, drift.Repaired)

	_, found, err := store.Balances().Get(ctx, pos)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshots_ListsStoredRows(t *testing.T) {
	_, svc := setup(t)
	ctx := context.Background()

	for _, k := range []ledger.Key{{MaterialID: "M2", WarehouseID: "W1"}, {MaterialID: "M1", WarehouseID: "W2"}, pos} {
		_, err := svc.ApplyDelta(ctx, k, 1, 0)
		require.NoError(t, err)
	}

	var keys []string
	for snap, err := range svc.Snapshots(ctx) {
		require.NoError(t, err)
		keys = append(keys, snap.Key().String())
	}
	assert.Equal(t, []string{"M1@W1", "M1@W2", "M2@W1"}, keys)
}

func TestSweep_FindsAndRepairsDrift(t *testing.T) {
	store, svc := setup(t)
	ctx := context.Background()

	seed(t, store, 10, -4)
	other := ledger.Key{MaterialID: "M2", WarehouseID: "W1"}
	store.PutSnapshot(balance.Snapshot{MaterialID: "M2", WarehouseID: "W1", Quantity: 3, Version: 1})
	_, err := svc.Snapshot(ctx, pos)
	require.NoError(t, err)

	keys, err := svc.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Key{pos, other}, keys)

	var seen []balance.Drift
	sum, err := svc.Sweep(ctx, false, func(d balance.Drift) { seen = append(seen, d) })
	require.NoError(t, err)
	assert.Equal(t, balance.SweepSummary{Positions: 2, Drifted: 1}, sum)
	require.Len(t, seen, 2)
	assert.True(t, seen[0].InSync())
	assert.Equal(t, int64(3), seen[1].SnapshotQuantity)
	assert.Equal(t, int64(0), seen[1].LedgerQuantity)

	sum, err = svc.Sweep(ctx, true, nil)
	require.NoError(t, err)
	assert.Equal(t, balance.SweepSummary{Positions: 2, Drifted: 1, Repaired: 1}, sum)

	qty, err := svc.GetBalance(ctx, "M2", "W1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), qty)

	sum, err = svc.Sweep(ctx, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Drifted)
}
