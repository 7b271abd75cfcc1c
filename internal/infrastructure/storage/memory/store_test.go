package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func record(key string, typ ledger.Type, qty int64, at time.Time) ledger.StockTransaction {
	return ledger.StockTransaction{
		ID:             id.New(),
		MaterialID:     "M1",
		WarehouseID:    "W1",
		Type:           typ,
		Quantity:       qty,
		OccurredAt:     at,
		ActorID:        "alice",
		IdempotencyKey: key,
	}
}

func collect(t *testing.T, l *LedgerStore, ctx context.Context, f ledger.Filter, o ledger.Order) []ledger.StockTransaction {
	t.Helper()
	var out []ledger.StockTransaction
	for rec, err := range l.List(ctx, f, o) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestAppend_AssignsSequenceAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := New().Ledger()

	first, err := l.Append(ctx, record("k1", ledger.TypeIn, 10, t0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Sequence)
	assert.False(t, first.RecordedAt.IsZero())

	second, err := l.Append(ctx, record("k2", ledger.TypeIn, 5, t0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)

	again, err := l.Append(ctx, record("k1", ledger.TypeIn, 99, t0))
	require.NoError(t, err)
	assert.Equal(t, first, again, "duplicate key must return the committed record")

	head, err := l.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Watermark{Sequence: 2, Count: 2}, head)
}

func TestAppend_RejectsInvalidRecord(t *testing.T) {
	rec := record("k1", ledger.TypeIn, 0, t0)
	_, err := New().Ledger().Append(context.Background(), rec)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestList_OrderingFilteringPaging(t *testing.T) {
	ctx := context.Background()
	l := New().Ledger()

	// Appended out of time order: sequence 1 happens later than sequence 2.
	late, _ := l.Append(ctx, record("a", ledger.TypeIn, 1, t0.Add(2*time.Hour)))
	early, _ := l.Append(ctx, record("b", ledger.TypeOut, 1, t0))
	tie, _ := l.Append(ctx, record("c", ledger.TypeIn, 1, t0))

	got := collect(t, l, ctx, ledger.Filter{}, ledger.Ascending)
	require.Len(t, got, 3)
	assert.Equal(t, []id.ID{early.ID, tie.ID, late.ID}, []id.ID{got[0].ID, got[1].ID, got[2].ID})

	got = collect(t, l, ctx, ledger.Filter{}, ledger.Descending)
	assert.Equal(t, late.ID, got[0].ID)

	got = collect(t, l, ctx, ledger.Filter{Type: ledger.TypeIn}, ledger.Ascending)
	assert.Len(t, got, 2)

	to := t0.Add(time.Hour)
	got = collect(t, l, ctx, ledger.Filter{OccurredFrom: &t0, OccurredTo: &to}, ledger.Ascending)
	assert.Len(t, got, 2, "range is half-open")

	got = collect(t, l, ctx, ledger.Filter{Offset: 1, Limit: 1}, ledger.Ascending)
	require.Len(t, got, 1)
	assert.Equal(t, tie.ID, got[0].ID)
}

func TestList_IsRestartable(t *testing.T) {
	ctx := context.Background()
	l := New().Ledger()
	_, _ = l.Append(ctx, record("a", ledger.TypeIn, 3, t0))

	seq := l.List(ctx, ledger.Filter{}, ledger.Ascending)
	first, err := ledger.Fold(seq)
	require.NoError(t, err)

	_, _ = l.Append(ctx, record("b", ledger.TypeIn, 4, t0))
	second, err := ledger.Fold(seq)
	require.NoError(t, err)

	assert.Equal(t, int64(3), first.TotalIn)
	assert.Equal(t, int64(7), second.TotalIn, "ranging again re-runs the scan")
}

func TestTransaction_FailedCommitLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := New()
	l, b := s.Ledger(), s.Balances()
	key := ledger.Key{MaterialID: "M1", WarehouseID: "W1"}

	s.FailNext(OpCommit, errors.New("disk full"))
	err := s.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := l.Append(ctx, record("k1", ledger.TypeIn, 10, t0)); err != nil {
			return err
		}
		_, err := b.ApplyDelta(ctx, key, 10, 0, 1)
		return err
	})
	require.Error(t, err)

	head, _ := l.Head(ctx)
	assert.Equal(t, int64(0), head.Count)
	_, found, _ := b.Get(ctx, key)
	assert.False(t, found)
	_, found, _ = l.FindByIdempotencyKey(ctx, "alice", "k1")
	assert.False(t, found)
}

func TestReadSnapshot_ExcludesLaterCommits(t *testing.T) {
	ctx := context.Background()
	s := New()
	l := s.Ledger()
	_, _ = l.Append(ctx, record("a", ledger.TypeIn, 1, t0))

	err := s.ReadSnapshot(ctx, func(ctx context.Context) error {
		_, err := l.Append(context.Background(), record("b", ledger.TypeIn, 1, t0))
		require.NoError(t, err)

		head, err := l.Head(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), head.Count)

		totals, err := ledger.Fold(l.List(ctx, ledger.Filter{}, ledger.Ascending))
		require.NoError(t, err)
		assert.Equal(t, int64(1), totals.TransactionCount)
		return nil
	})
	require.NoError(t, err)

	head, _ := l.Head(ctx)
	assert.Equal(t, int64(2), head.Count)
}

func TestApplyDelta_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	b := New().Balances()
	key := ledger.Key{MaterialID: "M1", WarehouseID: "W1"}

	snap, err := b.ApplyDelta(ctx, key, 10, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, int64(10), snap.Quantity)

	_, err = b.ApplyDelta(ctx, key, 5, 0, 2)
	assert.True(t, apperror.IsConcurrentModification(err), "insert over an existing row")

	_, err = b.ApplyDelta(ctx, key, 5, 7, 2)
	assert.True(t, apperror.IsConcurrentModification(err), "stale version")

	_, err = b.ApplyDelta(ctx, key, -11, 1, 2)
	assert.True(t, apperror.IsCode(err, apperror.CodeInsufficientStock))

	snap, err = b.ApplyDelta(ctx, key, -4, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.Quantity)
	assert.Equal(t, int64(2), snap.Version)
	assert.Equal(t, int64(2), snap.LastSequence)
}

func TestReversalIsUnique(t *testing.T) {
	ctx := context.Background()
	l := New().Ledger()
	orig, _ := l.Append(ctx, record("a", ledger.TypeIn, 5, t0))

	rev := record("b", ledger.TypeOut, 5, t0)
	rev.ReversesID = &orig.ID
	_, err := l.Append(ctx, rev)
	require.NoError(t, err)

	again := record("c", ledger.TypeOut, 5, t0)
	again.ReversesID = &orig.ID
	_, err = l.Append(ctx, again)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	got := collect(t, l, ctx, ledger.Filter{ReversesID: &orig.ID}, ledger.Ascending)
	assert.Len(t, got, 1)
}
