package reports

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/storage/memory"
)

var day1 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type move struct {
	material, warehouse string
	typ                 ledger.Type
	qty                 int64
	at                  time.Time
}

func load(t *testing.T, moves ...move) *memory.Store {
	t.Helper()
	store := memory.New()
	for i, m := range moves {
		_, err := store.Ledger().Append(context.Background(), ledger.StockTransaction{
			ID: id.New(), MaterialID: m.material, WarehouseID: m.warehouse,
			Type: m.typ, Quantity: m.qty, OccurredAt: m.at,
			ActorID: "alice", IdempotencyKey: fmt.Sprintf("k%d", i),
		})
		require.NoError(t, err)
	}
	return store
}

func sample(t *testing.T) *memory.Store {
	return load(t,
		move{"M1", "W1", ledger.TypeIn, 100, day1},
		move{"M1", "W1", ledger.TypeOut, 30, day1.Add(2 * time.Hour)},
		move{"M2", "W1", ledger.TypeIn, 15, day1.Add(24 * time.Hour)},
		move{"M1", "W2", ledger.TypeIn, 8, day1.Add(25 * time.Hour)},
		move{"M2", "W2", ledger.TypeOut, 3, day1.Add(49 * time.Hour)},
	)
}

func TestReport_Summary(t *testing.T) {
	store := load(t,
		move{"M1", "W1", ledger.TypeIn, 100, day1},
		move{"M1", "W1", ledger.TypeOut, 30, day1.Add(time.Hour)},
	)
	svc := NewService(store.Ledger(), store)

	r, err := svc.Report(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, GroupByNone, r.GroupBy)
	assert.Empty(t, r.Buckets)
	assert.Equal(t, int64(100), r.Summary.TotalIn)
	assert.Equal(t, int64(30), r.Summary.TotalOut)
	assert.Equal(t, int64(70), r.Summary.NetChange)
	assert.Equal(t, int64(2), r.Summary.TransactionCount)
	assert.Equal(t, ledger.Watermark{Sequence: 2, Count: 2}, r.AsOf)
}

func TestReport_EmptyLedger(t *testing.T) {
	store := memory.New()
	svc := NewService(store.Ledger(), store)

	r, err := svc.Report(context.Background(), Query{GroupBy: GroupByDay})
	require.NoError(t, err)
	assert.NotNil(t, r.Buckets)
	assert.Empty(t, r.Buckets)
	assert.Equal(t, ledger.Totals{}, r.Summary)
}

func TestReport_BucketsSumToSummary(t *testing.T) {
	store := sample(t)
	svc := NewService(store.Ledger(), store)

	for _, g := range []GroupBy{GroupByNone, GroupByDay, GroupByMaterial, GroupByWarehouse} {
		t.Run(string(g), func(t *testing.T) {
			r, err := svc.Report(context.Background(), Query{GroupBy: g})
			require.NoError(t, err)
			assert.Equal(t, int64(5), r.Summary.TransactionCount)
			if g == GroupByNone {
				assert.Empty(t, r.Buckets)
				return
			}
			var sum ledger.Totals
			for i, b := range r.Buckets {
				sum.Merge(b.Totals)
				if i > 0 {
					assert.Less(t, r.Buckets[i-1].Key, b.Key)
				}
			}
			assert.Equal(t, r.Summary.TotalIn, sum.TotalIn)
			assert.Equal(t, r.Summary.TotalOut, sum.TotalOut)
			assert.Equal(t, r.Summary.NetChange, sum.NetChange)
			assert.Equal(t, r.Summary.TransactionCount, sum.TransactionCount)
		})
	}
}

func TestReport_GroupKeys(t *testing.T) {
	store := sample(t)
	svc := NewService(store.Ledger(), store)
	ctx := context.Background()

	keys := func(r *Report) []string {
		out := make([]string, 0, len(r.Buckets))
		for _, b := range r.Buckets {
			out = append(out, b.Key)
		}
		return out
	}

	r, err := svc.Report(ctx, Query{GroupBy: GroupByDay})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-01", "2026-03-02", "2026-03-03"}, keys(r))
	assert.Equal(t, int64(70), r.Buckets[0].NetChange)

	r, err = svc.Report(ctx, Query{GroupBy: GroupByMaterial})
	require.NoError(t, err)
	assert.Equal(t, []string{"M1", "M2"}, keys(r))
	assert.Equal(t, int64(78), r.Buckets[0].NetChange)
	assert.Equal(t, int64(12), r.Buckets[1].NetChange)

	r, err = svc.Report(ctx, Query{GroupBy: "Warehouse"})
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W2"}, keys(r))
}

func TestReport_DayBucketsFollowLocation(t *testing.T) {
	store := load(t, move{"M1", "W1", ledger.TypeIn, 1, time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)})
	tokyo := time.FixedZone("UTC+9", 9*60*60)
	svc := NewService(store.Ledger(), store, WithLocation(tokyo))

	r, err := svc.Report(context.Background(), Query{GroupBy: GroupByDay})
	require.NoError(t, err)
	require.Len(t, r.Buckets, 1)
	assert.Equal(t, "2026-03-02", r.Buckets[0].Key)
}

func TestReport_FiltersAndHalfOpenRange(t *testing.T) {
	store := sample(t)
	svc := NewService(store.Ledger(), store)
	ctx := context.Background()

	start := day1.Add(24 * time.Hour)
	end := day1.Add(49 * time.Hour)
	r, err := svc.Report(ctx, Query{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	// The record at exactly end is excluded, the one at exactly start included.
	assert.Equal(t, int64(2), r.Summary.TransactionCount)
	assert.Equal(t, int64(23), r.Summary.TotalIn)

	r, err = svc.Report(ctx, Query{MaterialID: "M1", Type: "out"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Summary.TransactionCount)
	assert.Equal(t, int64(-30), r.Summary.NetChange)

	r, err = svc.Report(ctx, Query{WarehouseID: "W2", GroupBy: GroupByMaterial})
	require.NoError(t, err)
	assert.Equal(t, int64(5), r.Summary.NetChange)
	assert.Len(t, r.Buckets, 2)
}

func TestReport_Validation(t *testing.T) {
	store := memory.New()
	svc := NewService(store.Ledger(), store)
	ctx := context.Background()

	_, err := svc.Report(ctx, Query{GroupBy: "week"})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	_, err = svc.Report(ctx, Query{Type: "MOVE"})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	same := day1
	_, err = svc.Report(ctx, Query{StartDate: &same, EndDate: &same})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

type mapCache struct {
	entries map[string]*Report
	gets    int
	failGet bool
}

func (c *mapCache) Get(_ context.Context, key string) (*Report, bool, error) {
	c.gets++
	if c.failGet {
		return nil, false, errors.New("cache down")
	}
	r, ok := c.entries[key]
	return r, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, r *Report) error {
	c.entries[key] = r
	return nil
}

type reportCounter struct{ hits, misses int }

func (o *reportCounter) ObserveReport(_ string, cached bool, _ time.Duration) {
	if cached {
		o.hits++
	} else {
		o.misses++
	}
}

func TestReport_CacheIsKeyedByLedgerCut(t *testing.T) {
	store := sample(t)
	cache := &mapCache{entries: map[string]*Report{}}
	obs := &reportCounter{}
	svc := NewService(store.Ledger(), store, WithCache(cache), WithObserver(obs))
	ctx := context.Background()

	first, err := svc.Report(ctx, Query{GroupBy: GroupByMaterial})
	require.NoError(t, err)
	second, err := svc.Report(ctx, Query{GroupBy: "material"})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, obs.hits)

	// A new commit moves the watermark, so the old entry is not reused.
	_, err = store.Ledger().Append(ctx, ledger.StockTransaction{
		ID: id.New(), MaterialID: "M1", WarehouseID: "W1", Type: ledger.TypeIn, Quantity: 1,
		OccurredAt: day1, ActorID: "alice", IdempotencyKey: "late",
	})
	require.NoError(t, err)

	third, err := svc.Report(ctx, Query{GroupBy: GroupByMaterial})
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, int64(6), third.Summary.TransactionCount)
	assert.Len(t, cache.entries, 2)
	assert.Equal(t, 2, obs.misses)
}

func TestReport_CacheFailureFallsBackToScan(t *testing.T) {
	store := sample(t)
	cache := &mapCache{entries: map[string]*Report{}, failGet: true}
	svc := NewService(store.Ledger(), store, WithCache(cache))

	r, err := svc.Report(context.Background(), Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), r.Summary.TransactionCount)
	assert.Equal(t, 1, cache.gets)
}

func TestReport_StorageFailure(t *testing.T) {
	store := sample(t)
	svc := NewService(store.Ledger(), store)

	store.FailNext(memory.OpRead, errors.New("disk gone"))
	_, err := svc.Report(context.Background(), Query{})
	assert.True(t, apperror.IsCode(err, apperror.CodeStorage))
}
