// Package memory provides an in-process ledger and balance store.
//
// A write transaction holds the store's write lock from begin to commit and
// stages its writes, so nothing it does is visible until commit and a failed
// transaction leaves no trace. Records are only ever appended and never
// mutated, which lets readers scan a captured prefix of the record slice
// without holding any lock.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/balance"
	"stockledger/internal/domain/ledger"
)

// Op names an operation that can be made to fail.
type Op string

const (
	OpAppend     Op = "append"
	OpApplyDelta Op = "apply_delta"
	OpCommit     Op = "commit"
	OpRead       Op = "read"
)

var (
	_ ledger.Store       = (*LedgerStore)(nil)
	_ balance.Repository = (*BalanceRepo)(nil)
	_ tx.SnapshotManager = (*Store)(nil)
)

type idemKey struct {
	actorID string
	key     string
}

// Store holds the shared state and implements tx.SnapshotManager.
// Ledger and Balances expose the repository views over it.
type Store struct {
	mu       sync.RWMutex
	records  []ledger.StockTransaction
	byID     map[id.ID]int
	byIdem   map[idemKey]int
	reversed map[id.ID]int
	balances map[ledger.Key]balance.Snapshot

	faultMu sync.Mutex
	faults  map[Op]error

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byID:     make(map[id.ID]int),
		byIdem:   make(map[idemKey]int),
		reversed: make(map[id.ID]int),
		balances: make(map[ledger.Key]balance.Snapshot),
		faults:   make(map[Op]error),
		now:      time.Now,
	}
}

// LedgerStore is the ledger.Store view of a Store.
type LedgerStore struct{ s *Store }

// BalanceRepo is the balance.Repository view of a Store.
type BalanceRepo struct{ s *Store }

// Ledger returns the ledger view.
func (s *Store) Ledger() *LedgerStore { return &LedgerStore{s: s} }

// Balances returns the snapshot view.
func (s *Store) Balances() *BalanceRepo { return &BalanceRepo{s: s} }

// WithClock overrides the clock used for RecordedAt and UpdatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// --- transactions ---

type txKey struct{}

type txState struct {
	records  []ledger.StockTransaction
	balances map[ledger.Key]balance.Snapshot
}

type viewKey struct{}

type view struct {
	records []ledger.StockTransaction
}

func txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

func viewFrom(ctx context.Context) *view {
	v, _ := ctx.Value(viewKey{}).(*view)
	return v
}

// RunInTransaction implements tx.Manager. Nested calls join the outer transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	st := &txState{balances: make(map[ledger.Key]balance.Snapshot)}
	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		return err
	}
	if err := s.takeFault(OpCommit); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	for _, rec := range st.records {
		idx := len(s.records)
		s.records = append(s.records, rec)
		s.byID[rec.ID] = idx
		s.byIdem[idemKey{rec.ActorID, rec.IdempotencyKey}] = idx
		if rec.ReversesID != nil {
			s.reversed[*rec.ReversesID] = idx
		}
	}
	for key, snap := range st.balances {
		s.balances[key] = snap
	}
	return nil
}

// ReadSnapshot implements tx.SnapshotManager by pinning the current record prefix.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil || viewFrom(ctx) != nil {
		return fn(ctx)
	}
	s.mu.RLock()
	v := &view{records: s.records[:len(s.records):len(s.records)]}
	s.mu.RUnlock()
	return fn(context.WithValue(ctx, viewKey{}, v))
}

// read calls fn with the committed records visible to ctx and the records
// staged by ctx's transaction. Index maps may be consulted inside fn;
// entries at or beyond len(base) must be ignored.
func (s *Store) read(ctx context.Context, fn func(base, staged []ledger.StockTransaction)) {
	if st := txFrom(ctx); st != nil {
		fn(s.records, st.records)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	base := s.records
	if v := viewFrom(ctx); v != nil {
		base = v.records
	}
	fn(base, nil)
}

// --- ledger.Store ---

// Append implements ledger.Store.
func (l *LedgerStore) Append(ctx context.Context, rec ledger.StockTransaction) (ledger.StockTransaction, error) {
	s := l.s
	st := txFrom(ctx)
	if st == nil {
		var out ledger.StockTransaction
		err := s.RunInTransaction(ctx, func(ctx context.Context) error {
			var err error
			out, err = l.Append(ctx, rec)
			return err
		})
		return out, err
	}

	if err := rec.Validate(); err != nil {
		return ledger.StockTransaction{}, apperror.NewValidation(err.Error())
	}
	if err := s.takeFault(OpAppend); err != nil {
		return ledger.StockTransaction{}, fmt.Errorf("append transaction: %w", err)
	}

	if existing, ok := s.findIdem(s.records, st.records, rec.ActorID, rec.IdempotencyKey); ok {
		return existing, nil
	}
	if rec.ReversesID != nil {
		if _, ok := s.reversed[*rec.ReversesID]; ok || slices.ContainsFunc(st.records, func(r ledger.StockTransaction) bool {
			return r.ReversesID != nil && *r.ReversesID == *rec.ReversesID
		}) {
			return ledger.StockTransaction{}, apperror.NewValidation("transaction is already reversed").
				WithDetail("transactionId", rec.ReversesID.String())
		}
	}

	rec.Sequence = int64(len(s.records)+len(st.records)) + 1
	rec.RecordedAt = s.now().UTC()
	st.records = append(st.records, rec)
	return rec, nil
}

func (s *Store) findIdem(base, staged []ledger.StockTransaction, actorID, key string) (ledger.StockTransaction, bool) {
	if idx, ok := s.byIdem[idemKey{actorID, key}]; ok && idx < len(base) {
		return base[idx], true
	}
	for _, r := range staged {
		if r.ActorID == actorID && r.IdempotencyKey == key {
			return r, true
		}
	}
	return ledger.StockTransaction{}, false
}

// FindByIdempotencyKey implements ledger.Store.
func (l *LedgerStore) FindByIdempotencyKey(ctx context.Context, actorID, key string) (ledger.StockTransaction, bool, error) {
	s := l.s
	if err := s.takeFault(OpRead); err != nil {
		return ledger.StockTransaction{}, false, err
	}
	var (
		rec   ledger.StockTransaction
		found bool
	)
	s.read(ctx, func(base, staged []ledger.StockTransaction) {
		rec, found = s.findIdem(base, staged, actorID, key)
	})
	return rec, found, nil
}

// Get implements ledger.Store.
func (l *LedgerStore) Get(ctx context.Context, txID id.ID) (ledger.StockTransaction, error) {
	s := l.s
	if err := s.takeFault(OpRead); err != nil {
		return ledger.StockTransaction{}, err
	}
	var (
		rec   ledger.StockTransaction
		found bool
	)
	s.read(ctx, func(base, staged []ledger.StockTransaction) {
		if idx, ok := s.byID[txID]; ok && idx < len(base) {
			rec, found = base[idx], true
			return
		}
		for _, r := range staged {
			if r.ID == txID {
				rec, found = r, true
				return
			}
		}
	})
	if !found {
		return ledger.StockTransaction{}, apperror.NewNotFound("transaction", txID.String())
	}
	return rec, nil
}

// List implements ledger.Store. Each range over the result takes a fresh cut.
func (l *LedgerStore) List(ctx context.Context, f ledger.Filter, order ledger.Order) iter.Seq2[ledger.StockTransaction, error] {
	s := l.s
	return func(yield func(ledger.StockTransaction, error) bool) {
		if err := s.takeFault(OpRead); err != nil {
			yield(ledger.StockTransaction{}, err)
			return
		}

		var matched []ledger.StockTransaction
		s.read(ctx, func(base, staged []ledger.StockTransaction) {
			for _, src := range [][]ledger.StockTransaction{base, staged} {
				for _, r := range src {
					if f.Matches(r) {
						matched = append(matched, r)
					}
				}
			}
		})

		// Records are in sequence order already; a stable sort on time keeps it as the tie-break.
		slices.SortStableFunc(matched, func(a, b ledger.StockTransaction) int {
			return a.OccurredAt.Compare(b.OccurredAt)
		})
		if order == ledger.Descending {
			slices.Reverse(matched)
		}
		if f.Offset > 0 {
			matched = matched[min(f.Offset, len(matched)):]
		}
		if f.Limit > 0 && len(matched) > f.Limit {
			matched = matched[:f.Limit]
		}

		for _, r := range matched {
			if err := ctx.Err(); err != nil {
				yield(ledger.StockTransaction{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Head implements ledger.Store.
func (l *LedgerStore) Head(ctx context.Context) (ledger.Watermark, error) {
	s := l.s
	if err := s.takeFault(OpRead); err != nil {
		return ledger.Watermark{}, err
	}
	var wm ledger.Watermark
	s.read(ctx, func(base, staged []ledger.StockTransaction) {
		n := len(base) + len(staged)
		wm = ledger.Watermark{Sequence: int64(n), Count: int64(n)}
	})
	return wm, nil
}

// --- balance.Repository ---

func (s *Store) lookupBalance(ctx context.Context, key ledger.Key) (balance.Snapshot, bool) {
	if st := txFrom(ctx); st != nil {
		if snap, ok := st.balances[key]; ok {
			return snap, true
		}
		snap, ok := s.balances[key]
		return snap, ok
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.balances[key]
	return snap, ok
}

// Get implements balance.Repository.
func (b *BalanceRepo) Get(ctx context.Context, key ledger.Key) (balance.Snapshot, bool, error) {
	s := b.s
	if err := s.takeFault(OpRead); err != nil {
		return balance.Snapshot{}, false, err
	}
	snap, ok := s.lookupBalance(ctx, key)
	return snap, ok, nil
}

// GetForUpdate implements balance.Repository. Inside a transaction the
// store-wide write lock already excludes other writers.
func (b *BalanceRepo) GetForUpdate(ctx context.Context, key ledger.Key) (balance.Snapshot, bool, error) {
	return b.Get(ctx, key)
}

// ApplyDelta implements balance.Repository.
func (b *BalanceRepo) ApplyDelta(ctx context.Context, key ledger.Key, delta, expectedVersion, lastSequence int64) (balance.Snapshot, error) {
	s := b.s
	st := txFrom(ctx)
	if st == nil {
		var out balance.Snapshot
		err := s.RunInTransaction(ctx, func(ctx context.Context) error {
			var err error
			out, err = b.ApplyDelta(ctx, key, delta, expectedVersion, lastSequence)
			return err
		})
		return out, err
	}

	if err := s.takeFault(OpApplyDelta); err != nil {
		return balance.Snapshot{}, fmt.Errorf("apply delta: %w", err)
	}

	cur, found := s.lookupBalance(ctx, key)
	if (expectedVersion == 0 && found) || (expectedVersion != 0 && (!found || cur.Version != expectedVersion)) {
		return balance.Snapshot{}, apperror.NewConcurrentModification("balance", key.String()).
			WithDetail("expectedVersion", expectedVersion).
			WithDetail("actualVersion", cur.Version)
	}
	if !found {
		cur = balance.Snapshot{MaterialID: key.MaterialID, WarehouseID: key.WarehouseID}
	}

	next := cur.Quantity + delta
	if next < 0 {
		return balance.Snapshot{}, apperror.NewInsufficientStock(key.MaterialID, key.WarehouseID, -delta, cur.Quantity)
	}

	cur.Quantity = next
	cur.Version++
	cur.LastSequence = max(cur.LastSequence, lastSequence)
	cur.UpdatedAt = s.now().UTC()
	st.balances[key] = cur
	return cur, nil
}

// All implements balance.Repository.
func (b *BalanceRepo) All(ctx context.Context) iter.Seq2[balance.Snapshot, error] {
	s := b.s
	return func(yield func(balance.Snapshot, error) bool) {
		if err := s.takeFault(OpRead); err != nil {
			yield(balance.Snapshot{}, err)
			return
		}
		s.mu.RLock()
		snaps := make([]balance.Snapshot, 0, len(s.balances))
		for _, snap := range s.balances {
			snaps = append(snaps, snap)
		}
		s.mu.RUnlock()

		slices.SortFunc(snaps, func(a, b balance.Snapshot) int {
			if c := strings.Compare(a.MaterialID, b.MaterialID); c != 0 {
				return c
			}
			return strings.Compare(a.WarehouseID, b.WarehouseID)
		})
		for _, snap := range snaps {
			if !yield(snap, nil) {
				return
			}
		}
	}
}

// --- maintenance and fault injection ---

// ResetBalances drops every snapshot, as after a storage migration.
func (s *Store) ResetBalances() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.balances)
}

// PutSnapshot overwrites a snapshot bypassing all checks. It exists to
// simulate corrupted state.
func (s *Store) PutSnapshot(snap balance.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[snap.Key()] = snap
}

// FailNext makes the next call of op fail with err.
func (s *Store) FailNext(op Op, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = err
}

func (s *Store) takeFault(op Op) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	err, ok := s.faults[op]
	if ok {
		delete(s.faults, op)
	}
	return err
}
