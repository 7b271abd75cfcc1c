package ledger

import (
	"context"
	"iter"
	"time"

	"stockledger/internal/core/id"
)

// Order selects the scan direction over (OccurredAt, Sequence).
type Order int

const (
	Ascending Order = iota
	Descending
)

// Filter narrows a ledger scan. Zero values mean "any".
type Filter struct {
	OccurredFrom *time.Time // inclusive
	OccurredTo   *time.Time // exclusive
	MaterialID   string
	WarehouseID  string
	Type         Type
	ReversesID   *id.ID

	// MaxSequence bounds the scan to a consistent cut; 0 means unbounded.
	MaxSequence int64

	Limit  int
	Offset int
}

// ForKey returns a filter over every record of one stock position.
func ForKey(key Key) Filter {
	return Filter{MaterialID: key.MaterialID, WarehouseID: key.WarehouseID}
}

// Matches reports whether t passes every predicate of f except paging.
func (f Filter) Matches(t StockTransaction) bool {
	if f.OccurredFrom != nil && t.OccurredAt.Before(*f.OccurredFrom) {
		return false
	}
	if f.OccurredTo != nil && !t.OccurredAt.Before(*f.OccurredTo) {
		return false
	}
	if f.MaterialID != "" && t.MaterialID != f.MaterialID {
		return false
	}
	if f.WarehouseID != "" && t.WarehouseID != f.WarehouseID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.ReversesID != nil && (t.ReversesID == nil || *t.ReversesID != *f.ReversesID) {
		return false
	}
	if f.MaxSequence > 0 && t.Sequence > f.MaxSequence {
		return false
	}
	return true
}

// Store is the append-only ledger.
// Records are never updated or removed through it.
type Store interface {
	// Append durably stores rec and assigns Sequence and RecordedAt.
	// If (ActorID, IdempotencyKey) was already committed, the stored record is
	// returned unchanged and nothing is written.
	Append(ctx context.Context, rec StockTransaction) (StockTransaction, error)

	// FindByIdempotencyKey returns the committed record for the key, if any.
	FindByIdempotencyKey(ctx context.Context, actorID, key string) (StockTransaction, bool, error)

	// Get returns a record by id or a NOT_FOUND error.
	Get(ctx context.Context, txID id.ID) (StockTransaction, error)

	// List returns a lazy scan ordered by (OccurredAt, Sequence).
	// Ranging over the result again re-runs the scan.
	List(ctx context.Context, filter Filter, order Order) iter.Seq2[StockTransaction, error]

	// Head returns the current watermark.
	Head(ctx context.Context) (Watermark, error)
}

// Totals is the fold of a set of records.
type Totals struct {
	TotalIn          int64 `json:"totalIn"`
	TotalOut         int64 `json:"totalOut"`
	NetChange        int64 `json:"netChange"`
	TransactionCount int64 `json:"transactionCount"`
	LastSequence     int64 `json:"-"`
}

// Add folds one record into the totals.
func (t *Totals) Add(rec StockTransaction) {
	switch rec.Type {
	case TypeIn:
		t.TotalIn += rec.Quantity
	case TypeOut:
		t.TotalOut += rec.Quantity
	}
	t.NetChange = t.TotalIn - t.TotalOut
	t.TransactionCount++
	if rec.Sequence > t.LastSequence {
		t.LastSequence = rec.Sequence
	}
}

// Merge adds other into t.
func (t *Totals) Merge(other Totals) {
	t.TotalIn += other.TotalIn
	t.TotalOut += other.TotalOut
	t.NetChange = t.TotalIn - t.TotalOut
	t.TransactionCount += other.TransactionCount
	t.LastSequence = max(t.LastSequence, other.LastSequence)
}

// Fold consumes seq and returns its totals.
func Fold(seq iter.Seq2[StockTransaction, error]) (Totals, error) {
	var totals Totals
	for rec, err := range seq {
		if err != nil {
			return Totals{}, err
		}
		totals.Add(rec)
	}
	return totals, nil
}
