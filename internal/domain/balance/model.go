// Package balance maintains the per-position stock snapshot derived from the ledger.
package balance

import (
	"context"
	"iter"
	"time"

	"stockledger/internal/domain/ledger"
)

// Snapshot is the materialized balance of one (material, warehouse) pair.
// Quantity always equals the fold of the pair's committed ledger records.
type Snapshot struct {
	MaterialID   string    `db:"material_id" json:"materialId"`
	WarehouseID  string    `db:"warehouse_id" json:"warehouseId"`
	Quantity     int64     `db:"quantity" json:"quantity"`
	Version      int64     `db:"version" json:"version"`
	LastSequence int64     `db:"last_sequence" json:"lastSequence"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Key returns the stock position.
func (s Snapshot) Key() ledger.Key {
	return ledger.Key{MaterialID: s.MaterialID, WarehouseID: s.WarehouseID}
}

// Stored reports whether the snapshot row exists. Version starts at 1.
func (s Snapshot) Stored() bool {
	return s.Version > 0
}

// Repository persists snapshots. Only the Service writes through it.
type Repository interface {
	// Get reads the committed row.
	Get(ctx context.Context, key ledger.Key) (Snapshot, bool, error)

	// GetForUpdate reads the row and holds it until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, key ledger.Key) (Snapshot, bool, error)

	// ApplyDelta adds delta to the stored quantity if the stored version equals
	// expectedVersion, and bumps the version. expectedVersion 0 inserts a new row
	// holding delta. lastSequence only moves forward; 0 keeps it.
	// A version mismatch fails with CONCURRENT_MODIFICATION; a negative result
	// fails with INSUFFICIENT_STOCK and changes nothing.
	ApplyDelta(ctx context.Context, key ledger.Key, delta, expectedVersion, lastSequence int64) (Snapshot, error)

	// All scans every stored snapshot ordered by (material, warehouse).
	All(ctx context.Context) iter.Seq2[Snapshot, error]
}

// Drift compares a snapshot with the ledger fold of its position.
type Drift struct {
	Key              ledger.Key `json:"key"`
	SnapshotQuantity int64      `json:"snapshotQuantity"`
	LedgerQuantity   int64      `json:"ledgerQuantity"`
	Stored           bool       `json:"stored"`
	Repaired         bool       `json:"repaired"`
}

// InSync reports whether snapshot and ledger agree.
// A missing row for a position without movements is in sync.
func (d Drift) InSync() bool {
	return d.SnapshotQuantity == d.LedgerQuantity && (d.Stored || d.LedgerQuantity == 0)
}
