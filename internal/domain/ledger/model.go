// Package ledger defines the append-only log of stock movements.
package ledger

import (
	"fmt"
	"time"

	"stockledger/internal/core/id"
)

// Type is the direction of a stock movement.
type Type string

const (
	TypeIn  Type = "IN"  // receipt: increases stock
	TypeOut Type = "OUT" // issue: decreases stock
)

// IsValid checks if the movement type is known.
func (t Type) IsValid() bool {
	return t == TypeIn || t == TypeOut
}

// Opposite returns the type that cancels t.
func (t Type) Opposite() Type {
	if t == TypeIn {
		return TypeOut
	}
	return TypeIn
}

// Sign returns +1 for IN and -1 for OUT.
func (t Type) Sign() int64 {
	if t == TypeOut {
		return -1
	}
	return 1
}

// Key identifies one stock position.
type Key struct {
	MaterialID  string
	WarehouseID string
}

// String is used for lock names and log fields.
func (k Key) String() string {
	return k.MaterialID + "@" + k.WarehouseID
}

// StockTransaction is an immutable ledger record.
// Sequence and RecordedAt are assigned by the store on commit.
type StockTransaction struct {
	ID             id.ID     `db:"id" json:"id"`
	Sequence       int64     `db:"sequence" json:"sequence"`
	MaterialID     string    `db:"material_id" json:"materialId"`
	WarehouseID    string    `db:"warehouse_id" json:"warehouseId"`
	Type           Type      `db:"type" json:"type"`
	Quantity       int64     `db:"quantity" json:"quantity"`
	OccurredAt     time.Time `db:"occurred_at" json:"occurredAt"`
	ActorID        string    `db:"actor_id" json:"actorId"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotencyKey"`
	Note           *string   `db:"note" json:"note,omitempty"`
	ReversesID     *id.ID    `db:"reverses_id" json:"reversesId,omitempty"`

	// BalanceAfter is the position quantity right after this record was admitted.
	BalanceAfter int64     `db:"balance_after" json:"balanceAfter"`
	RecordedAt   time.Time `db:"recorded_at" json:"recordedAt"`
}

// Key returns the stock position the record moves.
func (t StockTransaction) Key() Key {
	return Key{MaterialID: t.MaterialID, WarehouseID: t.WarehouseID}
}

// SignedQuantity returns quantity with sign based on type.
func (t StockTransaction) SignedQuantity() int64 {
	return t.Type.Sign() * t.Quantity
}

// Validate checks the fields every stored record must carry.
func (t StockTransaction) Validate() error {
	switch {
	case id.IsNil(t.ID):
		return fmt.Errorf("transaction id is required")
	case t.MaterialID == "" || t.WarehouseID == "":
		return fmt.Errorf("material and warehouse are required")
	case !t.Type.IsValid():
		return fmt.Errorf("unknown type %q", t.Type)
	case t.Quantity <= 0:
		return fmt.Errorf("quantity must be positive, got %d", t.Quantity)
	case t.ActorID == "" || t.IdempotencyKey == "":
		return fmt.Errorf("actor and idempotency key are required")
	case t.OccurredAt.IsZero():
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// Less orders records by (OccurredAt, Sequence).
func Less(a, b StockTransaction) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.Sequence < b.Sequence
}

// Watermark describes a cut of the ledger: the highest committed sequence and
// how many records existed at that point.
type Watermark struct {
	Sequence int64 `json:"sequence"`
	Count    int64 `json:"count"`
}
