package guard

import (
	"strings"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/ledger"
)

// Request is a stock movement submission.
type Request struct {
	MaterialID     string
	WarehouseID    string
	Type           ledger.Type
	Quantity       int64
	OccurredAt     time.Time // zero means now
	ActorID        string
	IdempotencyKey string
	Note           string
}

// ReverseRequest asks for a compensating entry that cancels TransactionID.
type ReverseRequest struct {
	TransactionID  id.ID
	OccurredAt     time.Time // zero means now
	ActorID        string
	IdempotencyKey string
	Note           string
}

// Result of an admitted (or replayed) submission.
type Result struct {
	Transaction      ledger.StockTransaction
	ResultingBalance int64
	Replayed         bool
}

func (r Request) normalized() Request {
	r.MaterialID = strings.TrimSpace(r.MaterialID)
	r.WarehouseID = strings.TrimSpace(r.WarehouseID)
	r.Type = ledger.Type(strings.ToUpper(strings.TrimSpace(string(r.Type))))
	r.ActorID = strings.TrimSpace(r.ActorID)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.Note = strings.TrimSpace(r.Note)
	return r
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if r.Quantity <= 0 {
		return apperror.NewValidation("quantity must be a positive integer").
			WithDetail("field", "quantity").
			WithDetail("value", r.Quantity)
	}
	if !r.Type.IsValid() {
		return apperror.NewValidation("type must be IN or OUT").
			WithDetail("field", "type").
			WithDetail("value", string(r.Type))
	}
	required := []struct{ field, value string }{
		{"materialId", r.MaterialID},
		{"warehouseId", r.WarehouseID},
		{"actorId", r.ActorID},
		{"idempotencyKey", r.IdempotencyKey},
	}
	for _, f := range required {
		if f.value == "" {
			return apperror.NewValidation(f.field+" is required").WithDetail("field", f.field)
		}
	}
	return nil
}

// sameAs reports whether rec was produced by an equivalent request.
// OccurredAt is compared only when the caller supplied it.
func (r Request) sameAs(rec ledger.StockTransaction) bool {
	if rec.ReversesID != nil {
		return false
	}
	if rec.MaterialID != r.MaterialID || rec.WarehouseID != r.WarehouseID ||
		rec.Type != r.Type || rec.Quantity != r.Quantity {
		return false
	}
	return r.OccurredAt.IsZero() || rec.OccurredAt.Equal(r.OccurredAt)
}

func (r ReverseRequest) normalized() ReverseRequest {
	r.ActorID = strings.TrimSpace(r.ActorID)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.Note = strings.TrimSpace(r.Note)
	return r
}

// Validate checks the request shape.
func (r ReverseRequest) Validate() error {
	switch {
	case id.IsNil(r.TransactionID):
		return apperror.NewValidation("transactionId is required").WithDetail("field", "transactionId")
	case r.ActorID == "":
		return apperror.NewValidation("actorId is required").WithDetail("field", "actorId")
	case r.IdempotencyKey == "":
		return apperror.NewValidation("idempotencyKey is required").WithDetail("field", "idempotencyKey")
	}
	return nil
}

func notePtr(note string) *string {
	if note == "" {
		return nil
	}
	return &note
}
