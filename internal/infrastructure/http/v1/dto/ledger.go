package dto

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/core/apperror"
	"stockledger/internal/domain/balance"
	"stockledger/internal/domain/guard"
	"stockledger/internal/domain/ledger"
)

// --- Requests ---

// SubmitTransactionRequest is the body of POST /ledger/transactions.
// Quantity stays raw so that fractional and quoted values can be rejected.
type SubmitTransactionRequest struct {
	MaterialID     string          `json:"materialId"`
	WarehouseID    string          `json:"warehouseId"`
	Type           string          `json:"type"`
	Quantity       json.RawMessage `json:"quantity"`
	OccurredAt     *time.Time      `json:"occurredAt"`
	Note           string          `json:"note"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// ToRequest converts the body into a guard request.
// headerKey is used when the body carries no idempotency key.
func (r SubmitTransactionRequest) ToRequest(headerKey string) (guard.Request, error) {
	qty, err := ParseQuantity(r.Quantity)
	if err != nil {
		return guard.Request{}, err
	}
	req := guard.Request{
		MaterialID:     r.MaterialID,
		WarehouseID:    r.WarehouseID,
		Type:           ledger.Type(r.Type),
		Quantity:       qty,
		Note:           r.Note,
		IdempotencyKey: firstNonEmpty(r.IdempotencyKey, headerKey),
	}
	if r.OccurredAt != nil {
		req.OccurredAt = *r.OccurredAt
	}
	return req, nil
}

// ReverseTransactionRequest is the optional body of POST /ledger/transactions/:id/reverse.
type ReverseTransactionRequest struct {
	Note           string     `json:"note"`
	IdempotencyKey string     `json:"idempotencyKey"`
	OccurredAt     *time.Time `json:"occurredAt"`
}

// ParseQuantity accepts a JSON number holding a positive whole amount.
// Exponent forms such as 1e3 are accepted when they denote an integer.
func ParseQuantity(raw json.RawMessage) (int64, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, apperror.NewValidation("quantity is required").WithDetail("field", "quantity")
	}
	invalid := func() error {
		return apperror.NewValidation("quantity must be a positive integer").
			WithDetail("field", "quantity").
			WithDetail("value", text)
	}
	if text[0] == '"' {
		return 0, invalid()
	}
	q, err := decimal.NewFromString(text)
	if err != nil || !q.IsInteger() || !q.IsPositive() {
		return 0, invalid()
	}
	if q.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, apperror.NewValidation("quantity is out of range").
			WithDetail("field", "quantity").
			WithDetail("value", text)
	}
	return q.IntPart(), nil
}

// ListTransactionsQuery holds history filters. Times are parsed by the handler.
type ListTransactionsQuery struct {
	PageRequest
	MaterialID  string `form:"materialId"`
	WarehouseID string `form:"warehouseId"`
	Type        string `form:"type"`
	From        string `form:"from"`
	To          string `form:"to"`
	Order       string `form:"order"`
}

// Direction maps the order parameter onto a scan order. Default is ascending.
func (q ListTransactionsQuery) Direction() (ledger.Order, error) {
	switch strings.ToLower(strings.TrimSpace(q.Order)) {
	case "", "asc":
		return ledger.Ascending, nil
	case "desc":
		return ledger.Descending, nil
	}
	return 0, apperror.NewValidation("order must be asc or desc").
		WithDetail("field", "order").
		WithDetail("value", q.Order)
}

// --- Responses ---

// SubmitResponse is returned for admitted and replayed movements.
type SubmitResponse struct {
	ID               string              `json:"id"`
	Sequence         int64               `json:"sequence"`
	ResultingBalance int64               `json:"resultingBalance"`
	Replayed         bool                `json:"replayed"`
	Transaction      TransactionResponse `json:"transaction"`
}

// FromResult converts a guard result.
func FromResult(r guard.Result) SubmitResponse {
	return SubmitResponse{
		ID:               r.Transaction.ID.String(),
		Sequence:         r.Transaction.Sequence,
		ResultingBalance: r.ResultingBalance,
		Replayed:         r.Replayed,
		Transaction:      FromTransaction(r.Transaction),
	}
}

// TransactionResponse represents a ledger record in API responses.
type TransactionResponse struct {
	ID             string    `json:"id"`
	Sequence       int64     `json:"sequence"`
	MaterialID     string    `json:"materialId"`
	WarehouseID    string    `json:"warehouseId"`
	Type           string    `json:"type"`
	Quantity       int64     `json:"quantity"`
	OccurredAt     time.Time `json:"occurredAt"`
	RecordedAt     time.Time `json:"recordedAt"`
	ActorID        string    `json:"actorId"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Note           *string   `json:"note,omitempty"`
	ReversesID     *string   `json:"reversesId,omitempty"`
	BalanceAfter   int64     `json:"balanceAfter"`
}

// FromTransaction converts a ledger record to response DTO.
func FromTransaction(t ledger.StockTransaction) TransactionResponse {
	resp := TransactionResponse{
		ID:             t.ID.String(),
		Sequence:       t.Sequence,
		MaterialID:     t.MaterialID,
		WarehouseID:    t.WarehouseID,
		Type:           string(t.Type),
		Quantity:       t.Quantity,
		OccurredAt:     t.OccurredAt,
		RecordedAt:     t.RecordedAt,
		ActorID:        t.ActorID,
		IdempotencyKey: t.IdempotencyKey,
		Note:           t.Note,
		BalanceAfter:   t.BalanceAfter,
	}
	if t.ReversesID != nil {
		s := t.ReversesID.String()
		resp.ReversesID = &s
	}
	return resp
}

// BalanceResponse represents a stock position.
type BalanceResponse struct {
	MaterialID  string `json:"materialId"`
	WarehouseID string `json:"warehouseId"`
	Quantity    int64  `json:"quantity"`
	Version     int64  `json:"version"`
}

// FromSnapshot converts a balance snapshot.
func FromSnapshot(s balance.Snapshot) BalanceResponse {
	return BalanceResponse{
		MaterialID:  s.MaterialID,
		WarehouseID: s.WarehouseID,
		Quantity:    s.Quantity,
		Version:     s.Version,
	}
}

// DriftResponse is the outcome of a rebuild.
type DriftResponse struct {
	MaterialID       string `json:"materialId"`
	WarehouseID      string `json:"warehouseId"`
	SnapshotQuantity int64  `json:"snapshotQuantity"`
	LedgerQuantity   int64  `json:"ledgerQuantity"`
	Stored           bool   `json:"stored"`
	Repaired         bool   `json:"repaired"`
}

// FromDrift converts a rebuild result.
func FromDrift(d balance.Drift) DriftResponse {
	return DriftResponse{
		MaterialID:       d.Key.MaterialID,
		WarehouseID:      d.Key.WarehouseID,
		SnapshotQuantity: d.SnapshotQuantity,
		LedgerQuantity:   d.LedgerQuantity,
		Stored:           d.Stored,
		Repaired:         d.Repaired,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
