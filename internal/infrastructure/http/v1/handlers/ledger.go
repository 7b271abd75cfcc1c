package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/balance"
	"stockledger/internal/domain/guard"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// HeaderIdempotencyKey may carry the key instead of the request body.
const HeaderIdempotencyKey = "Idempotency-Key"

// LedgerHandler serves stock movements, history and balances.
type LedgerHandler struct {
	*BaseHandler
	guard    *guard.Service
	store    ledger.Store
	balances *balance.Service
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(base *BaseHandler, g *guard.Service, store ledger.Store, balances *balance.Service) *LedgerHandler {
	return &LedgerHandler{
		BaseHandler: base,
		guard:       g,
		store:       store,
		balances:    balances,
	}
}

// Submit handles POST /ledger/transactions
func (h *LedgerHandler) Submit(c *gin.Context) {
	var body dto.SubmitTransactionRequest
	if !h.BindJSON(c, &body) {
		return
	}
	req, err := body.ToRequest(c.GetHeader(HeaderIdempotencyKey))
	if err != nil {
		h.Error(c, err)
		return
	}

	res, err := h.guard.Submit(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.respondResult(c, res)
}

// Reverse handles POST /ledger/transactions/:id/reverse
func (h *LedgerHandler) Reverse(c *gin.Context) {
	txID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid transaction id").WithDetail("value", c.Param("id")))
		return
	}

	var body dto.ReverseTransactionRequest
	if !h.BindOptionalJSON(c, &body) {
		return
	}
	req := guard.ReverseRequest{
		TransactionID:  txID,
		Note:           body.Note,
		IdempotencyKey: body.IdempotencyKey,
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(HeaderIdempotencyKey)
	}
	if body.OccurredAt != nil {
		req.OccurredAt = *body.OccurredAt
	}

	res, err := h.guard.Reverse(c.Request.Context(), req)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.respondResult(c, res)
}

func (h *LedgerHandler) respondResult(c *gin.Context, res guard.Result) {
	if res.Replayed {
		h.OK(c, dto.FromResult(res))
		return
	}
	h.Created(c, dto.FromResult(res))
}

// GetTransaction handles GET /ledger/transactions/:id
func (h *LedgerHandler) GetTransaction(c *gin.Context) {
	txID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid transaction id").WithDetail("value", c.Param("id")))
		return
	}
	rec, err := h.store.Get(c.Request.Context(), txID)
	if err != nil {
		h.Error(c, apperror.WrapStorage("get transaction", err))
		return
	}
	h.OK(c, dto.FromTransaction(rec))
}

// List handles GET /ledger/transactions
func (h *LedgerHandler) List(c *gin.Context) {
	var q dto.ListTransactionsQuery
	if !h.BindQuery(c, &q) {
		return
	}
	q.Defaults()

	order, err := q.Direction()
	if err != nil {
		h.Error(c, err)
		return
	}
	filter := ledger.Filter{
		MaterialID:  q.MaterialID,
		WarehouseID: q.WarehouseID,
		Limit:       q.Limit,
		Offset:      q.Offset,
	}
	if q.Type != "" {
		filter.Type = ledger.Type(strings.ToUpper(q.Type))
		if !filter.Type.IsValid() {
			h.Error(c, apperror.NewValidation("type must be IN or OUT").WithDetail("field", "type"))
			return
		}
	}
	if filter.OccurredFrom, err = dto.ParseTime("from", q.From, nil); err != nil {
		h.Error(c, err)
		return
	}
	if filter.OccurredTo, err = dto.ParseTime("to", q.To, nil); err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, q.Limit)
	for rec, err := range h.store.List(c.Request.Context(), filter, order) {
		if err != nil {
			h.Error(c, apperror.WrapStorage("list transactions", err))
			return
		}
		items = append(items, dto.FromTransaction(rec))
	}

	h.OK(c, dto.ListResponse[dto.TransactionResponse]{
		Items:  items,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}

// GetBalance handles GET /ledger/balances/:materialId/:warehouseId
func (h *LedgerHandler) GetBalance(c *gin.Context) {
	snap, err := h.balances.Snapshot(c.Request.Context(), positionKey(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSnapshot(snap))
}

// Rebuild handles POST /ledger/balances/:materialId/:warehouseId/rebuild
func (h *LedgerHandler) Rebuild(c *gin.Context) {
	drift, err := h.balances.Rebuild(c.Request.Context(), positionKey(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromDrift(drift))
}

func positionKey(c *gin.Context) ledger.Key {
	return ledger.Key{MaterialID: c.Param("materialId"), WarehouseID: c.Param("warehouseId")}
}
