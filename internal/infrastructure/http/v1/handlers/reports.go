package handlers

import (
	"github.com/gin-gonic/gin"

	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reports"
	"stockledger/internal/infrastructure/http/v1/dto"
)

// ReportsHandler handles HTTP requests for reports.
type ReportsHandler struct {
	*BaseHandler
	service *reports.Service
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(base *BaseHandler, service *reports.Service) *ReportsHandler {
	return &ReportsHandler{
		BaseHandler: base,
		service:     service,
	}
}

// GetReport handles GET /ledger/reports
// Bare dates are read in the report time zone, so endDate=2026-03-02 ends at
// local midnight.
func (h *ReportsHandler) GetReport(c *gin.Context) {
	var req dto.ReportQuery
	if !h.BindQuery(c, &req) {
		return
	}

	loc := h.service.Location()
	start, err := dto.ParseTime("startDate", req.StartDate, loc)
	if err != nil {
		h.Error(c, err)
		return
	}
	end, err := dto.ParseTime("endDate", req.EndDate, loc)
	if err != nil {
		h.Error(c, err)
		return
	}

	report, err := h.service.Report(c.Request.Context(), reports.Query{
		StartDate:   start,
		EndDate:     end,
		MaterialID:  req.MaterialID,
		WarehouseID: req.WarehouseID,
		Type:        ledger.Type(req.Type),
		GroupBy:     reports.GroupBy(req.GroupBy),
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, report)
}
