package dto

// ReportQuery holds movement report filters. Dates are parsed by the handler
// in the report time zone.
type ReportQuery struct {
	StartDate   string `form:"startDate"`
	EndDate     string `form:"endDate"`
	MaterialID  string `form:"materialId"`
	WarehouseID string `form:"warehouseId"`
	Type        string `form:"type"`
	GroupBy     string `form:"groupBy"`
}
