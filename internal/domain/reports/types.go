// Package reports folds ledger scans into movement reports.
package reports

import (
	"fmt"
	"strings"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/domain/ledger"
)

// GroupBy selects the bucket key.
type GroupBy string

const (
	GroupByNone      GroupBy = "none"
	GroupByDay       GroupBy = "day"
	GroupByMaterial  GroupBy = "material"
	GroupByWarehouse GroupBy = "warehouse"
)

// IsValid checks if the grouping is known.
func (g GroupBy) IsValid() bool {
	switch g {
	case GroupByNone, GroupByDay, GroupByMaterial, GroupByWarehouse:
		return true
	}
	return false
}

// Query defines a movement report.
type Query struct {
	StartDate   *time.Time // inclusive
	EndDate     *time.Time // exclusive
	MaterialID  string
	WarehouseID string
	Type        ledger.Type
	GroupBy     GroupBy
}

func (q Query) normalized() Query {
	q.MaterialID = strings.TrimSpace(q.MaterialID)
	q.WarehouseID = strings.TrimSpace(q.WarehouseID)
	q.Type = ledger.Type(strings.ToUpper(strings.TrimSpace(string(q.Type))))
	q.GroupBy = GroupBy(strings.ToLower(strings.TrimSpace(string(q.GroupBy))))
	if q.GroupBy == "" {
		q.GroupBy = GroupByNone
	}
	return q
}

// Validate checks the query.
func (q Query) Validate() error {
	if !q.GroupBy.IsValid() {
		return apperror.NewValidation("groupBy must be one of none, day, material, warehouse").
			WithDetail("field", "groupBy").
			WithDetail("value", string(q.GroupBy))
	}
	if q.Type != "" && !q.Type.IsValid() {
		return apperror.NewValidation("type must be IN or OUT").
			WithDetail("field", "type").
			WithDetail("value", string(q.Type))
	}
	if q.StartDate != nil && q.EndDate != nil && !q.StartDate.Before(*q.EndDate) {
		return apperror.NewValidation("startDate must be before endDate")
	}
	return nil
}

// filter translates the query into a ledger scan bounded by head.
func (q Query) filter(head ledger.Watermark) ledger.Filter {
	return ledger.Filter{
		OccurredFrom: q.StartDate,
		OccurredTo:   q.EndDate,
		MaterialID:   q.MaterialID,
		WarehouseID:  q.WarehouseID,
		Type:         q.Type,
		MaxSequence:  head.Sequence,
	}
}

// cacheKey is a canonical form of the query for one ledger cut.
func (q Query) cacheKey(head ledger.Watermark, loc *time.Location) string {
	ts := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%d|%d",
		q.GroupBy, ts(q.StartDate), ts(q.EndDate), q.MaterialID, q.WarehouseID, q.Type,
		loc.String(), head.Sequence, head.Count)
}

// Bucket is one grouped aggregate row.
type Bucket struct {
	Key string `json:"key"`
	ledger.Totals
}

// Report is the result of one query.
type Report struct {
	GroupBy GroupBy          `json:"groupBy"`
	Summary ledger.Totals    `json:"summary"`
	Buckets []Bucket         `json:"buckets"`
	AsOf    ledger.Watermark `json:"asOf"`
}
