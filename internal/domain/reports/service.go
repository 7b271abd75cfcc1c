package reports

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/ledger"
	"stockledger/pkg/logger"
)

var tracer = otel.Tracer("stockledger/reports")

// Cache stores finished reports. Keys already encode the ledger cut, so
// entries never need invalidation.
type Cache interface {
	Get(ctx context.Context, key string) (*Report, bool, error)
	Set(ctx context.Context, key string, report *Report) error
}

// Observer receives one observation per served report.
type Observer interface {
	ObserveReport(groupBy string, cached bool, elapsed time.Duration)
}

// Option customizes the Service.
type Option func(*Service)

// WithLocation sets the time zone of day buckets. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithCache enables report caching.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithObserver attaches report metrics.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// Service provides report generation operations.
type Service struct {
	store    ledger.Store
	txm      tx.SnapshotManager
	loc      *time.Location
	cache    Cache
	observer Observer
}

// NewService creates a new reports service.
func NewService(store ledger.Store, txm tx.SnapshotManager, opts ...Option) *Service {
	s := &Service{store: store, txm: txm, loc: time.UTC}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the time zone of day buckets.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Report folds the filtered ledger into a summary and ordered buckets.
// The scan reads one consistent cut of the ledger; AsOf identifies it.
func (s *Service) Report(ctx context.Context, q Query) (*Report, error) {
	q = q.normalized()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "reports.report", trace.WithAttributes(
		attribute.String("report.group_by", string(q.GroupBy)),
	))
	defer span.End()

	start := time.Now()
	var (
		report *Report
		cached bool
	)
	err := s.txm.ReadSnapshot(ctx, func(ctx context.Context) error {
		head, err := s.store.Head(ctx)
		if err != nil {
			return err
		}

		key := q.cacheKey(head, s.loc)
		if s.cache != nil {
			hit, ok, err := s.cache.Get(ctx, key)
			if err != nil {
				logger.Warn(ctx, "report cache read failed", "error", err)
			} else if ok {
				report, cached = hit, true
				return nil
			}
		}

		report, err = s.fold(ctx, q, head)
		if err != nil {
			return err
		}

		if s.cache != nil {
			if err := s.cache.Set(ctx, key, report); err != nil {
				logger.Warn(ctx, "report cache write failed", "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperror.WrapStorage("report scan", err)
	}

	span.SetAttributes(
		attribute.Bool("report.cached", cached),
		attribute.Int64("report.transactions", report.Summary.TransactionCount),
	)
	if s.observer != nil {
		s.observer.ObserveReport(string(q.GroupBy), cached, time.Since(start))
	}
	return report, nil
}

func (s *Service) fold(ctx context.Context, q Query, head ledger.Watermark) (*Report, error) {
	report := &Report{GroupBy: q.GroupBy, Buckets: []Bucket{}, AsOf: head}
	if head.Count == 0 {
		return report, nil
	}

	groups := make(map[string]*ledger.Totals)
	for rec, err := range s.store.List(ctx, q.filter(head), ledger.Ascending) {
		if err != nil {
			return nil, err
		}
		report.Summary.Add(rec)

		if q.GroupBy == GroupByNone {
			continue
		}
		key := s.bucketKey(q.GroupBy, rec)
		t, ok := groups[key]
		if !ok {
			t = &ledger.Totals{}
			groups[key] = t
		}
		t.Add(rec)
	}

	for key, t := range groups {
		report.Buckets = append(report.Buckets, Bucket{Key: key, Totals: *t})
	}
	slices.SortFunc(report.Buckets, func(a, b Bucket) int {
		return strings.Compare(a.Key, b.Key)
	})
	return report, nil
}

func (s *Service) bucketKey(g GroupBy, rec ledger.StockTransaction) string {
	switch g {
	case GroupByDay:
		return rec.OccurredAt.In(s.loc).Format(time.DateOnly)
	case GroupByMaterial:
		return rec.MaterialID
	case GroupByWarehouse:
		return rec.WarehouseID
	}
	return ""
}
