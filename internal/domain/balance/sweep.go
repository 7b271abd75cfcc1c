package balance

import (
	"context"
	"slices"
	"strings"

	"stockledger/internal/core/apperror"
	"stockledger/internal/domain/ledger"
)

// SweepSummary counts the outcome of one Sweep.
type SweepSummary struct {
	Positions int
	Drifted   int
	Repaired  int
}

// Positions returns every position that has a stored snapshot or at least one
// ledger record, ordered by (material, warehouse).
func (s *Service) Positions(ctx context.Context) ([]ledger.Key, error) {
	seen := make(map[ledger.Key]struct{})
	for snap, err := range s.repo.All(ctx) {
		if err != nil {
			return nil, apperror.WrapStorage("scan balances", err)
		}
		seen[snap.Key()] = struct{}{}
	}
	for rec, err := range s.ledger.List(ctx, ledger.Filter{}, ledger.Ascending) {
		if err != nil {
			return nil, apperror.WrapStorage("scan ledger", err)
		}
		seen[rec.Key()] = struct{}{}
	}

	keys := make([]ledger.Key, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b ledger.Key) int {
		if c := strings.Compare(a.MaterialID, b.MaterialID); c != 0 {
			return c
		}
		return strings.Compare(a.WarehouseID, b.WarehouseID)
	})
	return keys, nil
}

// Sweep verifies every position and, when repair is set, rebuilds the ones
// that drifted. visit, if not nil, sees each result in position order.
func (s *Service) Sweep(ctx context.Context, repair bool, visit func(Drift)) (SweepSummary, error) {
	keys, err := s.Positions(ctx)
	if err != nil {
		return SweepSummary{}, err
	}

	var sum SweepSummary
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		drift, err := s.Verify(ctx, key)
		if err != nil {
			return sum, err
		}
		sum.Positions++
		if !drift.InSync() {
			sum.Drifted++
			if repair {
				if drift, err = s.Rebuild(ctx, key); err != nil {
					return sum, err
				}
				if drift.Repaired {
					sum.Repaired++
				}
			}
		}
		if visit != nil {
			visit(drift)
		}
	}
	return sum, nil
}
