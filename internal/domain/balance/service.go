package balance

import (
	"context"
	"fmt"
	"iter"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/ledger"
	"stockledger/pkg/logger"
)

// RebuildObserver receives the outcome of every Rebuild.
type RebuildObserver interface {
	ObserveRebuild(repaired bool)
}

// Service is the balance aggregator: it serves balances from snapshots and
// falls back to folding the ledger when a snapshot is missing.
type Service struct {
	ledger   ledger.Store
	repo     Repository
	txm      tx.Manager
	observer RebuildObserver
}

// NewService creates the aggregator.
func NewService(store ledger.Store, repo Repository, txm tx.Manager) *Service {
	return &Service{ledger: store, repo: repo, txm: txm}
}

// SetRebuildObserver attaches metrics for Rebuild.
func (s *Service) SetRebuildObserver(o RebuildObserver) {
	s.observer = o
}

// GetBalance returns the current quantity of a position.
func (s *Service) GetBalance(ctx context.Context, materialID, warehouseID string) (int64, error) {
	if materialID == "" || warehouseID == "" {
		return 0, apperror.NewValidation("materialId and warehouseId are required")
	}
	snap, err := s.Snapshot(ctx, ledger.Key{MaterialID: materialID, WarehouseID: warehouseID})
	if err != nil {
		return 0, err
	}
	return snap.Quantity, nil
}

// Snapshot returns the stored snapshot, materializing it from the ledger when absent.
func (s *Service) Snapshot(ctx context.Context, key ledger.Key) (Snapshot, error) {
	snap, found, err := s.repo.Get(ctx, key)
	if err != nil {
		return Snapshot{}, apperror.WrapStorage("get balance", err)
	}
	if found {
		return snap, nil
	}

	err = s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		current, err := s.Load(ctx, key)
		if err != nil {
			return err
		}
		if current.Stored() || current.LastSequence == 0 {
			snap = current
			return nil
		}
		snap, err = s.repo.ApplyDelta(ctx, key, current.Quantity, 0, current.LastSequence)
		if err != nil {
			return err
		}
		logger.Info(ctx, "balance snapshot materialized from ledger",
			"material_id", key.MaterialID,
			"warehouse_id", key.WarehouseID,
			"quantity", snap.Quantity,
		)
		return nil
	})
	if apperror.IsConcurrentModification(err) {
		// Someone else materialized the row first.
		snap, _, err = s.repo.Get(ctx, key)
	}
	if err != nil {
		return Snapshot{}, apperror.WrapStorage("materialize balance", err)
	}
	return snap, nil
}

// Load reads a position for an admission. It must run inside a transaction.
// When no row is stored the quantity is folded from the ledger and the
// returned snapshot has Version 0.
func (s *Service) Load(ctx context.Context, key ledger.Key) (Snapshot, error) {
	snap, found, err := s.repo.GetForUpdate(ctx, key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("lock balance %s: %w", key, err)
	}
	if found {
		return snap, nil
	}

	totals, err := ledger.Fold(s.ledger.List(ctx, ledger.ForKey(key), ledger.Ascending))
	if err != nil {
		return Snapshot{}, fmt.Errorf("fold ledger %s: %w", key, err)
	}
	return Snapshot{
		MaterialID:   key.MaterialID,
		WarehouseID:  key.WarehouseID,
		Quantity:     totals.NetChange,
		LastSequence: totals.LastSequence,
	}, nil
}

// Apply moves a loaded snapshot by signed and records sequence as the last applied record.
func (s *Service) Apply(ctx context.Context, current Snapshot, signed, sequence int64) (Snapshot, error) {
	if !current.Stored() {
		return s.repo.ApplyDelta(ctx, current.Key(), current.Quantity+signed, 0, sequence)
	}
	return s.repo.ApplyDelta(ctx, current.Key(), signed, current.Version, sequence)
}

// ApplyDelta is the compare-and-swap primitive on a snapshot. It returns the new version.
func (s *Service) ApplyDelta(ctx context.Context, key ledger.Key, signedDelta, expectedVersion int64) (int64, error) {
	snap, err := s.repo.ApplyDelta(ctx, key, signedDelta, expectedVersion, 0)
	if err != nil {
		return 0, apperror.WrapStorage("apply delta", err)
	}
	return snap.Version, nil
}

// Verify compares the stored snapshot of key with a full ledger fold without writing.
func (s *Service) Verify(ctx context.Context, key ledger.Key) (Drift, error) {
	var drift Drift
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		drift, _, _, err = s.compare(ctx, key)
		return err
	})
	if err != nil {
		return Drift{}, apperror.WrapStorage("verify balance", err)
	}
	return drift, nil
}

// Rebuild recomputes the snapshot of key from the full ledger and stores the result.
func (s *Service) Rebuild(ctx context.Context, key ledger.Key) (Drift, error) {
	var drift Drift
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		d, snap, totals, err := s.compare(ctx, key)
		if err != nil {
			return err
		}
		drift = d

		switch {
		case !snap.Stored() && totals.TransactionCount == 0:
			return nil
		case !snap.Stored():
			_, err = s.repo.ApplyDelta(ctx, key, totals.NetChange, 0, totals.LastSequence)
		case drift.InSync() && snap.LastSequence == totals.LastSequence:
			return nil
		default:
			_, err = s.repo.ApplyDelta(ctx, key, totals.NetChange-snap.Quantity, snap.Version, totals.LastSequence)
		}
		if err != nil {
			return err
		}
		drift.Repaired = true
		return nil
	})
	if err != nil {
		return Drift{}, apperror.WrapStorage("rebuild balance", err)
	}

	if s.observer != nil {
		s.observer.ObserveRebuild(drift.Repaired)
	}
	if drift.Repaired {
		logger.Warn(ctx, "balance snapshot rebuilt",
			"material_id", key.MaterialID,
			"warehouse_id", key.WarehouseID,
			"snapshot_quantity", drift.SnapshotQuantity,
			"ledger_quantity", drift.LedgerQuantity,
		)
	}
	return drift, nil
}

func (s *Service) compare(ctx context.Context, key ledger.Key) (Drift, Snapshot, ledger.Totals, error) {
	snap, found, err := s.repo.GetForUpdate(ctx, key)
	if err != nil {
		return Drift{}, Snapshot{}, ledger.Totals{}, err
	}
	totals, err := ledger.Fold(s.ledger.List(ctx, ledger.ForKey(key), ledger.Ascending))
	if err != nil {
		return Drift{}, Snapshot{}, ledger.Totals{}, err
	}
	if !found {
		snap = Snapshot{MaterialID: key.MaterialID, WarehouseID: key.WarehouseID}
	}
	return Drift{
		Key:              key,
		SnapshotQuantity: snap.Quantity,
		LedgerQuantity:   totals.NetChange,
		Stored:           found,
	}, snap, totals, nil
}

// Snapshots scans every stored snapshot.
func (s *Service) Snapshots(ctx context.Context) iter.Seq2[Snapshot, error] {
	return s.repo.All(ctx)
}
