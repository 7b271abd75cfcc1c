// Package tx provides transaction management abstractions.
// Domain services depend on these interfaces; the Postgres and in-memory
// stores provide the implementations.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
type Manager interface {
	// RunInTransaction executes fn within a storage transaction.
	// If fn returns an error, nothing fn wrote is visible afterwards.
	// If fn succeeds, all of its writes become visible together.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// SnapshotManager extends Manager with consistent read-only scans.
type SnapshotManager interface {
	Manager

	// ReadSnapshot executes fn against a stable view of committed data.
	// Writes committed after the view was taken are not observed by fn,
	// and fn never blocks writers.
	ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
}
