// Package masterdata is the port to the external material and warehouse catalog.
// The ledger never owns these entities; it only asks whether they can be moved.
package masterdata

import (
	"context"
	"fmt"
	"sync"

	"stockledger/internal/core/apperror"
)

// Kind of referenced entity.
type Kind string

const (
	KindMaterial  Kind = "material"
	KindWarehouse Kind = "warehouse"
)

// Reference is what the catalog knows about one entity.
type Reference struct {
	Kind   Kind
	ID     string
	Active bool
}

// Directory resolves entity references.
type Directory interface {
	// Lookup returns found=false for unknown ids.
	Lookup(ctx context.Context, kind Kind, id string) (ref Reference, found bool, err error)
}

// Verify checks that the material and the warehouse exist and are active.
// Unknown or inactive entities yield INVALID_REFERENCE; lookup failures are wrapped as STORAGE_ERROR.
func Verify(ctx context.Context, dir Directory, materialID, warehouseID string) error {
	for _, r := range []struct {
		kind Kind
		id   string
	}{{KindMaterial, materialID}, {KindWarehouse, warehouseID}} {
		ref, found, err := dir.Lookup(ctx, r.kind, r.id)
		if err != nil {
			if _, ok := apperror.AsAppError(err); ok {
				return err
			}
			return apperror.NewStorage("lookup "+string(r.kind), err)
		}
		if !found {
			return apperror.NewInvalidReference(string(r.kind), r.id, "unknown")
		}
		if !ref.Active {
			return apperror.NewInvalidReference(string(r.kind), r.id, "inactive")
		}
	}
	return nil
}

// StaticDirectory is an in-process Directory backed by a map.
// It serves the in-memory storage mode and tests.
type StaticDirectory struct {
	mu   sync.RWMutex
	refs map[string]Reference
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{refs: make(map[string]Reference)}
}

func refKey(kind Kind, id string) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

// Put registers or replaces an entity.
func (d *StaticDirectory) Put(kind Kind, id string, active bool) *StaticDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs[refKey(kind, id)] = Reference{Kind: kind, ID: id, Active: active}
	return d
}

// AddMaterials registers active materials.
func (d *StaticDirectory) AddMaterials(ids ...string) *StaticDirectory {
	for _, id := range ids {
		d.Put(KindMaterial, id, true)
	}
	return d
}

// AddWarehouses registers active warehouses.
func (d *StaticDirectory) AddWarehouses(ids ...string) *StaticDirectory {
	for _, id := range ids {
		d.Put(KindWarehouse, id, true)
	}
	return d
}

// Deactivate marks an entity inactive. Unknown entities are ignored.
func (d *StaticDirectory) Deactivate(kind Kind, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ref, ok := d.refs[refKey(kind, id)]; ok {
		ref.Active = false
		d.refs[refKey(kind, id)] = ref
	}
}

// Lookup implements Directory.
func (d *StaticDirectory) Lookup(_ context.Context, kind Kind, id string) (Reference, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ref, ok := d.refs[refKey(kind, id)]
	return ref, ok, nil
}

var _ Directory = (*StaticDirectory)(nil)
