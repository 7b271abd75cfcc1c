package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/domain/masterdata"
)

// countingSource wraps a StaticDirectory and counts point lookups.
type countingSource struct {
	*masterdata.StaticDirectory
	lookups int
}

func (s *countingSource) Lookup(ctx context.Context, kind masterdata.Kind, id string) (masterdata.Reference, bool, error) {
	s.lookups++
	return s.StaticDirectory.Lookup(ctx, kind, id)
}

func (s *countingSource) LoadAll(ctx context.Context, kind masterdata.Kind) ([]masterdata.Reference, error) {
	var out []masterdata.Reference
	for _, id := range []string{"M1", "M2", "W1", "W2"} {
		if ref, ok, _ := s.StaticDirectory.Lookup(ctx, kind, id); ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

func TestDirectoryCache(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{StaticDirectory: masterdata.NewStaticDirectory().AddMaterials("M1").AddWarehouses("W1")}
	c := NewDirectoryCache(src, nil, "masterdata_changed")
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	require.NoError(t, masterdata.Verify(ctx, c, "M1", "W1"))
	assert.Equal(t, 0, src.lookups, "loaded entries are served from memory")

	// Created after the load: found through the source, then cached.
	src.AddMaterials("M2")
	require.NoError(t, masterdata.Verify(ctx, c, "M2", "W1"))
	require.NoError(t, masterdata.Verify(ctx, c, "M2", "W1"))
	assert.Equal(t, 1, src.lookups)

	// Deactivation is picked up once the change is announced.
	src.Deactivate(masterdata.KindWarehouse, "W1")
	require.NoError(t, masterdata.Verify(ctx, c, "M1", "W1"))
	c.Invalidate(ctx, "warehouse:W1")
	err := masterdata.Verify(ctx, c, "M1", "W1")
	assert.Error(t, err)

	// Unknown ids are not cached as negatives.
	_, found, err := c.Lookup(ctx, masterdata.KindMaterial, "M404")
	require.NoError(t, err)
	assert.False(t, found)
}
