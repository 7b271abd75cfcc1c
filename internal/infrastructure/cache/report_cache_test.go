package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reports"
)

func bigReport(buckets int) *reports.Report {
	r := &reports.Report{
		GroupBy: reports.GroupByMaterial,
		Summary: ledger.Totals{TotalIn: 10, TotalOut: 4, NetChange: 6, TransactionCount: 3},
		Buckets: []reports.Bucket{},
		AsOf:    ledger.Watermark{Sequence: 9, Count: 9},
	}
	for i := range buckets {
		r.Buckets = append(r.Buckets, reports.Bucket{
			Key:    fmt.Sprintf("MAT-%05d", i),
			Totals: ledger.Totals{TotalIn: int64(i), NetChange: int64(i), TransactionCount: 1},
		})
	}
	return r
}

func TestReportCodec_CompressesLargePayloads(t *testing.T) {
	c, err := NewReportCache(nil, "test:", 0)
	require.NoError(t, err)

	small, err := c.encode(bigReport(1))
	require.NoError(t, err)
	assert.Equal(t, codecPlain, small[0])

	large, err := c.encode(bigReport(500))
	require.NoError(t, err)
	assert.Equal(t, codecZstd, large[0])

	decoded, err := c.decode(large)
	require.NoError(t, err)
	assert.Equal(t, bigReport(500), decoded)
}

func TestReportCodec_RejectsGarbage(t *testing.T) {
	c, err := NewReportCache(nil, "test:", 0)
	require.NoError(t, err)

	_, err = c.decode(nil)
	assert.Error(t, err)
	_, err = c.decode([]byte("xabc"))
	assert.Error(t, err)
	_, err = c.decode([]byte{codecZstd, 1, 2, 3})
	assert.Error(t, err)
}
