package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"stockledger/internal/domain/ledger"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAdmission(ledger.TypeOut, "committed", 2, 3*time.Millisecond)
	m.ObserveAdmission(ledger.TypeOut, "committed", 1, time.Millisecond)
	m.ObserveAdmission("MOVE", "validation_error", 0, 0)
	m.ObserveReport("day", true, time.Millisecond)
	m.ObserveRebuild(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("OUT", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("invalid", "validation_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rebuilds.WithLabelValues("none")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.admissions))
}
