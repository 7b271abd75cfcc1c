// Package metrics exposes ledger activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockledger/internal/domain/balance"
	"stockledger/internal/domain/guard"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/reports"
)

var (
	_ guard.Recorder          = (*Metrics)(nil)
	_ reports.Observer        = (*Metrics)(nil)
	_ balance.RebuildObserver = (*Metrics)(nil)
)

// Metrics holds every collector of the service.
type Metrics struct {
	admissions        *prometheus.CounterVec
	admissionDuration *prometheus.HistogramVec
	admissionAttempts prometheus.Histogram
	reports           *prometheus.CounterVec
	reportDuration    *prometheus.HistogramVec
	rebuilds          *prometheus.CounterVec
}

// New creates the collectors and registers them with registerer.
// A nil registerer means prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_admissions_total",
			Help: "Stock transaction submissions by type and outcome.",
		}, []string{"type", "outcome"}),
		admissionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockledger_admission_duration_seconds",
			Help:    "Time from submission to final outcome, including lock waits and retries.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"type"}),
		admissionAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockledger_admission_attempts",
			Help:    "Optimistic attempts needed per admission.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_report_cache_total",
			Help: "Reports served, by cache result.",
		}, []string{"result"}),
		reportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockledger_report_duration_seconds",
			Help:    "Report latency by grouping.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"group_by"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_balance_rebuilds_total",
			Help: "Snapshot rebuilds by whether drift was found and repaired.",
		}, []string{"drift"}),
	}

	registerer.MustRegister(
		m.admissions,
		m.admissionDuration,
		m.admissionAttempts,
		m.reports,
		m.reportDuration,
		m.rebuilds,
	)
	return m
}

// ObserveAdmission implements guard.Recorder.
func (m *Metrics) ObserveAdmission(txType ledger.Type, outcome string, attempts int, elapsed time.Duration) {
	typ := string(txType)
	if !txType.IsValid() {
		typ = "invalid"
	}
	m.admissions.WithLabelValues(typ, outcome).Inc()
	m.admissionDuration.WithLabelValues(typ).Observe(elapsed.Seconds())
	if attempts > 0 {
		m.admissionAttempts.Observe(float64(attempts))
	}
}

// ObserveReport implements reports.Observer.
func (m *Metrics) ObserveReport(groupBy string, cached bool, elapsed time.Duration) {
	result := "miss"
	if cached {
		result = "hit"
	}
	m.reports.WithLabelValues(result).Inc()
	m.reportDuration.WithLabelValues(groupBy).Observe(elapsed.Seconds())
}

// ObserveRebuild implements balance.RebuildObserver.
func (m *Metrics) ObserveRebuild(repaired bool) {
	drift := "none"
	if repaired {
		drift = "repaired"
	}
	m.rebuilds.WithLabelValues(drift).Inc()
}
