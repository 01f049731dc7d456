package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the wallet.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	requestDuration    *prometheus.HistogramVec
	externalErrors     *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	transfers          *prometheus.CounterVec
	reconciliations    *prometheus.CounterVec
	securityRejections *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// metrics in it, so tests can build as many instances as they like.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_operation_duration_seconds",
				Help:    "Duration of wallet operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		transfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_transfers_total",
				Help: "Internal transfers by result.",
			},
			[]string{"result"},
		),
		reconciliations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_reconciliations_total",
				Help: "Top-up reconciliations by source and outcome.",
			},
			[]string{"source", "outcome"},
		),
		securityRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_security_rejections_total",
				Help: "Requests rejected for failed authenticity checks.",
			},
			[]string{"reason"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrTransfer counts a transfer attempt by result ("success" or a rejection code).
func (m *Metrics) IncrTransfer(result string) {
	m.transfers.WithLabelValues(result).Inc()
}

// IncrReconciliation counts a reconciliation outcome.
func (m *Metrics) IncrReconciliation(source, outcome string) {
	m.reconciliations.WithLabelValues(source, outcome).Inc()
}

// IncrSecurityRejection counts a rejected webhook or PIN.
func (m *Metrics) IncrSecurityRejection(reason string) {
	m.securityRejections.WithLabelValues(reason).Inc()
}

// TransferCount returns the cumulative count for a transfer result.
func (m *Metrics) TransferCount(result string) float64 {
	return counterValue(m.transfers.WithLabelValues(result))
}

// ReconciliationCount returns the cumulative count for a reconciliation.
func (m *Metrics) ReconciliationCount(source, outcome string) float64 {
	return counterValue(m.reconciliations.WithLabelValues(source, outcome))
}

// SecurityRejectionCount returns the cumulative count for a rejection reason.
func (m *Metrics) SecurityRejectionCount(reason string) float64 {
	return counterValue(m.securityRejections.WithLabelValues(reason))
}

// CacheHitCount returns the cumulative hit count for a cache.
func (m *Metrics) CacheHitCount(cache string) float64 {
	return counterValue(m.cacheHits.WithLabelValues(cache))
}

// counterValue extracts the current value of a counter.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
