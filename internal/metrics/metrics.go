package metrics

import (
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Maintenance metrics
	TTLDeletedTotal   prometheus.Counter
	DedupDeletedTotal prometheus.Counter
	PurgedTotal       prometheus.Counter
	MaintenanceRuns   *prometheus.CounterVec

	// Request metrics
	RequestsTotal      *prometheus.CounterVec
	RequestErrorsTotal *prometheus.CounterVec
	RequestDuration    *prometheus.SummaryVec

	// Search metrics
	StageDuration *prometheus.SummaryVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec

	// Store metrics
	MemoryRecords prometheus.Gauge
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TTLDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ttl_deleted_total",
			Help: "Memories soft-deleted by the TTL sweep",
		}),
		DedupDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dedup_deleted_total",
			Help: "Memories soft-deleted by the duplicate sweep",
		}),
		PurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "purged_total",
			Help: "Soft-deleted memories physically removed",
		}),
		MaintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintenance_runs_total",
				Help: "Maintenance job iterations",
			},
			[]string{"job", "status"},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requests_total",
				Help: "Tool requests",
			},
			[]string{"tool"},
		),
		RequestErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_errors_total",
				Help: "Tool requests that failed",
			},
			[]string{"tool"},
		),
		RequestDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name: "request_duration_ms",
				Help: "Tool request duration in milliseconds",
			},
			[]string{"tool"},
		),

		StageDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name: "stage_duration_ms",
				Help: "Recall stage duration in milliseconds",
			},
			[]string{"stage"},
		),

		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_requests_total",
				Help: "Cache lookups by kind and result",
			},
			[]string{"kind", "result"},
		),

		MemoryRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_records",
			Help: "Live memory records",
		}),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		m.TTLDeletedTotal,
		m.DedupDeletedTotal,
		m.PurgedTotal,
		m.MaintenanceRuns,
		m.RequestsTotal,
		m.RequestErrorsTotal,
		m.RequestDuration,
		m.StageDuration,
		m.CacheRequestsTotal,
		m.MemoryRecords,
	)
}

// ObserveStage records a recall stage duration.
func (m *Metrics) ObserveStage(stage string, ms float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(ms)
}

// ObserveRequest records a completed tool call.
func (m *Metrics) ObserveRequest(tool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(tool).Inc()
	m.RequestDuration.WithLabelValues(tool).Observe(float64(d.Microseconds()) / 1000)
	if err != nil {
		m.RequestErrorsTotal.WithLabelValues(tool).Inc()
	}
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(kind, result).Inc()
}

// AddTTLDeleted adds n to ttl_deleted_total.
func (m *Metrics) AddTTLDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TTLDeletedTotal.Add(float64(n))
}

// AddDedupDeleted adds n to dedup_deleted_total.
func (m *Metrics) AddDedupDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DedupDeletedTotal.Add(float64(n))
}

// AddPurged adds n to purged_total.
func (m *Metrics) AddPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PurgedTotal.Add(float64(n))
}

// ObserveJob records one maintenance iteration.
func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.MaintenanceRuns.WithLabelValues(job, status).Inc()
}

// SetMemoryRecords sets the live record gauge.
func (m *Metrics) SetMemoryRecords(n int64) {
	if m == nil {
		return
	}
	m.MemoryRecords.Set(float64(n))
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// WriteText writes every metric family in the Prometheus text format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
