package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the tenant metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRefused = "refused"
)

// TenantPoolMetrics tracks the per-process tenant connection pool.
type TenantPoolMetrics struct {
	pooled   prometheus.Gauge
	opens    *prometheus.CounterVec
	openTime prometheus.Histogram
	evicted  *prometheus.CounterVec
}

// NewTenantPoolMetrics registers the tenant pool metrics on the provided registerer.
func NewTenantPoolMetrics(reg prometheus.Registerer) *TenantPoolMetrics {
	if reg == nil {
		return &TenantPoolMetrics{}
	}
	pooled := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storegrid_tenant_pool_handles",
		Help: "Tenant database handles currently pooled in this process.",
	})
	opens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storegrid_tenant_open_attempts_total",
		Help: "Tenant database open attempts by outcome.",
	}, []string{"outcome"})
	openTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "storegrid_tenant_open_duration_seconds",
		Help:    "Time spent opening and pinging a tenant database.",
		Buckets: prometheus.DefBuckets,
	})
	evicted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storegrid_tenant_evictions_total",
		Help: "Pooled tenant handles evicted by reason.",
	}, []string{"reason"})
	reg.MustRegister(pooled, opens, openTime, evicted)
	return &TenantPoolMetrics{pooled: pooled, opens: opens, openTime: openTime, evicted: evicted}
}

// SetPooled records the current number of pooled handles.
func (m *TenantPoolMetrics) SetPooled(n int) {
	if m == nil || m.pooled == nil {
		return
	}
	m.pooled.Set(float64(n))
}

// ObserveOpen records one open attempt.
func (m *TenantPoolMetrics) ObserveOpen(outcome string, duration time.Duration) {
	if m == nil || m.opens == nil {
		return
	}
	m.opens.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.openTime.Observe(duration.Seconds())
}

// IncEvicted counts a handle removed from the pool.
func (m *TenantPoolMetrics) IncEvicted(reason string) {
	if m == nil || m.evicted == nil {
		return
	}
	m.evicted.WithLabelValues(normalizeLabel(reason)).Inc()
}
