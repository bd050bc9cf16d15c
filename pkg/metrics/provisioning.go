package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProvisioningMetrics tracks provisioning runs and tenant migrations.
type ProvisioningMetrics struct {
	runs       *prometheus.CounterVec
	step       *prometheus.HistogramVec
	migrations *prometheus.CounterVec
}

// NewProvisioningMetrics registers provisioning and migration metrics.
func NewProvisioningMetrics(reg prometheus.Registerer) *ProvisioningMetrics {
	if reg == nil {
		return &ProvisioningMetrics{}
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storegrid_provisioning_runs_total",
		Help: "Provisioning runs by outcome.",
	}, []string{"outcome"})
	step := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storegrid_provisioning_step_duration_seconds",
		Help:    "Duration of individual provisioning steps.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})
	migrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storegrid_tenant_migrations_total",
		Help: "Tenant migrations applied by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(runs, step, migrations)
	return &ProvisioningMetrics{runs: runs, step: step, migrations: migrations}
}

// IncRun counts a finished provisioning run.
func (m *ProvisioningMetrics) IncRun(outcome string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveStep records the duration of one provisioning step.
func (m *ProvisioningMetrics) ObserveStep(step string, duration time.Duration) {
	if m == nil || m.step == nil {
		return
	}
	m.step.WithLabelValues(normalizeLabel(step)).Observe(duration.Seconds())
}

// IncMigration counts one applied (or failed) tenant migration.
func (m *ProvisioningMetrics) IncMigration(outcome string) {
	if m == nil || m.migrations == nil {
		return
	}
	m.migrations.WithLabelValues(normalizeLabel(outcome)).Inc()
}
