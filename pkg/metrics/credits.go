package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// CreditMetrics tracks credit ledger activity.
type CreditMetrics struct {
	charges  *prometheus.CounterVec
	credits  *prometheus.CounterVec
	costHits *prometheus.CounterVec
}

// NewCreditMetrics registers the credit ledger metrics on the provided registerer.
func NewCreditMetrics(reg prometheus.Registerer) *CreditMetrics {
	if reg == nil {
		return &CreditMetrics{}
	}
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storegrid_credit_charges_total",
		Help: "Credit charge attempts by usage type and outcome.",
	}, []string{"usage_type", "outcome"})
	credits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storegrid_credits_debited_total",
		Help: "Credits moved by the ledger by transaction type.",
	}, []string{"transaction_type"})
	costHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storegrid_credit_cost_cache_total",
		Help: "Credit cost lookups by cache result.",
	}, []string{"result"})
	reg.MustRegister(charges, credits, costHits)
	return &CreditMetrics{charges: charges, credits: credits, costHits: costHits}
}

// IncCharge counts a charge attempt.
func (m *CreditMetrics) IncCharge(usageType, outcome string) {
	if m == nil || m.charges == nil {
		return
	}
	m.charges.WithLabelValues(normalizeLabel(usageType), normalizeLabel(outcome)).Inc()
}

// AddCredits records the absolute amount moved by a ledger entry.
func (m *CreditMetrics) AddCredits(transactionType string, amount decimal.Decimal) {
	if m == nil || m.credits == nil {
		return
	}
	value, _ := amount.Abs().Float64()
	m.credits.WithLabelValues(normalizeLabel(transactionType)).Add(value)
}

// IncCostLookup records a cost cache hit or miss.
func (m *CreditMetrics) IncCostLookup(result string) {
	if m == nil || m.costHits == nil {
		return
	}
	m.costHits.WithLabelValues(normalizeLabel(result)).Inc()
}
