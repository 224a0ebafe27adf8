package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Purchase paths reported on the path label.
const (
	PathAtomic = "atomic"
	PathRetry  = "retry"
)

// EngineMetrics records purchase and redemption outcomes.
type EngineMetrics struct {
	purchases     *prometheus.CounterVec
	attempts      prometheus.Histogram
	conflicts     prometheus.Counter
	compensations *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	validations   *prometheus.CounterVec
	admissions    *prometheus.CounterVec
}

// NewEngineMetrics registers the engine metrics on the provided registerer.
// A nil registerer yields a recorder that drops every observation.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	m := &EngineMetrics{
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_purchases_total",
			Help: "Purchase attempts by outcome and reservation path.",
		}, []string{"outcome", "path"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticket_reserve_attempts",
			Help:    "Compare-and-swap attempts used by the retry path.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticket_reserve_conflicts_total",
			Help: "Lost compare-and-swap writes on ticket tiers.",
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_reserve_compensations_total",
			Help: "Inventory rollbacks after a failed booking write.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticket_purchase_duration_seconds",
			Help:    "Duration of purchase calls in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voucher_validations_total",
			Help: "Voucher validations by result.",
		}, []string{"result"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_admissions_total",
			Help: "Gate admissions by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.purchases, m.attempts, m.conflicts, m.compensations, m.duration, m.validations, m.admissions)
	return m
}

// ObservePurchase records one purchase call.
func (m *EngineMetrics) ObservePurchase(outcome, path string, duration time.Duration) {
	if m == nil || m.purchases == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.purchases.WithLabelValues(outcome, normalizeLabel(path)).Inc()
	m.duration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveAttempts records how many CAS attempts a retry-path purchase used.
func (m *EngineMetrics) ObserveAttempts(attempts int) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Observe(float64(attempts))
}

// IncConflict counts a lost CAS write.
func (m *EngineMetrics) IncConflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Inc()
}

// IncCompensation counts an inventory rollback; result is "restocked",
// "noop" or "failed".
func (m *EngineMetrics) IncCompensation(result string) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncValidation counts a validation result ("valid" or the rejection reason).
func (m *EngineMetrics) IncValidation(result string) {
	if m == nil || m.validations == nil {
		return
	}
	m.validations.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncAdmission counts a gate admission result.
func (m *EngineMetrics) IncAdmission(result string) {
	if m == nil || m.admissions == nil {
		return
	}
	m.admissions.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
