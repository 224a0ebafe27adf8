package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PublisherMetrics records outbox publisher batches.
type PublisherMetrics struct {
	duration *prometheus.HistogramVec
	events   *prometheus.CounterVec
}

// NewPublisherMetrics registers the outbox publisher metrics on reg.
func NewPublisherMetrics(reg prometheus.Registerer) *PublisherMetrics {
	if reg == nil {
		return &PublisherMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_batch_duration_seconds",
		Help:    "Duration of outbox publish batches in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Outbox rows handled by result.",
	}, []string{"result"})
	reg.MustRegister(duration, events)
	return &PublisherMetrics{duration: duration, events: events}
}

// ObserveBatch records the duration of one batch.
func (p *PublisherMetrics) ObserveBatch(result string, duration time.Duration) {
	if p == nil || p.duration == nil {
		return
	}
	p.duration.WithLabelValues(normalizeLabel(result)).Observe(duration.Seconds())
}

// IncEvent counts a row as "published", "retry", "held" or "dead_lettered".
func (p *PublisherMetrics) IncEvent(result string) {
	if p == nil || p.events == nil {
		return
	}
	p.events.WithLabelValues(normalizeLabel(result)).Inc()
}
