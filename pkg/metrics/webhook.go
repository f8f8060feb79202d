package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// WebhookMetrics records inbound billing events by type and outcome.
type WebhookMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vod_stripe_webhook_events_total",
		Help: "Stripe webhook events by type and outcome.",
	}, []string{"type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vod_stripe_webhook_duration_seconds",
		Help:    "Time spent applying a Stripe webhook event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	reg.MustRegister(events, duration)
	return &WebhookMetrics{events: events, duration: duration}
}

// Observe records one handled event.
func (m *WebhookMetrics) Observe(eventType, outcome string, elapsed time.Duration) {
	if m == nil || m.events == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.events.WithLabelValues(eventType, outcome).Inc()
	m.duration.WithLabelValues(eventType).Observe(elapsed.Seconds())
}
