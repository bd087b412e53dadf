// Package http provides the inbound HTTP transport: webhook endpoints,
// health, metrics and the operator API.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bastion-gate/bastion/internal/domain/guard"
)

// Metrics holds all Prometheus metrics for bastion. Pass to components
// that need to record metrics.
type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	WebhooksTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	AuditAppendErrors  prometheus.Counter
	BlockedTransitions prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bastion",
				Name:      "decisions_total",
				Help:      "Authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		WebhooksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bastion",
				Name:      "webhooks_total",
				Help:      "Webhook admissions by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bastion",
				Name:      "request_duration_seconds",
				Help:      "Inbound request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		AuditAppendErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "bastion",
				Name:      "audit_append_errors_total",
				Help:      "Audit events dropped due to sink errors",
			},
		),
		BlockedTransitions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "bastion",
				Name:      "blocked_transitions_total",
				Help:      "Principals escalated into a temporary block",
			},
		),
	}
}

// RecordDecision implements guard.Metrics.
func (m *Metrics) RecordDecision(operation string, outcome guard.Outcome) {
	m.DecisionsTotal.WithLabelValues(string(outcome)).Inc()
	if outcome == guard.OutcomeBlocked {
		m.BlockedTransitions.Inc()
	}
}

// RecordWebhook implements guard.Metrics.
func (m *Metrics) RecordWebhook(provider string, outcome guard.Outcome) {
	m.WebhooksTotal.WithLabelValues(provider, string(outcome)).Inc()
}
