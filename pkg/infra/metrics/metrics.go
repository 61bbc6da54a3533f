package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	// Evaluate latency buckets in milliseconds. The pipeline is expected
	// to answer in microseconds-to-low-milliseconds; the upper buckets
	// exist to make a degraded cache visible.
	latencyBuckets = []float64{
		0.05, 0.1, 0.25, 0.5,
		1, 2.5, 5, 10,
		25, 50, 100, 250,
	}

	decisionsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_decisions_total",
			Help: "Decisions returned, by action and threat level",
		},
		[]string{"action", "threat_level"},
	)

	signatureHitsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_signature_hits_total",
			Help: "Signature family matches",
		},
		[]string{"family"},
	)

	rateLimitTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ratelimit_checks_total",
			Help: "Rate limit checks, by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	breakerTransitionsTotal = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_breaker_transitions_total",
			Help: "Identity circuit breaker transitions, by target state",
		},
		[]string{"to"},
	)

	evaluateLatency = promauto.With(registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_evaluate_latency_ms",
			Help:    "End-to-end decision latency in milliseconds",
			Buckets: latencyBuckets,
		},
	)

	riskScores = promauto.With(registerer).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	auditQueueDropped = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_audit_events_dropped_total",
			Help: "Threat events dropped because the audit queue was full",
		},
	)
)

// Initialize registers the process collector and installs the private
// registry as the default one.
func Initialize() {
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
}

// Registry exposes the private registry for the metrics server.
func Registry() *prometheus.Registry {
	return registry
}

func ObserveDecision(action, level string) {
	decisionsTotal.WithLabelValues(action, level).Inc()
}

func SignatureHit(family string) {
	signatureHitsTotal.WithLabelValues(family).Inc()
}

func RateLimitOutcome(category string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	rateLimitTotal.WithLabelValues(category, outcome).Inc()
}

func BreakerTransition(to string) {
	breakerTransitionsTotal.WithLabelValues(to).Inc()
}

func ObserveEvaluateDuration(d time.Duration) {
	evaluateLatency.Observe(float64(d.Microseconds()) / 1000.0)
}

func ObserveRiskScore(score float64) {
	riskScores.Observe(score)
}

func AuditEventDropped() {
	auditQueueDropped.Inc()
}
