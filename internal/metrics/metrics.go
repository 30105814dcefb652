// Package metrics exposes the gateway's Prometheus instrumentation,
// grounded on the reference codebase's metrics_collector.go (same
// counter/histogram vocabulary — requests, guardrail triggers, drops —
// rebuilt on the standard client_golang registry instead of the
// reference's hand-rolled aggregator).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the gateway registers.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	GuardrailTriggered   *prometheus.CounterVec
	AuditDropped         prometheus.Counter
	UpstreamRetriesTotal prometheus.Counter
	PolicyCacheHits      prometheus.Counter
	PolicyCacheMisses    prometheus.Counter
}

// New registers every collector against reg (pass
// prometheus.DefaultRegisterer for a process-wide singleton).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cerberus_gateway",
			Name:      "requests_total",
			Help:      "Total proxied requests by final governance action.",
		}, []string{"final_action"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cerberus_gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end proxy request latency.",
			Buckets:   []float64{.005, .01, .02, .03, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"final_action"}),
		GuardrailTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cerberus_gateway",
			Name:      "guardrail_triggered_total",
			Help:      "Guardrail evaluations that triggered, by type and action taken.",
		}, []string{"guardrail_type", "action"}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cerberus_gateway",
			Name:      "audit_decisions_dropped_total",
			Help:      "Audit decisions dropped because the in-process channel was full.",
		}),
		UpstreamRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cerberus_gateway",
			Name:      "upstream_retries_total",
			Help:      "Retry attempts issued by the upstream client.",
		}),
		PolicyCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cerberus_gateway",
			Name:      "policy_cache_hits_total",
			Help:      "Policy resolutions served from cache.",
		}),
		PolicyCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cerberus_gateway",
			Name:      "policy_cache_misses_total",
			Help:      "Policy resolutions that fell back to the database.",
		}),
	}
}
