// Package metrics exposes Prometheus instrumentation for the webhook and
// the LLM collaborator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors the application records into.
type Metrics struct {
	WebhookRequests  *prometheus.CounterVec
	WebhookDeclined  prometheus.Counter
	LLMCalls         prometheus.Counter
	LLMFailures      prometheus.Counter
	ChatCallsDenied  prometheus.Counter
	DeferredDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the application metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "allowancebot_webhook_requests_total",
			Help: "Inbound webhook requests by routed block.",
		}, []string{"block"}),
		WebhookDeclined: factory.NewCounter(prometheus.CounterOpts{
			Name: "allowancebot_webhook_declined_total",
			Help: "Webhook requests declined for a bad shared secret.",
		}),
		LLMCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "allowancebot_llm_calls_total",
			Help: "Chat-completion calls issued.",
		}),
		LLMFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "allowancebot_llm_failures_total",
			Help: "Chat-completion calls that returned an error.",
		}),
		ChatCallsDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "allowancebot_chat_calls_denied_total",
			Help: "Chat LLM calls denied by the per-day conversation quota.",
		}),
		DeferredDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "allowancebot_deferred_task_seconds",
			Help:    "Duration of deferred propose-entry tasks.",
			Buckets: prometheus.DefBuckets,
		}),
		registry: reg,
	}
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
