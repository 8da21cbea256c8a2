// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the application's Prometheus metrics.
//
// Every method is safe on a nil *Collector, so components can be built
// without metrics in tests.
type Collector struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	guardDecisions  *prometheus.CounterVec
	syncOutcomes    *prometheus.CounterVec
	creditMutations *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reroom_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reroom_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reroom_guard_decisions_total",
			Help: "Route guard decisions (bypass, public, allow, deny).",
		}, []string{"decision"}),
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reroom_profile_sync_total",
			Help: "Profile reconciliation outcomes after sign-in.",
		}, []string{"outcome"}),
		creditMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reroom_credit_mutations_total",
			Help: "Applied credit mutations by action.",
		}, []string{"action"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reroom_payment_webhooks_total",
			Help: "Payment webhook deliveries by event type and outcome.",
		}, []string{"event_type", "outcome"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.guardDecisions,
		c.syncOutcomes,
		c.creditMutations,
		c.webhookEvents,
	)
	return c
}

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(route, method string, status int, d time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveGuard records a route guard decision.
func (c *Collector) ObserveGuard(decision string) {
	if c == nil {
		return
	}
	c.guardDecisions.WithLabelValues(decision).Inc()
}

// ObserveSync records a profile sync outcome.
func (c *Collector) ObserveSync(outcome string) {
	if c == nil {
		return
	}
	c.syncOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveCreditMutation records an applied credit mutation.
func (c *Collector) ObserveCreditMutation(action string) {
	if c == nil {
		return
	}
	c.creditMutations.WithLabelValues(action).Inc()
}

// ObserveWebhook records a processed payment webhook.
func (c *Collector) ObserveWebhook(eventType, outcome string) {
	if c == nil {
		return
	}
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// Handler returns the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
