package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "warden"

// Metrics records authentication outcomes on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// Labels: method, outcome ("authenticated", "pending_two_factor", "needs_registration", "failed")
	AuthAttempts *prometheus.CounterVec
	// Labels: route
	RateLimitedTotal *prometheus.CounterVec
	RefreshReplays   prometheus.Counter
	// Labels: ok
	CodeDeliveries *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the
// process and Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AuthAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_attempts_total",
				Help:      "Authentication attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		RefreshReplays: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_replays_total",
				Help:      "Refresh token reuse detections that revoked a family",
			},
		),
		CodeDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "code_deliveries_total",
				Help:      "Verification code hand-offs by result",
			},
			[]string{"ok"},
		),
	}
}

// AuthAttempt counts a login attempt by method and outcome.
func (m *Metrics) AuthAttempt(method, outcome string) {
	m.AuthAttempts.WithLabelValues(method, outcome).Inc()
}

// RateLimited counts a rejected admission on route.
func (m *Metrics) RateLimited(route string) {
	m.RateLimitedTotal.WithLabelValues(route).Inc()
}

// RefreshReplay counts a detected refresh token replay.
func (m *Metrics) RefreshReplay() {
	m.RefreshReplays.Inc()
}

// CodeDelivery counts a verification code hand-off.
func (m *Metrics) CodeDelivery(ok bool) {
	m.CodeDeliveries.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
