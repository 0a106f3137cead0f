// Package metrics exposes the portal's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal"

type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	gateRedirects   *prometheus.CounterVec
	subscribers     *prometheus.GaugeVec
	authEvents      *prometheus.CounterVec
}

// New registers the portal collectors plus the Go and process collectors
// on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		gateRedirects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_redirects_total",
			Help:      "Navigations redirected by the role gate, by target.",
		}, []string{"target"}),
		subscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_subscribers",
			Help:      "Open realtime subscriptions by table.",
		}, []string{"table"}),
		authEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Auth state changes by event.",
		}, []string{"event"}),
	}
}

// ObserveRequest records one served request
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// GateRedirect counts a redirect issued by the role gate
func (m *Metrics) GateRedirect(target string) {
	m.gateRedirects.WithLabelValues(target).Inc()
}

// SetSubscribers matches realtime.MemoryHub.OnSubscribersChanged
func (m *Metrics) SetSubscribers(table string, count int) {
	m.subscribers.WithLabelValues(table).Set(float64(count))
}

// AuthEvent counts an auth state change
func (m *Metrics) AuthEvent(event string) {
	m.authEvents.WithLabelValues(event).Inc()
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
