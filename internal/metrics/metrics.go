// Package metrics exposes Prometheus collectors for the offline cache manager,
// the lifecycle host and the API proxy. A nil *Metrics is valid and records
// nothing, so components can run without a registry in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered by New.
type Metrics struct {
	offlineRequests *prometheus.CounterVec
	offlineDuration *prometheus.HistogramVec
	proxyRequests   *prometheus.CounterVec
	lifecycleEvents *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		offlineRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticks_offline_requests_total",
				Help: "Intercepted requests by classification and response source",
			},
			[]string{"classification", "source"},
		),
		offlineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ticks_offline_fetch_seconds",
				Help:    "Time spent resolving intercepted requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"classification"},
		),
		proxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticks_proxy_requests_total",
				Help: "API proxy requests by endpoint and response status",
			},
			[]string{"endpoint", "status"},
		),
		lifecycleEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticks_lifecycle_events_total",
				Help: "Install and activate outcomes",
			},
			[]string{"phase", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.offlineRequests, m.offlineDuration, m.proxyRequests, m.lifecycleEvents)
	}
	return m
}

// ObserveOffline records one intercepted request. An empty source means the
// fallback chain ran out and the request failed.
func (m *Metrics) ObserveOffline(classification, source string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if source == "" {
		source = "error"
	}
	m.offlineRequests.WithLabelValues(classification, source).Inc()
	m.offlineDuration.WithLabelValues(classification).Observe(elapsed.Seconds())
}

// ObserveProxy records the status returned by an API proxy endpoint.
func (m *Metrics) ObserveProxy(endpoint string, status int) {
	if m == nil {
		return
	}
	m.proxyRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// ObserveLifecycle records an install or activate outcome.
func (m *Metrics) ObserveLifecycle(phase string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.lifecycleEvents.WithLabelValues(phase, result).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
