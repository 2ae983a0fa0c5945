// Package metrics exposes pipeline counters in Prometheus exposition format:
// call outcomes by kind, refreshes by outcome, replays, and the refresh
// queue depth.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authpipe"

// Collector implements api.Metrics and refresh.Metrics on a private
// registry.
type Collector struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	replays         *prometheus.CounterVec
	queueDepth      prometheus.Gauge
}

// New creates a Collector with its metrics registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Call attempts by classified outcome.",
		}, []string{"kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Call attempt latency by classified outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Credential refreshes by outcome.",
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Credential refresh latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_total",
			Help:      "Calls replayed after a refresh, by classified outcome.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresh_queue_depth",
			Help:      "Calls waiting for the in-flight refresh.",
		}),
	}

	c.registry.MustRegister(
		c.requests,
		c.requestDuration,
		c.refreshes,
		c.refreshDuration,
		c.replays,
		c.queueDepth,
	)

	return c
}

// ObserveRequest records one call attempt.
func (c *Collector) ObserveRequest(kind string, d time.Duration) {
	c.requests.WithLabelValues(kind).Inc()
	c.requestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RefreshDone records one resolved refresh.
func (c *Collector) RefreshDone(outcome string, d time.Duration) {
	c.refreshes.WithLabelValues(outcome).Inc()
	c.refreshDuration.Observe(d.Seconds())
}

// Replayed records one replay.
func (c *Collector) Replayed(kind string) {
	c.replays.WithLabelValues(kind).Inc()
}

// QueueDepth sets the current queue length.
func (c *Collector) QueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
