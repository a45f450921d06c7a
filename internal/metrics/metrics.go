// Package metrics exposes Prometheus metrics for the fetch, catalog and
// report caches.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/colthorp/sol-cli-go/internal/core"
)

const namespace = "sol"

// Metrics implements fetch.Observer, catalog.Observer and report.Observer.
type Metrics struct {
	requests   *prometheus.CounterVec   // by method, status
	latency    *prometheus.HistogramVec // by method
	failures   *prometheus.CounterVec   // by kind
	bytes      prometheus.Counter
	images     *prometheus.CounterVec // by source
	prefetched *prometheus.CounterVec // by outcome
	reports    *prometheus.CounterVec // by kind, source
}

// NewMetrics creates unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "failures_total",
			Help:      "Failed HTTP requests by error kind",
		}, []string{"kind"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Response bytes downloaded",
		}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "image_loads_total",
			Help:      "Image loads by source (memory, store, remote)",
		}, []string{"source"}),
		prefetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "prefetch_images_total",
			Help:      "Prefetched images by outcome",
		}, []string{"outcome"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "served_total",
			Help:      "Reports served by kind and source (remote, cached)",
		}, []string{"kind", "source"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.latency, m.failures, m.bytes, m.images, m.prefetched, m.reports}
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration, err error) {
	if status > 0 {
		m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		m.failures.WithLabelValues(core.KindOf(err)).Inc()
	}
}

func (m *Metrics) ObserveBytes(n int) {
	m.bytes.Add(float64(n))
}

func (m *Metrics) ImageLoaded(source string) {
	m.images.WithLabelValues(source).Inc()
}

func (m *Metrics) PrefetchDone(fetched, failed int) {
	m.prefetched.WithLabelValues("fetched").Add(float64(fetched))
	m.prefetched.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) ReportServed(kind, source string) {
	m.reports.WithLabelValues(kind, source).Inc()
}

// Registry pairs a Prometheus registry with the sol metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
}

// NewRegistry registers the sol metrics plus Go runtime and process
// collectors.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
	}
	r.prometheusRegistry.MustRegister(r.Metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry returns the underlying registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}
