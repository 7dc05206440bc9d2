package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter wires the Collector's attempts onto prometheus
// collectors, following the teacher-pack's registry-per-exporter
// shape (oriys-nova's internal/metrics/prometheus.go): one
// prometheus.Registry, CounterVec/HistogramVec/GaugeVec instruments
// registered up front, a Record* method per attempt, and an
// http.Handler for scraping.
type PrometheusExporter struct {
	registry *prometheus.Registry

	attemptsTotal    *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec
	retryCount       *prometheus.HistogramVec
}

var defaultDurationBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// NewPrometheusExporter builds a PrometheusExporter under namespace,
// registering the standard Go/process collectors alongside the
// messenger-specific instruments.
func NewPrometheusExporter(namespace string) *PrometheusExporter {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	e := &PrometheusExporter{
		registry: registry,
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total processed message attempts by type, transport, and result.",
			},
			[]string{"type", "transport", "status"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_milliseconds",
				Help:      "Handler execution duration in milliseconds.",
				Buckets:   defaultDurationBuckets,
			},
			[]string{"type", "transport"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Last observed queue depth by transport and queue name.",
			},
			[]string{"transport", "queue"},
		),
		retryCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_count",
				Help:      "Distribution of retry_count at time of attempt.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
			},
			[]string{"type"},
		),
	}
	registry.MustRegister(e.attemptsTotal, e.attemptDuration, e.queueDepth, e.retryCount)
	return e
}

// Observe records a into the Prometheus instruments, in addition to
// whatever Collector also records it in the ring.
func (e *PrometheusExporter) Observe(a Attempt) {
	status := "success"
	if !a.Success {
		status = "failure"
	}
	e.attemptsTotal.WithLabelValues(a.Type, a.Transport, status).Inc()
	e.attemptDuration.WithLabelValues(a.Type, a.Transport).Observe(float64(a.DurationMS))
	e.retryCount.WithLabelValues(a.Type).Observe(float64(a.RetryCount))
}

// SetQueueDepth records a point-in-time queue depth gauge.
func (e *PrometheusExporter) SetQueueDepth(transport, queue string, depth int) {
	e.queueDepth.WithLabelValues(transport, queue).Set(float64(depth))
}

// Handler returns the http.Handler for Prometheus scraping.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for registering additional
// collectors.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
