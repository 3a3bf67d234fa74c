// Package metrics holds the Prometheus collectors for Cairn.
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

const namespace = "cairn"

// Metrics is the set of collectors registered for one process.
type Metrics struct {
	reg *prometheus.Registry

	DependencyEdits  *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	AnalysisTasks    prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	EventClients     prometheus.Gauge
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		DependencyEdits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_edits_total",
			Help:      "Dependency edits by outcome.",
		}, []string{"outcome"}),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent analyzing a list.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		AnalysisTasks: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_tasks",
			Help:      "Number of tasks per analyzed list.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		EventClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_clients",
			Help:      "Connected event stream clients.",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// DependencyEdit counts one dependency edit outcome.
func (m *Metrics) DependencyEdit(outcome string) {
	m.DependencyEdits.WithLabelValues(outcome).Inc()
}

// Analysis records a completed list analysis.
func (m *Metrics) Analysis(tasks int, elapsed time.Duration) {
	m.AnalysisTasks.Observe(float64(tasks))
	m.AnalysisDuration.Observe(elapsed.Seconds())
}

// ClientConnected and ClientDisconnected track event stream subscribers.
func (m *Metrics) ClientConnected()    { m.EventClients.Inc() }
func (m *Metrics) ClientDisconnected() { m.EventClients.Dec() }

// Middleware records request counts and latency. The route label is the
// ServeMux pattern that matched, so ids do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
