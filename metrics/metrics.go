package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors exported at /metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	answers           *prometheus.CounterVec
	qualityRejections *prometheus.CounterVec
	translations      *prometheus.CounterVec
	ingestedPassages  prometheus.Counter
	ingestFailures    prometheus.Counter
	httpDuration      *prometheus.HistogramVec
}

// New creates a registry with process collectors and the service metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profai_answers_total",
			Help: "Answers returned, by knowledge source.",
		}, []string{"source"}),
		qualityRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profai_quality_rejections_total",
			Help: "Generated texts replaced by a fallback, by failed check.",
		}, []string{"check"}),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profai_translations_total",
			Help: "Translation calls, by outcome.",
		}, []string{"outcome"}),
		ingestedPassages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profai_ingested_passages_total",
			Help: "Passages committed to the knowledge index.",
		}),
		ingestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profai_ingest_failures_total",
			Help: "Failed knowledge index commits.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "profai_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.answers, m.qualityRejections, m.translations,
		m.ingestedPassages, m.ingestFailures, m.httpDuration)
	return m
}

func (m *Metrics) Answer(source string) {
	if m != nil {
		m.answers.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) QualityRejection(check string) {
	if m != nil {
		m.qualityRejections.WithLabelValues(check).Inc()
	}
}

func (m *Metrics) Translation(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.translations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Ingested(passages int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ingestFailures.Inc()
		return
	}
	m.ingestedPassages.Add(float64(passages))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request latency per route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
