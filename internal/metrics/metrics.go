package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	reg *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	recordsTotal        *prometheus.CounterVec
	streamFragments     prometheus.Counter
	inferenceDuration   *prometheus.HistogramVec
	inferenceQueueDepth prometheus.Gauge
	staleRecordsTotal   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		httpRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		recordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_records_total",
			Help: "Voice records reaching a terminal status, by kind",
		}, []string{"kind", "status"}),
		streamFragments: f.NewCounter(prometheus.CounterOpts{
			Name: "transcription_stream_fragments_total",
			Help: "Transcript fragments persisted and forwarded to clients",
		}),
		inferenceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inference_duration_seconds",
			Help:    "Time spent in model calls dispatched through the inference pool",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"op", "outcome"}),
		inferenceQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "inference_queue_depth",
			Help: "Jobs waiting for an inference worker",
		}),
		staleRecordsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_records_stale_total",
			Help: "Records marked error by the stale sweeper",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordOutcome counts a record reaching status; kind is "transcription" or
// "synthesis".
func (m *Metrics) RecordOutcome(kind, status string) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) StreamFragment() {
	if m == nil {
		return
	}
	m.streamFragments.Inc()
}

func (m *Metrics) ObserveInference(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.inferenceDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
}

func (m *Metrics) QueueDepth(delta float64) {
	if m == nil {
		return
	}
	m.inferenceQueueDepth.Add(delta)
}

func (m *Metrics) StaleRecords(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.staleRecordsTotal.Add(float64(n))
}

// Middleware records count and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
