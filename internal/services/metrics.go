package services

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics keeps cheap atomic totals for the JSON metrics endpoint and
// mirrors them into a Prometheus registry.
type Metrics struct {
	totalFrames    atomic.Int64
	analyzedFrames atomic.Int64
	totalErrors    atomic.Int64
	totalLatency   atomic.Int64
	lastFrameTime  atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64

	registry    *prometheus.Registry
	framesCnt   *prometheus.CounterVec
	analysisDur *prometheus.HistogramVec
	levelCnt    *prometheus.CounterVec
	errorsCnt   *prometheus.CounterVec
	wsConnGauge prometheus.Gauge
	wsMsgCnt    prometheus.Counter
	httpReqCnt  *prometheus.CounterVec
	httpDur     *prometheus.HistogramVec
}

// MetricsSnapshot is served by /api/metrics.
type MetricsSnapshot struct {
	TotalFrames      int64   `json:"total_frames"`
	AnalyzedFrames   int64   `json:"analyzed_frames"`
	TotalErrors      int64   `json:"total_errors"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	LastFrameTime    int64   `json:"last_frame_time"`
	ActiveClients    int64   `json:"active_clients"`
	WebSocketMsgs    int64   `json:"websocket_messages"`
	WebSocketErrors  int64   `json:"websocket_errors"`
	TimestampUnixSec int64   `json:"timestamp"`
}

func NewMetrics(namespace string) *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: r,
		framesCnt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
		}, []string{"analyzed"}),
		analysisDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "analysis_duration_seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"analyzer", "status"}),
		levelCnt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "drowsiness_results_total",
		}, []string{"level"}),
		errorsCnt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
		}, []string{"kind"}),
		wsConnGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "websocket_connections",
		}),
		wsMsgCnt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "websocket_messages_total",
		}),
		httpReqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
		}, []string{"method", "route", "status"}),
		httpDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
		}, []string{"method", "route", "status"}),
	}
	r.MustRegister(m.framesCnt, m.analysisDur, m.levelCnt, m.errorsCnt,
		m.wsConnGauge, m.wsMsgCnt, m.httpReqCnt, m.httpDur)
	return m
}

// IncrementFrames counts one binary frame received from a client.
func (m *Metrics) IncrementFrames(analyzed bool) {
	m.totalFrames.Add(1)
	m.lastFrameTime.Store(time.Now().Unix())
	if analyzed {
		m.analyzedFrames.Add(1)
	}
	m.framesCnt.WithLabelValues(strconv.FormatBool(analyzed)).Inc()
}

// RecordAnalysis records one analyzer call.
func (m *Metrics) RecordAnalysis(analyzer, level string, d time.Duration, failed bool) {
	m.totalLatency.Add(d.Milliseconds())
	status := "ok"
	if failed {
		status = "error"
		m.IncrementErrors("analysis")
	}
	m.analysisDur.WithLabelValues(analyzer, status).Observe(d.Seconds())
	m.levelCnt.WithLabelValues(level).Inc()
}

func (m *Metrics) IncrementErrors(kind string) {
	m.totalErrors.Add(1)
	m.errorsCnt.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
	m.wsConnGauge.Inc()
}

func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
	m.wsConnGauge.Dec()
}

func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
	m.wsMsgCnt.Inc()
}

func (m *Metrics) IncrementWebSocketErrors() {
	m.wsErrors.Add(1)
	m.IncrementErrors("websocket")
}

func (m *Metrics) GetTotalFrames() int64 {
	return m.totalFrames.Load()
}

func (m *Metrics) GetWebSocketConnections() int64 {
	return m.wsConnections.Load()
}

// GetAvgLatency is the mean analyzer latency in milliseconds.
func (m *Metrics) GetAvgLatency() float64 {
	frames := m.analyzedFrames.Load()
	if frames == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(frames)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalFrames:      m.totalFrames.Load(),
		AnalyzedFrames:   m.analyzedFrames.Load(),
		TotalErrors:      m.totalErrors.Load(),
		AvgLatencyMs:     m.GetAvgLatency(),
		LastFrameTime:    m.lastFrameTime.Load(),
		ActiveClients:    m.wsConnections.Load(),
		WebSocketMsgs:    m.wsMessages.Load(),
		WebSocketErrors:  m.wsErrors.Load(),
		TimestampUnixSec: time.Now().Unix(),
	}
}

// Handler exposes the Prometheus registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and durations per chi route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		m.httpReqCnt.WithLabelValues(r.Method, route, status).Inc()
		m.httpDur.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}
