package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the draft service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Draft store metrics
	DraftSavesTotal     *prometheus.CounterVec
	DraftLoadsTotal     *prometheus.CounterVec
	DraftEvictionsTotal *prometheus.CounterVec

	// Sync metrics
	SyncPushesTotal   *prometheus.CounterVec
	SyncPushDuration  prometheus.Histogram
	SyncPendingDrafts prometheus.Gauge
	Online            prometheus.Gauge

	// Questionnaire metrics
	SubmissionsTotal    *prometheus.CounterVec
	QueryRefreshesTotal *prometheus.CounterVec
	OpenQuestionnaires  prometheus.Gauge

	// Backend metrics
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msds_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msds_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msds_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msds_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Drafts
		DraftSavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msds_draft_saves_total",
			Help: "Total number of local draft writes.",
		}, []string{"status"}),
		DraftLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msds_draft_loads_total",
			Help: "Total number of local draft reads.",
		}, []string{"result"}),
		DraftEvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msds_draft_evictions_total",
			Help: "Total number of evicted local drafts.",
		}, []string{"reason"}),

		// Sync
		SyncPushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msds_sync_pushes_total",
			Help: "Total number of remote draft pushes.",
		}, []string{"outcome"}),
		SyncPushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "msds_sync_push_duration_seconds",
			Help:    "Remote draft push duration in seconds.",
			Buckets: backendDurationBuckets,
		}),
		SyncPendingDrafts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msds_sync_pending_drafts",
			Help: "Number of drafts waiting for a remote push.",
		}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msds_online",
			Help: "Backend connectivity (1=online, 0=offline).",
		}),

		// Questionnaires
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msds_submissions_total",
			Help: "Total number of questionnaire submissions.",
		}, []string{"outcome"}),
		QueryRefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msds_query_refreshes_total",
			Help: "Total number of query list refreshes.",
		}, []string{"status"}),
		OpenQuestionnaires: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msds_open_questionnaires",
			Help: "Number of questionnaires open in this process.",
		}),

		// Backend
		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msds_backend_requests_total",
			Help: "Total number of workflow backend requests.",
		}, []string{"operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msds_backend_request_duration_seconds",
			Help:    "Workflow backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "msds_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "msds_backend_retries_total",
			Help: "Total number of workflow backend request retries.",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Drafts
		m.DraftSavesTotal,
		m.DraftLoadsTotal,
		m.DraftEvictionsTotal,
		// Sync
		m.SyncPushesTotal,
		m.SyncPushDuration,
		m.SyncPendingDrafts,
		m.Online,
		// Questionnaires
		m.SubmissionsTotal,
		m.QueryRefreshesTotal,
		m.OpenQuestionnaires,
		// Backend
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordDraftSave records a local draft write. Status is "ok", "retried"
// or "failed".
func (m *Metrics) RecordDraftSave(status string) {
	if m == nil {
		return
	}
	m.DraftSavesTotal.WithLabelValues(status).Inc()
}

// RecordDraftLoad records a local draft read. Result is "hit", "miss",
// "expired" or "corrupt".
func (m *Metrics) RecordDraftLoad(result string) {
	if m == nil {
		return
	}
	m.DraftLoadsTotal.WithLabelValues(result).Inc()
}

// RecordDraftEvictions records evicted drafts.
func (m *Metrics) RecordDraftEvictions(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.DraftEvictionsTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordSyncPush records a remote draft push. Outcome is "synced",
// "coalesced", "offline" or an error code.
func (m *Metrics) RecordSyncPush(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncPushesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.SyncPushDuration.Observe(duration.Seconds())
	}
}

// AddPendingDrafts adjusts the pending drafts gauge.
func (m *Metrics) AddPendingDrafts(delta float64) {
	if m == nil {
		return
	}
	m.SyncPendingDrafts.Add(delta)
}

// SetOnline records the current connectivity state.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.Online.Set(1)
		return
	}
	m.Online.Set(0)
}

// RecordSubmission records a questionnaire submission attempt.
func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordQueryRefresh records a query list refresh.
func (m *Metrics) RecordQueryRefresh(status string) {
	if m == nil {
		return
	}
	m.QueryRefreshesTotal.WithLabelValues(status).Inc()
}

// AddOpenQuestionnaires adjusts the open questionnaires gauge.
func (m *Metrics) AddOpenQuestionnaires(delta float64) {
	if m == nil {
		return
	}
	m.OpenQuestionnaires.Add(delta)
}

// RecordBackendRequest records a workflow backend request.
func (m *Metrics) RecordBackendRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state.
// State: 0=closed, 1=open, 2=half-open.
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(operation string) {
	if m == nil {
		return
	}
	m.BackendRetriesTotal.WithLabelValues(operation).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the given gatherer. A nil
// gatherer serves the default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
