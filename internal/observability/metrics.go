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
	streamDurationBuckets  = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the console.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Gateway metrics
	GatewayCallsTotal          *prometheus.CounterVec
	GatewayCallDuration        *prometheus.HistogramVec
	GatewayValidationFailures  *prometheus.CounterVec
	BackendCircuitBreakerState *prometheus.GaugeVec

	// Page metrics
	PageRefreshTotal    *prometheus.CounterVec
	PageRefreshDuration *prometheus.HistogramVec
	PageItems           *prometheus.GaugeVec

	// Dialog, stream and event metrics
	DialogTransitionsTotal *prometheus.CounterVec
	StreamOutcomesTotal    *prometheus.CounterVec
	StreamDuration         *prometheus.HistogramVec
	EventsReceivedTotal    *prometheus.CounterVec

	// System metrics
	DefinitionReloadTotal  *prometheus.CounterVec
	DefinitionsLoaded      prometheus.Gauge
	CatalogCommandsIndexed *prometheus.GaugeVec
	PreferenceSavesTotal   *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// InitMetrics creates and registers all Prometheus metric instruments.
// When reg is also a prometheus.Gatherer, Handler serves from it.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		GatewayCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_gateway_calls_total",
			Help: "Total number of backend command calls by outcome.",
		}, []string{"command", "outcome"}),
		GatewayCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_gateway_call_duration_seconds",
			Help:    "Backend command call duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"command"}),
		GatewayValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_gateway_validation_failures_total",
			Help: "Total number of calls rejected by local argument validation.",
		}, []string{"command"}),
		BackendCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigil_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"service_id"}),

		PageRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_page_refresh_total",
			Help: "Total number of page list refreshes by outcome.",
		}, []string{"page_id", "outcome"}),
		PageRefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_page_refresh_duration_seconds",
			Help:    "Page list refresh duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"page_id"}),
		PageItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigil_page_items",
			Help: "Number of items held by a page after its last refresh.",
		}, []string{"page_id"}),

		DialogTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_dialog_transitions_total",
			Help: "Total number of dialog state transitions.",
		}, []string{"from", "to"}),
		StreamOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_stream_outcomes_total",
			Help: "Total number of awaited streams by outcome.",
		}, []string{"command", "outcome"}),
		StreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_stream_duration_seconds",
			Help:    "Time from stream trigger to resolution in seconds.",
			Buckets: streamDurationBuckets,
		}, []string{"command"}),
		EventsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_events_received_total",
			Help: "Total number of backend events delivered to listeners.",
		}, []string{"event"}),

		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_definition_reload_total",
			Help: "Total definition reloads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_definitions_loaded",
			Help: "Number of loaded definition files.",
		}),
		CatalogCommandsIndexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigil_catalog_commands_indexed",
			Help: "Number of catalogued backend commands per service.",
		}, []string{"service_id"}),
		PreferenceSavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_preference_saves_total",
			Help: "Total preference saves by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		m.GatewayCallsTotal,
		m.GatewayCallDuration,
		m.GatewayValidationFailures,
		m.BackendCircuitBreakerState,
		m.PageRefreshTotal,
		m.PageRefreshDuration,
		m.PageItems,
		m.DialogTransitionsTotal,
		m.StreamOutcomesTotal,
		m.StreamDuration,
		m.EventsReceivedTotal,
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
		m.CatalogCommandsIndexed,
		m.PreferenceSavesTotal,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordGatewayCall records one backend command call. outcome is "success"
// or the error code of the failure.
func (m *Metrics) RecordGatewayCall(command, outcome string, duration time.Duration) {
	m.GatewayCallsTotal.WithLabelValues(command, outcome).Inc()
	m.GatewayCallDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordGatewayValidationFailure records a call rejected before dispatch.
func (m *Metrics) RecordGatewayValidationFailure(command string) {
	m.GatewayValidationFailures.WithLabelValues(command).Inc()
}

// SetBackendCircuitBreakerState sets the circuit breaker state for a service.
func (m *Metrics) SetBackendCircuitBreakerState(serviceID string, state float64) {
	m.BackendCircuitBreakerState.WithLabelValues(serviceID).Set(state)
}

// RecordPageRefresh records a page refresh and the resulting item count.
// The item gauge is only updated on success.
func (m *Metrics) RecordPageRefresh(pageID, outcome string, items int, duration time.Duration) {
	m.PageRefreshTotal.WithLabelValues(pageID, outcome).Inc()
	m.PageRefreshDuration.WithLabelValues(pageID).Observe(duration.Seconds())
	if outcome == "success" {
		m.PageItems.WithLabelValues(pageID).Set(float64(items))
	}
}

// RecordDialogTransition records a dialog state change.
func (m *Metrics) RecordDialogTransition(from, to string) {
	m.DialogTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordStream records how an awaited stream resolved.
func (m *Metrics) RecordStream(command, outcome string, duration time.Duration) {
	m.StreamOutcomesTotal.WithLabelValues(command, outcome).Inc()
	m.StreamDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordEventReceived records a delivered backend event.
func (m *Metrics) RecordEventReceived(event string) {
	m.EventsReceivedTotal.WithLabelValues(event).Inc()
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// SetCatalogCommandsIndexed sets the number of catalogued commands.
func (m *Metrics) SetCatalogCommandsIndexed(serviceID string, count float64) {
	m.CatalogCommandsIndexed.WithLabelValues(serviceID).Set(count)
}

// RecordPreferenceSave records a preference save attempt.
func (m *Metrics) RecordPreferenceSave(outcome string) {
	m.PreferenceSavesTotal.WithLabelValues(outcome).Inc()
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

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint. It
// serves the registry the metrics were created with, or the default one.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
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
