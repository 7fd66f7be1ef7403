// Package integration provides a reusable test harness for end-to-end
// integration testing of the vigil console. It starts the full HTTP API
// over a mock backend, an in-memory event bus and an in-memory preference
// store.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/config"
	"github.com/pitabwire/vigil/internal/console"
	"github.com/pitabwire/vigil/internal/definition"
	"github.com/pitabwire/vigil/internal/events"
	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/internal/invoker"
	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/internal/prefs"
	"github.com/pitabwire/vigil/internal/transport"
	"github.com/pitabwire/vigil/model"
)

// ServiceID is the backend service every command is routed to.
const ServiceID = "suite"

// TestUser is sent as X-User-Id by the request helpers.
const TestUser = "analyst"

// TestHarness encapsulates a fully wired console with a mock backend.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Backend    *MockBackend
	Registry   *definition.Registry
	Gateway    *gateway.Gateway
	Bus        *events.MemoryBus
	Console    *console.Console
	Inbox      *console.Inbox
	Prefs      *prefs.MemoryStore
	Metrics    *observability.Metrics
	Prometheus *prometheus.Registry
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	handlerTimeout time.Duration
	serviceTimeout time.Duration
	streamTimeout  time.Duration
	breaker        config.CircuitBreakerConfig
	retry          config.RetryConfig
	setup          []func(*MockBackend)
}

// WithDefinitions sets the definition directories to load.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) { c.definitionDirs = dirs }
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.handlerTimeout = d }
}

// WithServiceTimeout sets the HTTP client timeout towards the backend.
func WithServiceTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.serviceTimeout = d }
}

// WithStreamTimeout sets how long stream endpoints wait for a final event.
func WithStreamTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.streamTimeout = d }
}

// WithCircuitBreaker sets the backend circuit breaker configuration.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) { c.breaker = cb }
}

// WithRetry sets the backend retry configuration.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) { c.retry = r }
}

// WithBackend configures the mock backend before the pages first load.
func WithBackend(fn func(*MockBackend)) HarnessOption {
	return func(c *harnessConfig) { c.setup = append(c.setup, fn) }
}

// NewTestHarness creates and starts a full console test instance. Unless a
// WithBackend option says otherwise, list_plugins answers with
// DefaultPlugins and list_assets with an empty list. The server is cleaned
// up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		serviceTimeout: 5 * time.Second,
		streamTimeout:  2 * time.Second,
		retry:          config.RetryConfig{MaxAttempts: 1, IdempotentOnly: true},
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(testdataDir(), "definitions")}
	}

	h := &TestHarness{t: t}
	logger := zap.NewNop()

	// Step 1: Mock backend with default fixtures.
	h.Backend = newMockBackend(t)
	h.Backend.OnCommand("list_plugins").RespondOK(PluginListFixture(DefaultPlugins()))
	h.Backend.OnCommand("list_assets").RespondWith(http.StatusOK, []any{})
	for _, fn := range hc.setup {
		fn(h.Backend)
	}

	// Step 2: Load and validate definitions.
	defs, err := definition.NewLoader().LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs, nil); len(verrs) > 0 {
		t.Fatalf("definitions invalid: %v", verrs)
	}
	h.Registry = definition.NewRegistry(defs)

	// Step 3: Metrics on a private registry.
	h.Prometheus = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Prometheus)

	// Step 4: Invokers and gateway.
	h.Prefs = prefs.NewMemoryStore()
	handlers := invoker.NewHandlerRegistry()
	console.RegisterPreferenceHandlers(handlers, h.Prefs)

	httpInvoker := invoker.NewHTTPInvoker(nil, map[string]config.ServiceConfig{
		ServiceID: {
			BaseURL:        h.Backend.URL(),
			Timeout:        hc.serviceTimeout,
			CircuitBreaker: hc.breaker,
			Retry:          hc.retry,
		},
	}, invoker.WithLogger(logger))

	h.Gateway = gateway.New(
		invoker.NewRegistry(invoker.NewLocalInvoker(handlers), httpInvoker),
		gateway.WithCommands(console.PreferenceCommands(h.Registry)),
		gateway.WithDefaultService(ServiceID),
		gateway.WithLogger(logger),
		gateway.WithMetrics(h.Metrics),
	)

	// Step 5: Events, console and notifications.
	h.Bus = events.NewMemoryBus(events.WithLogger(logger))
	t.Cleanup(func() { _ = h.Bus.Close() })
	h.Inbox = console.NewInbox(console.DefaultInboxSize, logger)

	h.Console = console.New(h.Gateway, logger,
		[]console.PageOption{
			console.WithBus(h.Bus),
			console.WithNotifier(h.Inbox),
			console.WithPageMetrics(h.Metrics),
			console.WithSearchDebounce(20 * time.Millisecond),
		},
		[]console.ReviewOption{
			console.WithReviewNotifier(h.Inbox),
			console.WithReviewMetrics(h.Metrics),
		},
	)
	t.Cleanup(h.Console.Close)
	if err := h.Console.Load(h.Registry.Pages()); err != nil {
		t.Fatalf("load pages: %v", err)
	}
	_ = h.Console.RefreshAll(context.Background())

	// Step 6: Router and server.
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:1420"}

	router := transport.NewRouter(transport.Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: h.Metrics,
		Console: h.Console,
		Gateway: h.Gateway,
		Awaiter: events.NewAwaiter(h.Bus, events.WithStreamTimeout(hc.streamTimeout)),
		Inbox:   h.Inbox,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(h.Console.Pages()) > 0 },
			Dependencies:      map[string]observability.HealthChecker{"events": h.Bus},
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Publish emits a backend event on the bus, as the backend would.
func (h *TestHarness) Publish(name string, payload any) {
	h.t.Helper()
	if err := h.Bus.Publish(context.Background(), name, payload); err != nil {
		h.t.Fatalf("publish %s: %v", name, err)
	}
}

// --- HTTP client helpers ---

// GET performs a GET request as TestUser.
func (h *TestHarness) GET(path string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, nil)
}

// POST performs a POST request with a JSON body (nil for none).
func (h *TestHarness) POST(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, nil)
}

// PUT performs a PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, nil)
}

// DELETE performs a DELETE request.
func (h *TestHarness) DELETE(path string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, nil)
}

// Do performs a request with additional headers.
func (h *TestHarness) Do(method, path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, body, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	req.Header.Set(transport.HeaderUserID, TestUser)
	req.Header.Set(transport.HeaderSessionID, "session-1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status and error code of an error response and
// returns the envelope found under "error".
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, status int, code string) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error == nil {
		t.Fatalf("response has no error object, want code %q", code)
	}
	env := *body.Error
	if env.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", env.Code, code, env.Message)
	}
	return env
}

// Notifications drains the toast inbox through the API.
func (h *TestHarness) Notifications(t *testing.T) []model.Notification {
	t.Helper()
	var body struct {
		Notifications []model.Notification `json:"notifications"`
	}
	h.AssertJSON(t, h.GET("/ui/notifications"), http.StatusOK, &body)
	return body.Notifications
}

// --- Response shapes ---

// PageResponse is the subset of the page view the tests inspect.
type PageResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	Items []struct {
		ID     string         `json:"id"`
		Fields map[string]any `json:"fields"`
	} `json:"items"`
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`
	Selection  struct {
		Count              int      `json:"count"`
		Effective          []string `json:"effective"`
		AllVisibleSelected bool     `json:"all_visible_selected"`
	} `json:"selection"`
}

// IDs returns the ids of the visible items.
func (p PageResponse) IDs() []string {
	ids := make([]string, len(p.Items))
	for i, it := range p.Items {
		ids[i] = it.ID
	}
	return ids
}

// --- Fixtures ---

// PluginFixture returns a plugin record as the backend lists it.
func PluginFixture(id, name, status string, quality float64, tags ...string) map[string]any {
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"plugin_id":     id,
		"name":          name,
		"author":        "red-team",
		"status":        status,
		"quality_score": quality,
		"tags":          tags,
		"created_at":    "2026-03-01T09:00:00Z",
	}
}

// DefaultPlugins returns the plugin queue loaded by default.
func DefaultPlugins() []map[string]any {
	return []map[string]any{
		PluginFixture("p-1", "SQLi Scanner", "PendingReview", 82, "sql", "web"),
		PluginFixture("p-2", "XSS Probe", "PendingReview", 40, "web"),
		PluginFixture("p-3", "Port Sweep", "Approved", 65, "network"),
		PluginFixture("p-4", "Banner Grabber", "Rejected", 20, "network"),
		PluginFixture("p-5", "JWT Cracker", "PendingReview", 91, "auth"),
	}
}

// PluginListFixture wraps plugins the way list_plugins returns them.
func PluginListFixture(plugins []map[string]any) map[string]any {
	return map[string]any{"plugins": plugins}
}

// OKEnvelope wraps data in a success envelope.
func OKEnvelope(data any) map[string]any {
	return map[string]any{"success": true, "data": data}
}

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
