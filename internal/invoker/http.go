package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/config"
	"github.com/pitabwire/vigil/internal/openapi"
	"github.com/pitabwire/vigil/model"
)

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 10 << 20

// serviceClient holds the HTTP client, circuit breaker, and retry config
// for a single backend service.
type serviceClient struct {
	id      string
	cfg     config.ServiceConfig
	client  *http.Client
	breaker *CircuitBreaker
}

// HTTPOption configures an HTTPInvoker.
type HTTPOption func(*httpOptions)

type httpOptions struct {
	logger      *zap.Logger
	breakerHook func(service string, from, to BreakerState)
	transport   http.RoundTripper
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(o *httpOptions) { o.logger = l }
}

// WithBreakerHook is called whenever a service's breaker changes state.
func WithBreakerHook(fn func(service string, from, to BreakerState)) HTTPOption {
	return func(o *httpOptions) { o.breakerHook = fn }
}

// WithTransport replaces the HTTP transport of every service client.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(o *httpOptions) { o.transport = rt }
}

// HTTPInvoker sends commands to backend services as JSON POST requests.
// When the catalog declares a command, its method and path are used;
// otherwise the command is posted to {base_url}/invoke/{command}.
type HTTPInvoker struct {
	catalog *openapi.Catalog
	clients map[string]*serviceClient
	logger  *zap.Logger
}

// NewHTTPInvoker creates an invoker with per-service HTTP clients, circuit
// breakers, and retry policies. catalog may be nil.
func NewHTTPInvoker(catalog *openapi.Catalog, services map[string]config.ServiceConfig, opts ...HTTPOption) *HTTPInvoker {
	o := httpOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if catalog == nil {
		catalog = openapi.NewCatalog()
	}

	clients := make(map[string]*serviceClient, len(services))
	for id, svcCfg := range services {
		timeout := svcCfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		transport := o.transport
		if transport == nil {
			transport = &http.Transport{
				MaxIdleConns:        20,
				MaxConnsPerHost:     10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			}
		}
		var breakerOpts []BreakerOption
		if o.breakerHook != nil {
			hook, service := o.breakerHook, id
			breakerOpts = append(breakerOpts, OnStateChange(func(from, to BreakerState) {
				hook(service, from, to)
			}))
		}
		clients[id] = &serviceClient{
			id:      id,
			cfg:     svcCfg,
			client:  &http.Client{Timeout: timeout, Transport: transport},
			breaker: NewCircuitBreaker(svcCfg.CircuitBreaker, breakerOpts...),
		}
	}
	return &HTTPInvoker{catalog: catalog, clients: clients, logger: o.logger}
}

// Supports returns true for bindings with type "http".
func (inv *HTTPInvoker) Supports(binding model.OperationBinding) bool {
	return binding.Type == model.BindingHTTP
}

// BreakerStates returns the breaker state of every configured service.
func (inv *HTTPInvoker) BreakerStates() map[string]BreakerState {
	out := make(map[string]BreakerState, len(inv.clients))
	for id, svc := range inv.clients {
		out[id] = svc.breaker.State()
	}
	return out
}

// Services returns the configured service ids, sorted.
func (inv *HTTPInvoker) Services() []string {
	ids := make([]string, 0, len(inv.clients))
	for id := range inv.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Invoke encodes the arguments and executes the request with circuit
// breaker and retry support.
func (inv *HTTPInvoker) Invoke(
	ctx context.Context,
	rctx *model.RequestContext,
	binding model.OperationBinding,
	input model.InvocationInput,
) (model.InvocationResult, error) {
	serviceID := binding.ServiceID
	method, path := http.MethodPost, "/invoke/"+url.PathEscape(binding.Command)
	idempotent := input.Idempotent
	if cmd, ok := inv.catalog.Get(binding.Command); ok {
		if serviceID == "" {
			serviceID = cmd.ServiceID
		}
		method, path = cmd.Method, cmd.Path
		idempotent = idempotent || cmd.Idempotent
	}

	svc, ok := inv.clients[serviceID]
	if !ok {
		return model.InvocationResult{}, fmt.Errorf("invoker: service %q not configured", serviceID)
	}

	args := input.Args
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return model.InvocationResult{}, fmt.Errorf("invoker: marshal args for %s: %w", binding.Command, err)
	}

	reqURL := strings.TrimRight(svc.cfg.BaseURL, "/") + path
	headers := buildRequestHeaders(rctx, input)
	canRetry := idempotent || !svc.cfg.Retry.IdempotentOnly

	return inv.executeWithRetry(ctx, svc, binding.Command, method, reqURL, headers, body, canRetry)
}

// executeWithRetry wraps executeOnce with retry logic and exponential backoff.
func (inv *HTTPInvoker) executeWithRetry(
	ctx context.Context,
	svc *serviceClient,
	command, method, reqURL string,
	headers http.Header,
	body []byte,
	canRetry bool,
) (model.InvocationResult, error) {
	retryCfg := svc.cfg.Retry
	maxAttempts := max(retryCfg.MaxAttempts, 1)

	var lastErr error
	var lastResult model.InvocationResult

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.InvocationResult{}, ctx.Err()
			case <-time.After(calculateBackoff(retryCfg, attempt)):
			}
		}

		result, err := inv.executeOnce(ctx, svc, method, reqURL, headers, body)
		if err != nil {
			lastErr = err
			if !canRetry || !isRetryableError(err) {
				return model.InvocationResult{}, err
			}
			inv.logger.Debug("retrying command after error",
				zap.String("command", command),
				zap.String("service", svc.id),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if isRetryableStatus(result.StatusCode) && canRetry && attempt < maxAttempts-1 {
			lastResult, lastErr = result, nil
			inv.logger.Debug("retrying command after status",
				zap.String("command", command),
				zap.String("service", svc.id),
				zap.Int("attempt", attempt+1),
				zap.Int("status", result.StatusCode),
			)
			continue
		}

		return result, nil
	}

	if lastErr != nil {
		return model.InvocationResult{}, lastErr
	}
	return lastResult, nil
}

// executeOnce performs a single HTTP request with circuit breaker protection.
func (inv *HTTPInvoker) executeOnce(
	ctx context.Context,
	svc *serviceClient,
	method, reqURL string,
	headers http.Header,
	body []byte,
) (model.InvocationResult, error) {
	if err := svc.breaker.Allow(); err != nil {
		return model.InvocationResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return model.InvocationResult{}, fmt.Errorf("invoker: build request: %w", err)
	}
	req.Header = headers.Clone()

	resp, err := svc.client.Do(req)
	if err != nil {
		svc.breaker.RecordFailure()
		if ctx.Err() != nil {
			return model.InvocationResult{}, model.NewBackendTimeoutError()
		}
		if isConnectionError(err) {
			return model.InvocationResult{}, model.NewBackendUnavailableError()
		}
		return model.InvocationResult{}, fmt.Errorf("invoker: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		svc.breaker.RecordFailure()
		return model.InvocationResult{}, fmt.Errorf("invoker: read response: %w", err)
	}

	// 4xx answers are the backend working as intended.
	if isServerError(resp.StatusCode) {
		svc.breaker.RecordFailure()
	} else {
		svc.breaker.RecordSuccess()
	}

	result := model.InvocationResult{
		StatusCode: resp.StatusCode,
		Headers:    extractResponseHeaders(resp),
	}
	if trimmed := bytes.TrimSpace(respBody); len(trimmed) > 0 && json.Valid(trimmed) {
		result.Body = json.RawMessage(trimmed)
	}
	return result, nil
}

func buildRequestHeaders(rctx *model.RequestContext, input model.InvocationInput) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")

	if rctx != nil {
		setIfPresent(h, "X-Correlation-Id", rctx.CorrelationID)
		setIfPresent(h, "X-Session-Id", rctx.SessionID)
		setIfPresent(h, "Accept-Language", rctx.Locale)
		h.Set("X-User-Id", sanitizeHeader(rctx.User()))
	}

	for k, v := range input.Headers {
		h.Set(sanitizeHeader(k), sanitizeHeader(v))
	}
	return h
}

func setIfPresent(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, sanitizeHeader(value))
	}
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

func extractResponseHeaders(resp *http.Response) map[string]string {
	headers := make(map[string]string)
	for _, key := range []string{"Content-Type", "X-Correlation-Id", "X-Request-Id", "Retry-After"} {
		if v := resp.Header.Get(key); v != "" {
			headers[key] = v
		}
	}
	return headers
}

// --- classification helpers ---

func isServerError(code int) bool {
	return code >= 500
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryableError reports whether err is an unclassified transport error.
// Classified errors (open breaker, unreachable host, timeout) are final.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var env *model.ErrorEnvelope
	return !errors.As(err, &env)
}

func isConnectionError(err error) bool {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}
