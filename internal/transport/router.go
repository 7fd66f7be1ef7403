package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/config"
	"github.com/pitabwire/vigil/internal/console"
	"github.com/pitabwire/vigil/internal/events"
	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Console   *console.Console
	Gateway   gateway.Caller
	Awaiter   *events.Awaiter
	Inbox     *console.Inbox
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness and metrics endpoints skip the
// request context and handler timeout layers.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Defaults()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if deps.Metrics != nil && cfg.Observability.Metrics.Enabled {
		r.Handle(cfg.Observability.Metrics.Path, deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		r.Use(limitBody)

		c := deps.Console

		r.Get("/ui/pages", handleListPages(c))
		r.Route("/ui/pages/{pageId}", func(r chi.Router) {
			r.Get("/", handleGetPage(c))
			r.Post("/refresh", handleRefreshPage(c))
			r.Put("/search", handleTypeSearch(c))
			r.Get("/selection", handleGetSelection(c))
			r.Delete("/selection", handleClearSelection(c))
			r.Post("/selection/toggle/{itemId}", handleToggleSelection(c))
			r.Post("/selection/visible", handleSelectVisible(c))
		})

		r.Route("/ui/plugins", func(r chi.Router) {
			r.Get("/statistics", handleStatistics(c))
			r.Post("/batch/approve", handleBatchApprove(c))
			r.Post("/batch/reject", handleBatchReject(c))
			r.Post("/{pluginId}/approve", handleApprove(c))
			r.Post("/{pluginId}/reject", handleReject(c))
			r.Post("/{pluginId}/favorite", handleToggleFavorite(c))
			r.Post("/{pluginId}/editor", handleOpenEditor(c))
			r.Delete("/{pluginId}", handleDeletePlugin(c))
		})

		r.Route("/ui/editor", func(r chi.Router) {
			r.Get("/", handleGetEditor(c))
			r.Post("/edit", handleEditorEnable(c))
			r.Put("/content", handleEditorContent(c))
			r.Post("/cancel", handleEditorCancel(c))
			r.Post("/save", handleEditorSave(c))
			r.Post("/close", handleEditorClose(c))
		})

		r.Get("/ui/preferences", handleGetPreferences(deps.Gateway))
		r.Put("/ui/preferences", handleSavePreferences(deps.Gateway))
		r.Post("/ui/commands/{command}", handleCommand(deps.Gateway))
		if deps.Awaiter != nil {
			r.Post("/ui/streams/{command}", handleStream(deps.Gateway, deps.Awaiter))
		}
		if deps.Inbox != nil {
			r.Get("/ui/notifications", handleNotifications(deps.Inbox))
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, r, "no route for "+r.URL.Path)
	})
	return r
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
