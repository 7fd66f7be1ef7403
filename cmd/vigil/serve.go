package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/config"
	"github.com/pitabwire/vigil/internal/console"
	"github.com/pitabwire/vigil/internal/events"
	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/internal/prefs"
	"github.com/pitabwire/vigil/internal/transport"
	"github.com/pitabwire/vigil/model"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the console HTTP server",
	GroupID: "server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *config.Config) error {
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "vigil", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	rt, err := newRuntime(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer rt.Close()

	bus, err := events.Open(ctx, cfg.Events, events.WithLogger(logger), events.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("closing event bus", zap.Error(err))
		}
	}()

	inbox := console.NewInbox(console.DefaultInboxSize, logger)
	awaiter := events.NewAwaiter(bus,
		events.WithStreamTimeout(cfg.Events.StreamTimeout),
		events.WithAwaiterLogger(logger),
		events.WithAwaiterMetrics(metrics),
	)

	con := console.New(rt.gateway, logger,
		[]console.PageOption{
			console.WithBus(bus),
			console.WithNotifier(inbox),
			console.WithPageLogger(logger),
			console.WithPageMetrics(metrics),
			console.WithSearchDebounce(cfg.Search.Debounce),
		},
		[]console.ReviewOption{
			console.WithReviewNotifier(inbox),
			console.WithReviewLogger(logger),
			console.WithReviewMetrics(metrics),
		},
	)
	defer con.Close()

	if err := con.Load(rt.registry.Pages()); err != nil {
		return fmt.Errorf("building pages: %w", err)
	}
	// A backend that is not up yet is not fatal; pages show the error and
	// refresh on the next event or request.
	if err := con.RefreshAll(ctx); err != nil {
		logger.Warn("initial refresh incomplete", zap.Error(err))
	}

	if fs, ok := rt.store.(*prefs.FileStore); ok && cfg.Preferences.Watch {
		stopWatch, err := fs.Watch(func(model.Preferences) {
			inbox.Notify(ctx, model.Notification{Level: model.LevelInfo, Message: "Preferences reloaded"})
		})
		if err != nil {
			logger.Warn("preferences watch disabled", zap.Error(err))
		} else {
			defer func() { _ = stopWatch() }()
		}
	}

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(con.Pages()) > 0 },
		Dependencies:      map[string]observability.HealthChecker{},
	}
	if hc, ok := bus.(observability.HealthChecker); ok {
		readiness.Dependencies["events"] = hc
	}
	if hc, ok := rt.store.(observability.HealthChecker); ok {
		readiness.Dependencies["preferences"] = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Console:   con,
		Gateway:   rt.gateway,
		Awaiter:   awaiter,
		Inbox:     inbox,
		Readiness: readiness,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go reloadOnHangup(ctx, rt, con, logger)

	logger.Info("server started",
		zap.String("addr", cfg.Addr()),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("pages", len(con.Pages())),
		zap.String("events", cfg.Events.Driver),
		zap.String("preferences", cfg.Preferences.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// reloadOnHangup reloads definitions on SIGHUP and rebuilds the pages. A
// reload that fails validation keeps the running pages.
func reloadOnHangup(ctx context.Context, rt *runtime, con *console.Console, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := rt.reloadDefinitions(); err != nil {
				logger.Error("definition reload failed", zap.Error(err))
				continue
			}
			if err := con.Load(rt.registry.Pages()); err != nil {
				logger.Error("rebuilding pages failed", zap.Error(err))
				continue
			}
			if err := con.RefreshAll(ctx); err != nil {
				logger.Warn("refresh after reload incomplete", zap.Error(err))
			}
			logger.Info("definitions reloaded",
				zap.Strings("domains", domainNames(rt.registry)),
				zap.Int("pages", len(con.Pages())),
				zap.String("checksum", rt.registry.Checksum()),
			)
		}
	}
}
