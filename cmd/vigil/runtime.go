package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/config"
	"github.com/pitabwire/vigil/internal/console"
	"github.com/pitabwire/vigil/internal/definition"
	"github.com/pitabwire/vigil/internal/gateway"
	"github.com/pitabwire/vigil/internal/invoker"
	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/internal/openapi"
	"github.com/pitabwire/vigil/internal/prefs"
	"github.com/pitabwire/vigil/model"
)

// runtime holds the components shared by the server and the one-shot
// commands: definitions, the command catalog, the preference store and the
// gateway in front of them.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	catalog  *openapi.Catalog
	loader   *definition.Loader
	registry *definition.Registry
	store    prefs.Store
	http     *invoker.HTTPInvoker
	gateway  *gateway.Gateway
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// newRuntime loads the catalog and definitions, opens the preference store
// and builds the gateway. metrics may be nil.
func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, metrics: metrics}

	rt.catalog = openapi.NewCatalog()
	if err := rt.catalog.Load(catalogSources(cfg.Catalog)); err != nil {
		return nil, fmt.Errorf("command catalog: %w", err)
	}
	if metrics != nil {
		for service, n := range commandsPerService(rt.catalog) {
			metrics.SetCatalogCommandsIndexed(service, float64(n))
		}
	}

	rt.loader = definition.NewLoader(
		definition.WithStrictChecksums(cfg.Definitions.StrictChecksums),
		definition.WithLoaderLogger(logger),
	)
	defs, err := rt.loadDefinitions()
	if err != nil {
		return nil, err
	}
	rt.registry = definition.NewRegistry(defs)
	if metrics != nil {
		metrics.SetDefinitionsLoaded(float64(rt.registry.Len()))
	}
	logger.Info("definitions loaded",
		zap.Strings("domains", domainNames(rt.registry)),
		zap.String("checksum", rt.registry.Checksum()),
	)

	rt.store, err = prefs.Open(ctx, cfg.Preferences, prefs.WithLogger(logger), prefs.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("preference store: %w", err)
	}

	handlers := invoker.NewHandlerRegistry()
	console.RegisterPreferenceHandlers(handlers, rt.store)

	rt.http = invoker.NewHTTPInvoker(rt.catalog, cfg.Services,
		invoker.WithLogger(logger),
		invoker.WithBreakerHook(func(service string, from, to invoker.BreakerState) {
			logger.Warn("circuit breaker state changed",
				zap.String("service", service),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			if metrics != nil {
				metrics.SetBackendCircuitBreakerState(service, float64(to))
			}
		}),
	)

	rt.gateway = gateway.New(
		invoker.NewRegistry(invoker.NewLocalInvoker(handlers), rt.http),
		gateway.WithCatalog(rt.catalog),
		gateway.WithCommands(console.PreferenceCommands(rt.registry)),
		gateway.WithDefaultService(cfg.Catalog.DefaultService),
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)
	return rt, nil
}

// loadDefinitions reads and validates every definition file.
func (rt *runtime) loadDefinitions() ([]model.DomainDefinition, error) {
	defs, err := rt.loader.LoadAll(rt.cfg.Definitions.Directories)
	if err != nil {
		return nil, fmt.Errorf("definition loading failed: %w", err)
	}
	if verrs := definition.NewValidator().Validate(defs, rt.catalog); len(verrs) > 0 {
		for _, ve := range verrs {
			rt.logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return nil, fmt.Errorf("definition validation failed with %d errors", len(verrs))
	}
	return defs, nil
}

// reloadDefinitions swaps in freshly loaded definitions. On failure the
// current ones stay in place.
func (rt *runtime) reloadDefinitions() error {
	defs, err := rt.loadDefinitions()
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.RecordDefinitionReload("error")
		}
		return err
	}
	rt.registry.Replace(defs)
	if rt.metrics != nil {
		rt.metrics.RecordDefinitionReload("success")
		rt.metrics.SetDefinitionsLoaded(float64(rt.registry.Len()))
	}
	return nil
}

// domainNames lists the loaded domains as name@version.
func domainNames(reg *definition.Registry) []string {
	domains := reg.Domains()
	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, d.Domain+"@"+d.Version)
	}
	return names
}

func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("closing preference store", zap.Error(err))
		}
	}
}

// catalogSources converts config sources to openapi.Source.
func catalogSources(cfg config.CatalogConfig) []openapi.Source {
	sources := make([]openapi.Source, len(cfg.Sources))
	for i, s := range cfg.Sources {
		sources[i] = openapi.Source{ServiceID: s.ServiceID, Path: s.File}
	}
	return sources
}

func commandsPerService(c *openapi.Catalog) map[string]int {
	counts := make(map[string]int)
	for _, name := range c.Names() {
		if cmd, ok := c.Get(name); ok {
			counts[cmd.ServiceID]++
		}
	}
	return counts
}

// cliContext carries the --user flag the way the UI's X-User-Id header
// would.
func cliContext(ctx context.Context) context.Context {
	return model.WithRequestContext(ctx, &model.RequestContext{UserID: userID})
}
