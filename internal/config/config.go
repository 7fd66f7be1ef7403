// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	Definitions   DefinitionsConfig        `yaml:"definitions"`
	Catalog       CatalogConfig            `yaml:"catalog"`
	Services      map[string]ServiceConfig `yaml:"services"`
	Events        EventsConfig             `yaml:"events"`
	Preferences   PreferencesConfig        `yaml:"preferences"`
	Search        SearchConfig             `yaml:"search"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig lists the origins allowed to call the API, typically the
// desktop shell's webview origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// DefinitionsConfig describes where to find page definition YAML files.
type DefinitionsConfig struct {
	Directories     []string `yaml:"directories"`
	StrictChecksums bool     `yaml:"strict_checksums"`
}

// CatalogConfig lists OpenAPI documents describing the backend commands.
type CatalogConfig struct {
	Sources []CatalogSource `yaml:"sources"`
	// DefaultService receives commands found neither in the definitions
	// nor in any catalog.
	DefaultService string `yaml:"default_service"`
}

// CatalogSource maps a service ID to an OpenAPI document.
type CatalogSource struct {
	ServiceID string `yaml:"service_id"`
	File      string `yaml:"file"`
}

// ServiceConfig describes a backend service reachable over HTTP.
type ServiceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings per service.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig describes retry settings per service.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only"`
}

// Event bus drivers.
const (
	EventsMemory = "memory"
	EventsNATS   = "nats"
	EventsRedis  = "redis"
)

// EventsConfig describes how backend events reach the console.
type EventsConfig struct {
	Driver        string        `yaml:"driver"`
	URL           string        `yaml:"url"`
	Prefix        string        `yaml:"prefix"`
	StreamTimeout time.Duration `yaml:"stream_timeout"`
}

// Preference store drivers.
const (
	PrefsFile     = "file"
	PrefsPostgres = "postgres"
	PrefsMemory   = "memory"
)

// PreferencesConfig describes where user preferences are persisted.
type PreferencesConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Watch    bool   `yaml:"watch"`
	DSNEnv   string `yaml:"dsn_env"`
	MaxConns int32  `yaml:"max_conns"`
}

// SearchConfig describes search input handling.
type SearchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	LogOutput string        `yaml:"log_output"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7420,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    150 * time.Second,
			HandlerTimeout:  130 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Correlation-Id", "X-Session-Id", "X-User-Id", "Traceparent"},
				MaxAge:         600,
			},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"definitions"},
		},
		Services: map[string]ServiceConfig{},
		Events: EventsConfig{
			Driver:        EventsMemory,
			Prefix:        "vigil",
			StreamTimeout: 120 * time.Second,
		},
		Preferences: PreferencesConfig{
			Driver:   PrefsFile,
			Path:     defaultPreferencesPath(),
			DSNEnv:   "VIGIL_DATABASE_URL",
			MaxConns: 4,
		},
		Search: SearchConfig{
			Debounce: 300 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			LogOutput: "stderr",
			Tracing: TracingConfig{
				Exporter:     "stdout",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

func defaultPreferencesPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "vigil-preferences.toml"
	}
	return dir + string(os.PathSeparator) + "vigil" + string(os.PathSeparator) + "preferences.toml"
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	for id, svc := range c.Services {
		if svc.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("services.%s.base_url is required", id))
		}
	}
	for i, src := range c.Catalog.Sources {
		if src.File == "" {
			errs = append(errs, fmt.Sprintf("catalog.sources[%d].file is required", i))
		}
		if _, ok := c.Services[src.ServiceID]; !ok {
			errs = append(errs, fmt.Sprintf("catalog.sources[%d].service_id %q is not a configured service", i, src.ServiceID))
		}
	}

	if ds := c.Catalog.DefaultService; ds != "" {
		if _, ok := c.Services[ds]; !ok {
			errs = append(errs, fmt.Sprintf("catalog.default_service %q is not a configured service", ds))
		}
	}

	if !slices.Contains([]string{EventsMemory, EventsNATS, EventsRedis}, c.Events.Driver) {
		errs = append(errs, fmt.Sprintf("events.driver %q is not one of memory, nats, redis", c.Events.Driver))
	} else if c.Events.Driver != EventsMemory && c.Events.URL == "" {
		errs = append(errs, "events.url is required for the "+c.Events.Driver+" driver")
	}
	if c.Events.StreamTimeout <= 0 {
		errs = append(errs, "events.stream_timeout must be positive")
	}

	switch c.Preferences.Driver {
	case PrefsFile:
		if c.Preferences.Path == "" {
			errs = append(errs, "preferences.path is required for the file driver")
		}
	case PrefsPostgres:
		if c.Preferences.DSNEnv == "" {
			errs = append(errs, "preferences.dsn_env is required for the postgres driver")
		}
	case PrefsMemory:
	default:
		errs = append(errs, fmt.Sprintf("preferences.driver %q is not one of file, postgres, memory", c.Preferences.Driver))
	}

	if !slices.Contains([]string{"json", "console"}, c.Observability.LogFormat) {
		errs = append(errs, fmt.Sprintf("observability.log_format %q is not one of json, console", c.Observability.LogFormat))
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides reads VIGIL_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VIGIL_EVENTS_DRIVER"); v != "" {
		cfg.Events.Driver = v
	}
	if v := os.Getenv("VIGIL_EVENTS_URL"); v != "" {
		cfg.Events.URL = v
	}
	if v := os.Getenv("VIGIL_PREFERENCES_DRIVER"); v != "" {
		cfg.Preferences.Driver = v
	}
	if v := os.Getenv("VIGIL_PREFERENCES_PATH"); v != "" {
		cfg.Preferences.Path = v
	}
	if v := os.Getenv("VIGIL_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
