// Package prefs persists the per-user console preferences. Components
// receive a Store; the driver is chosen by configuration.
package prefs

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/config"
	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/model"
)

// Store loads and saves preferences. Save rejects invalid preferences with
// a VALIDATION_ERROR and leaves the stored value untouched.
type Store interface {
	Load(ctx context.Context) (model.Preferences, error)
	Save(ctx context.Context, p model.Preferences) error
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics counts save outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) recordSave(err error) {
	if o.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = model.ErrorCode(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	o.metrics.RecordPreferenceSave(outcome)
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.PreferencesConfig, opts ...Option) (Store, error) {
	switch cfg.Driver {
	case config.PrefsFile, "":
		return NewFileStore(cfg.Path, opts...), nil
	case config.PrefsMemory:
		return NewMemoryStore(opts...), nil
	case config.PrefsPostgres:
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("prefs: %s is not set", cfg.DSNEnv)
		}
		return NewPgStore(ctx, dsn, cfg.MaxConns, opts...)
	default:
		return nil, fmt.Errorf("prefs: unknown driver %q", cfg.Driver)
	}
}

// MemoryStore keeps preferences per user in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]model.Preferences
	opts  options
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{users: make(map[string]model.Preferences), opts: buildOptions(opts)}
}

// Load returns the caller's preferences, or the defaults.
func (s *MemoryStore) Load(ctx context.Context) (model.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.users[userOf(ctx)]; ok {
		return clonePreferences(p), nil
	}
	return model.DefaultPreferences(), nil
}

// Save validates and stores p for the caller.
func (s *MemoryStore) Save(ctx context.Context, p model.Preferences) error {
	err := p.Validate()
	if err == nil {
		s.mu.Lock()
		s.users[userOf(ctx)] = clonePreferences(p)
		s.mu.Unlock()
	}
	s.opts.recordSave(err)
	return err
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func userOf(ctx context.Context) string {
	return model.RequestContextFrom(ctx).User()
}

func clonePreferences(p model.Preferences) model.Preferences {
	if p.Settings != nil {
		settings := make(map[string]any, len(p.Settings))
		for k, v := range p.Settings {
			settings[k] = v
		}
		p.Settings = settings
	}
	return p
}
