// Package events delivers backend notifications to console components. A
// Bus carries named events (plugin:changed, stream:delta, ...) from the
// backend to in-process listeners, over NATS, Redis pub/sub or purely in
// memory.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/config"
	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/model"
)

// Handler receives one event.
type Handler func(ev model.Event)

// Bus is a named event channel. Listen returns an unsubscribe function
// that is safe to call more than once; once it returns the handler is not
// invoked again.
type Bus interface {
	Listen(name string, h Handler) (unsubscribe func(), err error)
	Publish(ctx context.Context, name string, payload any) error
	Close() error
}

// Option configures a bus driver.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics counts delivered events.
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

// Open creates the bus selected by cfg.Driver.
func Open(ctx context.Context, cfg config.EventsConfig, opts ...Option) (Bus, error) {
	switch cfg.Driver {
	case config.EventsMemory, "":
		return NewMemoryBus(opts...), nil
	case config.EventsNATS:
		return NewNATSBus(cfg.URL, cfg.Prefix, opts...)
	case config.EventsRedis:
		return NewRedisBus(ctx, cfg.URL, cfg.Prefix, opts...)
	default:
		return nil, fmt.Errorf("events: unknown driver %q", cfg.Driver)
	}
}

// encodePayload turns a payload into the raw JSON carried by an event.
func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("events: payload is not valid JSON")
		}
		return p, nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("events: encode payload: %w", err)
		}
		return raw, nil
	}
}

// --- local fan-out shared by every driver ---

type subscription struct {
	handler Handler
	closed  atomic.Bool
}

// dispatcher fans events out to in-process listeners. Events are delivered
// on the caller's goroutine in the order dispatch is called.
type dispatcher struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscription
	nextID uint64
	opts   options
}

func newDispatcher(opts options) *dispatcher {
	return &dispatcher{subs: make(map[string]map[uint64]*subscription), opts: opts}
}

func (d *dispatcher) listen(name string, h Handler) func() {
	sub := &subscription{handler: h}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.subs[name] == nil {
		d.subs[name] = make(map[uint64]*subscription)
	}
	d.subs[name][id] = sub
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.closed.Store(true)
			d.mu.Lock()
			delete(d.subs[name], id)
			if len(d.subs[name]) == 0 {
				delete(d.subs, name)
			}
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher) dispatch(ev model.Event) {
	d.mu.RLock()
	targets := make([]*subscription, 0, len(d.subs[ev.Name]))
	for _, sub := range d.subs[ev.Name] {
		targets = append(targets, sub)
	}
	d.mu.RUnlock()

	if d.opts.metrics != nil && len(targets) > 0 {
		d.opts.metrics.RecordEventReceived(ev.Name)
	}
	for _, sub := range targets {
		if sub.closed.Load() {
			continue
		}
		d.deliver(sub, ev)
	}
}

// deliver isolates listeners from each other: a panicking handler is logged
// and the remaining listeners still run.
func (d *dispatcher) deliver(sub *subscription, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.opts.logger.Error("event handler panicked",
				zap.String("event", ev.Name),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(ev)
}

func (d *dispatcher) reset() {
	d.mu.Lock()
	for _, subs := range d.subs {
		for _, sub := range subs {
			sub.closed.Store(true)
		}
	}
	d.subs = make(map[string]map[uint64]*subscription)
	d.mu.Unlock()
}

func (d *dispatcher) listeners(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[name])
}
