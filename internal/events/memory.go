package events

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/pitabwire/vigil/model"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("events: bus closed")

// MemoryBus delivers events within the process. Publish runs every
// listener synchronously before returning.
type MemoryBus struct {
	d      *dispatcher
	closed atomic.Bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(opts ...Option) *MemoryBus {
	return &MemoryBus{d: newDispatcher(buildOptions(opts))}
}

// Listen registers h for events named name.
func (b *MemoryBus) Listen(name string, h Handler) (func(), error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return b.d.listen(name, h), nil
}

// Publish delivers the event to current listeners.
func (b *MemoryBus) Publish(ctx context.Context, name string, payload any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	b.d.dispatch(model.Event{Name: name, Payload: raw})
	return nil
}

// Listeners reports how many handlers are registered for name.
func (b *MemoryBus) Listeners(name string) int {
	return b.d.listeners(name)
}

// HealthCheck reports whether the bus is open.
func (b *MemoryBus) HealthCheck(context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close drops every listener.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.d.reset()
	return nil
}
