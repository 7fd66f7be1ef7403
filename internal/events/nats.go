package events

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/model"
)

// NATSBus carries events as NATS messages on subjects "<prefix>.<event>".
// A single wildcard subscription feeds the local dispatcher, so listeners
// see events in the order the server delivered them.
type NATSBus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	prefix string
	d      *dispatcher
	closed atomic.Bool
}

// NewNATSBus connects to url with automatic reconnection.
func NewNATSBus(url, prefix string, opts ...Option) (*NATSBus, error) {
	o := buildOptions(opts)
	if prefix == "" {
		prefix = "vigil"
	}

	nc, err := nats.Connect(url,
		nats.Name("vigil-console"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				o.logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			o.logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connecting to NATS at %s: %w", url, err)
	}

	b := &NATSBus{conn: nc, prefix: prefix, d: newDispatcher(o)}

	sub, err := nc.Subscribe(prefix+".>", b.onMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: subscribing to %s.>: %w", prefix, err)
	}
	// Flush ensures the subscription is registered on the server before
	// anything is published from another connection.
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("events: flushing subscription: %w", err)
	}
	b.sub = sub
	return b, nil
}

func (b *NATSBus) onMessage(msg *nats.Msg) {
	name, ok := strings.CutPrefix(msg.Subject, b.prefix+".")
	if !ok || name == "" {
		return
	}
	var payload []byte
	if len(msg.Data) > 0 {
		payload = append([]byte(nil), msg.Data...)
	}
	b.d.dispatch(model.Event{Name: name, Payload: payload})
}

func (b *NATSBus) subject(name string) string {
	return b.prefix + "." + name
}

// Listen registers h for events named name.
func (b *NATSBus) Listen(name string, h Handler) (func(), error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return b.d.listen(name, h), nil
}

// Publish sends the event to every connected console, this one included.
func (b *NATSBus) Publish(ctx context.Context, name string, payload any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject(name), raw); err != nil {
		return fmt.Errorf("events: publish %s: %w", name, err)
	}
	if _, ok := ctx.Deadline(); ok {
		return b.conn.FlushWithContext(ctx)
	}
	return b.conn.Flush()
}

// HealthCheck reports whether the connection is up.
func (b *NATSBus) HealthCheck(context.Context) error {
	if status := b.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("events: nats connection %s", status)
	}
	return nil
}

// Close unsubscribes, drops listeners and closes the connection.
func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.d.reset()
	b.conn.Close()
	return nil
}
