package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/model"
)

// RedisBus carries events over Redis pub/sub on channels
// "<prefix>:<event>". One pattern subscription feeds the local dispatcher
// from a single goroutine.
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub
	prefix string
	d      *dispatcher
	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewRedisBus connects using a redis:// URL.
func NewRedisBus(ctx context.Context, url, prefix string, opts ...Option) (*RedisBus, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("events: parsing redis url: %w", err)
	}
	return NewRedisBusWithClient(ctx, redis.NewClient(ropts), prefix, opts...)
}

// NewRedisBusWithClient uses an existing client. The bus owns the client
// and closes it on Close.
func NewRedisBusWithClient(ctx context.Context, client *redis.Client, prefix string, opts ...Option) (*RedisBus, error) {
	if prefix == "" {
		prefix = "vigil"
	}
	b := &RedisBus{client: client, prefix: prefix, d: newDispatcher(buildOptions(opts))}

	b.pubsub = client.PSubscribe(ctx, prefix+":*")
	// Receive waits for the subscription confirmation so that no publish
	// issued after this constructor returns is missed.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("events: subscribing to %s:*: %w", prefix, err)
	}

	b.wg.Add(1)
	go b.run(b.pubsub.Channel())
	return b, nil
}

func (b *RedisBus) run(ch <-chan *redis.Message) {
	defer b.wg.Done()
	for msg := range ch {
		name, ok := strings.CutPrefix(msg.Channel, b.prefix+":")
		if !ok || name == "" {
			continue
		}
		var payload []byte
		if msg.Payload != "" {
			payload = []byte(msg.Payload)
		}
		b.d.dispatch(model.Event{Name: name, Payload: payload})
	}
	b.d.opts.logger.Debug("redis event loop stopped", zap.String("prefix", b.prefix))
}

// Listen registers h for events named name.
func (b *RedisBus) Listen(name string, h Handler) (func(), error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	return b.d.listen(name, h), nil
}

// Publish sends the event on the event's channel.
func (b *RedisBus) Publish(ctx context.Context, name string, payload any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.prefix+":"+name, []byte(raw)).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", name, err)
	}
	return nil
}

// HealthCheck pings the server.
func (b *RedisBus) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close stops the event loop and closes the client.
func (b *RedisBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	err := b.pubsub.Close()
	b.wg.Wait()
	b.d.reset()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}
