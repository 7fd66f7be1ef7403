package console

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/model"
)

// Notifier shows transient messages to the user.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n model.Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n model.Notification) { f(ctx, n) }

// DefaultInboxSize bounds the number of undelivered notifications kept.
const DefaultInboxSize = 50

// Inbox buffers notifications until the UI collects them. When full, the
// oldest notification is dropped.
type Inbox struct {
	mu     sync.Mutex
	items  []model.Notification
	limit  int
	logger *zap.Logger
}

// NewInbox creates an inbox keeping at most limit notifications.
func NewInbox(limit int, logger *zap.Logger) *Inbox {
	if limit < 1 {
		limit = DefaultInboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{limit: limit, logger: logger}
}

// Notify records n and logs it.
func (b *Inbox) Notify(ctx context.Context, n model.Notification) {
	logger := observability.RequestLogger(ctx, b.logger)
	if n.Level == model.LevelError {
		logger.Warn("notification", zap.String("level", n.Level), zap.String("message", n.Message))
	} else {
		logger.Debug("notification", zap.String("level", n.Level), zap.String("message", n.Message))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == b.limit {
		b.items = b.items[1:]
	}
	b.items = append(b.items, n)
}

// Drain returns and removes every pending notification, oldest first.
func (b *Inbox) Drain() []model.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	if out == nil {
		out = []model.Notification{}
	}
	return out
}

func notifyErr(ctx context.Context, n Notifier, prefix string, err error) {
	if n == nil {
		return
	}
	n.Notify(ctx, model.Notification{Level: model.LevelError, Message: prefix + ": " + message(err)})
}

func notifyOK(ctx context.Context, n Notifier, msg string) {
	if n == nil {
		return
	}
	n.Notify(ctx, model.Notification{Level: model.LevelSuccess, Message: msg})
}

// message prefers the user-facing text of an ErrorEnvelope.
func message(err error) string {
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env.Message
	}
	return err.Error()
}
