package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/model"
)

// DefaultStreamTimeout bounds how long a stream is awaited.
const DefaultStreamTimeout = 120 * time.Second

// Trigger starts the backend work that will emit stream events tagged
// with streamID.
type Trigger func(ctx context.Context, streamID string) error

// AwaiterOption configures an Awaiter.
type AwaiterOption func(*Awaiter)

// WithStreamTimeout overrides DefaultStreamTimeout.
func WithStreamTimeout(d time.Duration) AwaiterOption {
	return func(a *Awaiter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithIDGenerator replaces the uuid stream id source.
func WithIDGenerator(fn func() string) AwaiterOption {
	return func(a *Awaiter) { a.newID = fn }
}

// WithAwaiterLogger sets the awaiter logger.
func WithAwaiterLogger(l *zap.Logger) AwaiterOption {
	return func(a *Awaiter) { a.logger = l }
}

// WithAwaiterMetrics records stream outcomes.
func WithAwaiterMetrics(m *observability.Metrics) AwaiterOption {
	return func(a *Awaiter) { a.metrics = m }
}

// Awaiter turns a stream of delta/final/error events into a single result
// with a deadline.
type Awaiter struct {
	bus     Bus
	timeout time.Duration
	newID   func() string
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewAwaiter creates an awaiter listening on bus.
func NewAwaiter(bus Bus, opts ...AwaiterOption) *Awaiter {
	a := &Awaiter{
		bus:     bus,
		timeout: DefaultStreamTimeout,
		newID:   uuid.NewString,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// streamState accumulates the messages of one stream. Handlers write to it
// from the bus goroutine while Await reads it.
type streamState struct {
	mu      sync.Mutex
	content strings.Builder
	final   bool
	failed  bool
	errMsg  string
	notify  chan struct{}
}

func (s *streamState) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *streamState) snapshot() (content string, final, failed bool, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content.String(), s.final, s.failed, s.errMsg
}

// Await registers stream listeners, calls trigger and waits for the stream
// to finish. Listeners are in place before trigger runs, so no early event
// is lost, and they are always removed before Await returns.
//
// Outcomes: a final event yields Final=true. A deadline after some deltas
// yields the partial content with TimedOut=true. A deadline with nothing
// received is STREAM_TIMEOUT, and an error event is COMMAND_FAILED.
func (a *Awaiter) Await(ctx context.Context, command string, trigger Trigger) (model.StreamResult, error) {
	streamID := a.newID()
	ctx, span := observability.StartSpan(ctx, "stream.await",
		observability.AttrCommand.String(command),
		observability.AttrStreamID.String(streamID),
	)
	start := time.Now()

	res, err := a.await(ctx, command, streamID, trigger)

	if a.metrics != nil {
		a.metrics.RecordStream(command, streamOutcome(res, err), time.Since(start))
	}
	observability.EndSpanWithError(span, err)
	return res, err
}

func (a *Awaiter) await(ctx context.Context, command, streamID string, trigger Trigger) (model.StreamResult, error) {
	state := &streamState{notify: make(chan struct{}, 1)}
	result := model.StreamResult{StreamID: streamID}

	handle := func(kind string) Handler {
		return func(ev model.Event) {
			var msg model.StreamMessage
			if err := json.Unmarshal(ev.Payload, &msg); err != nil || msg.StreamID != streamID {
				return
			}
			state.mu.Lock()
			if state.final || state.failed {
				state.mu.Unlock()
				return
			}
			switch kind {
			case model.EventStreamDelta:
				state.content.WriteString(msg.Delta)
			case model.EventStreamFinal:
				// A final message carrying the whole content supersedes
				// the accumulated deltas.
				if msg.Content != "" {
					state.content.Reset()
					state.content.WriteString(msg.Content)
				}
				state.final = true
			case model.EventStreamError:
				state.failed = true
				state.errMsg = msg.Error
			}
			state.mu.Unlock()
			state.signal()
		}
	}

	var unsubs []func()
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()
	for _, name := range []string{model.EventStreamDelta, model.EventStreamFinal, model.EventStreamError} {
		u, err := a.bus.Listen(name, handle(name))
		if err != nil {
			return result, err
		}
		unsubs = append(unsubs, u)
	}

	deadline := time.NewTimer(a.timeout)
	defer deadline.Stop()

	if err := trigger(ctx, streamID); err != nil {
		return result, err
	}

	for {
		content, final, failed, errMsg := state.snapshot()
		switch {
		case failed:
			return result, model.NewCommandFailedError(command, errMsg)
		case final:
			result.Content, result.Final = content, true
			return result, nil
		}

		select {
		case <-state.notify:
		case <-ctx.Done():
			return result, ctx.Err()
		case <-deadline.C:
			content, final, failed, errMsg = state.snapshot()
			if failed {
				return result, model.NewCommandFailedError(command, errMsg)
			}
			if final {
				result.Content, result.Final = content, true
				return result, nil
			}
			if content == "" {
				a.logger.Warn("stream produced no data before the deadline",
					zap.String("command", command),
					zap.String("stream_id", streamID),
					zap.Duration("timeout", a.timeout),
				)
				return result, model.NewStreamTimeoutError(streamID)
			}
			a.logger.Warn("stream timed out with partial content",
				zap.String("command", command),
				zap.String("stream_id", streamID),
				zap.Int("bytes", len(content)),
			)
			result.Content, result.TimedOut = content, true
			return result, nil
		}
	}
}

func streamOutcome(res model.StreamResult, err error) string {
	switch {
	case err == nil && res.Final:
		return "final"
	case err == nil && res.TimedOut:
		return "timeout_partial"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case err != nil && model.ErrorCode(err) != "":
		return model.ErrorCode(err)
	default:
		return "error"
	}
}
