// Package gateway is the single call surface between the console and the
// backend command layer. It validates arguments against the command
// catalog, dispatches through the invoker registry and normalizes every
// answer into one shape regardless of how the backend encoded it.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vigil/internal/observability"
	"github.com/pitabwire/vigil/internal/openapi"
	"github.com/pitabwire/vigil/model"
)

// CommandSource resolves command declarations made in definition files.
type CommandSource interface {
	Command(name string) (model.CommandDefinition, bool)
}

// Caller is the interface consumed by view-models.
type Caller interface {
	Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCatalog sets the OpenAPI command catalog used for validation, routing
// and response shapes.
func WithCatalog(c *openapi.Catalog) Option {
	return func(g *Gateway) { g.catalog = c }
}

// WithCommands sets the source of command declarations.
func WithCommands(src CommandSource) Option {
	return func(g *Gateway) { g.commands = src }
}

// WithDefaultService routes undeclared commands to the given HTTP service.
func WithDefaultService(serviceID string) Option {
	return func(g *Gateway) { g.defaultService = serviceID }
}

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics enables gateway metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// Gateway implements Caller on top of a model.CommandInvoker.
type Gateway struct {
	invoker        model.CommandInvoker
	catalog        *openapi.Catalog
	commands       CommandSource
	defaultService string
	logger         *zap.Logger
	metrics        *observability.Metrics
}

// New creates a gateway dispatching through inv.
func New(inv model.CommandInvoker, opts ...Option) *Gateway {
	g := &Gateway{invoker: inv, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	if g.catalog == nil {
		g.catalog = openapi.NewCatalog()
	}
	return g
}

// route is a resolved command: where it runs and how it answers.
type route struct {
	binding    model.OperationBinding
	shape      model.ResponseShape
	idempotent bool
}

// resolve looks the command up in the definitions first, then the catalog.
// Undeclared commands go to the default service and are read bare.
func (g *Gateway) resolve(command string) route {
	var r route
	cat, inCatalog := g.catalog.Get(command)

	if g.commands != nil {
		if def, ok := g.commands.Command(command); ok {
			r.binding = def.Operation
			r.shape = def.Response
			r.idempotent = def.Idempotent
		}
	}
	if r.binding.Type == "" {
		r.binding = model.OperationBinding{Type: model.BindingHTTP}
		if inCatalog {
			r.binding.ServiceID = cat.ServiceID
		} else {
			r.binding.ServiceID = g.defaultService
		}
	}
	if r.binding.Command == "" {
		r.binding.Command = command
	}
	if r.shape == "" && inCatalog {
		r.shape = cat.Shape
	}
	if r.shape == "" {
		r.shape = model.ShapeBare
	}
	return r
}

// Shape reports the response shape the gateway will apply to command.
func (g *Gateway) Shape(command string) model.ResponseShape {
	return g.resolve(command).shape
}

// Call invokes command and returns its payload. Enveloped answers are
// unwrapped; a reported failure becomes COMMAND_FAILED. Arguments that fail
// catalog validation return VALIDATION_ERROR without reaching the backend.
func (g *Gateway) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	r := g.resolve(command)

	ctx, span := observability.StartSpan(ctx, "gateway.call",
		observability.AttrCommand.String(command),
		observability.AttrServiceID.String(r.binding.ServiceID),
		observability.AttrShape.String(string(r.shape)),
	)
	start := time.Now()
	logger := observability.RequestLogger(ctx, g.logger).With(
		zap.String("command", command),
		zap.String("binding", r.binding.Type),
	)

	data, err := g.call(ctx, command, r, args, logger)

	outcome := "success"
	if err != nil {
		outcome = model.ErrorCode(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	if g.metrics != nil {
		g.metrics.RecordGatewayCall(command, outcome, time.Since(start))
	}
	observability.EndSpanWithError(span, err)

	switch outcome {
	case "success":
		logger.Debug("command completed", zap.Duration("duration", time.Since(start)))
	case model.ErrCommandFailed, model.ErrValidationError, model.ErrCommandRejected:
		logger.Warn("command failed", zap.String("code", outcome), zap.Error(err))
	default:
		logger.Error("command errored", zap.String("code", outcome), zap.Error(err))
	}
	return data, err
}

func (g *Gateway) call(ctx context.Context, command string, r route, args map[string]any, logger *zap.Logger) (json.RawMessage, error) {
	if errs := g.catalog.ValidateArgs(command, args); len(errs) > 0 {
		if g.metrics != nil {
			g.metrics.RecordGatewayValidationFailure(command)
		}
		return nil, model.NewValidationError(errs)
	}

	if ce := logger.Check(zap.DebugLevel, "invoking command"); ce != nil {
		ce.Write(zap.Any("args", observability.RedactArgs(args)))
	}

	res, err := g.invoker.Invoke(ctx, model.RequestContextFrom(ctx), r.binding, model.InvocationInput{
		Args:       args,
		Idempotent: r.idempotent,
	})
	if err != nil {
		if model.ErrorCode(err) != "" {
			return nil, err
		}
		return nil, fmt.Errorf("gateway: %s: %w", command, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		// A rejected call may still explain itself through an envelope.
		if r.shape == model.ShapeEnvelope {
			if env, ok := decodeEnvelope(res.Body); ok && !env.Success && env.Failure() != "" {
				return nil, model.NewCommandFailedError(command, env.Failure())
			}
		}
		return nil, model.NewCommandRejectedError(command, res.StatusCode)
	}

	return normalize(command, r.shape, res.Body)
}

// normalize turns a successful backend body into the command payload.
func normalize(command string, shape model.ResponseShape, body json.RawMessage) (json.RawMessage, error) {
	if shape != model.ShapeEnvelope {
		if len(body) == 0 {
			return json.RawMessage("null"), nil
		}
		return body, nil
	}

	env, ok := decodeEnvelope(body)
	if !ok {
		return nil, model.NewCommandFailedError(command, "response is not a valid envelope")
	}
	if !env.Success {
		return nil, model.NewCommandFailedError(command, env.Failure())
	}
	if len(env.Data) == 0 {
		return json.RawMessage("null"), nil
	}
	return env.Data, nil
}

// decodeEnvelope reports ok only when body is an object carrying a boolean
// success field.
func decodeEnvelope(body json.RawMessage) (model.Envelope, bool) {
	var probe struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return model.Envelope{}, false
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil || probe.Success == nil {
		return model.Envelope{}, false
	}
	return model.Envelope{
		Success: *probe.Success,
		Data:    probe.Data,
		Error:   probe.Error,
		Message: probe.Message,
	}, true
}

// CallEnvelope calls command and reports the outcome as an envelope. It
// never returns an error; failures are described in Error and Message.
func (g *Gateway) CallEnvelope(ctx context.Context, command string, args map[string]any) model.Envelope {
	data, err := g.Call(ctx, command, args)
	if err != nil {
		env := model.Envelope{Success: false, Message: err.Error()}
		if code := model.ErrorCode(err); code != "" {
			env.Error = code
		} else {
			env.Error = model.ErrInternalError
		}
		return env
	}
	return model.Envelope{Success: true, Data: data}
}
