package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/pitabwire/vigil/model"
)

// Handler executes a command in-process.
type Handler interface {
	Invoke(ctx context.Context, rctx *model.RequestContext, input model.InvocationInput) (model.InvocationResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, rctx *model.RequestContext, input model.InvocationInput) (model.InvocationResult, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, rctx *model.RequestContext, input model.InvocationInput) (model.InvocationResult, error) {
	return f(ctx, rctx, input)
}

// JSONHandler wraps a function returning any JSON-encodable payload. The
// payload is sent bare with status 200.
func JSONHandler(fn func(ctx context.Context, rctx *model.RequestContext, args map[string]any) (any, error)) Handler {
	return HandlerFunc(func(ctx context.Context, rctx *model.RequestContext, input model.InvocationInput) (model.InvocationResult, error) {
		out, err := fn(ctx, rctx, input.Args)
		if err != nil {
			return model.InvocationResult{}, err
		}
		body, err := json.Marshal(out)
		if err != nil {
			return model.InvocationResult{}, fmt.Errorf("invoker: encode local result: %w", err)
		}
		return model.InvocationResult{StatusCode: http.StatusOK, Body: body}, nil
	})
}

// HandlerRegistry stores named local handlers. It is safe for concurrent
// use.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a handler under name. Registering the same name twice is a
// wiring mistake and panics.
func (r *HandlerRegistry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("invoker: local handler %q already registered", name))
	}
	r.handlers[name] = handler
}

// Get returns the handler registered under name.
func (r *HandlerRegistry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered handler names, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LocalInvoker dispatches "local" bindings to registered handlers. The
// handler name defaults to the command name.
type LocalInvoker struct {
	registry *HandlerRegistry
}

// NewLocalInvoker creates an invoker backed by the given registry.
func NewLocalInvoker(registry *HandlerRegistry) *LocalInvoker {
	return &LocalInvoker{registry: registry}
}

// Supports returns true for bindings with type "local".
func (inv *LocalInvoker) Supports(binding model.OperationBinding) bool {
	return binding.Type == model.BindingLocal
}

// Invoke looks up the handler and delegates the call.
func (inv *LocalInvoker) Invoke(
	ctx context.Context,
	rctx *model.RequestContext,
	binding model.OperationBinding,
	input model.InvocationInput,
) (model.InvocationResult, error) {
	name := binding.Handler
	if name == "" {
		name = binding.Command
	}
	handler, ok := inv.registry.Get(name)
	if !ok {
		return model.InvocationResult{}, model.NewNotFoundError(fmt.Sprintf("local handler %q not registered", name))
	}
	if err := ctx.Err(); err != nil {
		return model.InvocationResult{}, err
	}
	return handler.Invoke(ctx, rctx, input)
}
