// Package invoker executes backend commands, either in-process through
// registered local handlers or over HTTP with retry and circuit breaking.
package invoker

import (
	"context"
	"fmt"

	"github.com/pitabwire/vigil/model"
)

// Registry dispatches a binding to the first registered invoker that
// supports its type. A Registry is itself a model.CommandInvoker.
type Registry struct {
	invokers []model.CommandInvoker
}

// NewRegistry creates a registry holding the given invokers in order.
func NewRegistry(invokers ...model.CommandInvoker) *Registry {
	return &Registry{invokers: invokers}
}

// Register appends an invoker.
func (r *Registry) Register(invoker model.CommandInvoker) {
	r.invokers = append(r.invokers, invoker)
}

// Supports reports whether any registered invoker handles the binding.
func (r *Registry) Supports(binding model.OperationBinding) bool {
	return r.find(binding) != nil
}

// Invoke delegates to the first invoker supporting the binding.
func (r *Registry) Invoke(ctx context.Context, rctx *model.RequestContext, binding model.OperationBinding, input model.InvocationInput) (model.InvocationResult, error) {
	inv := r.find(binding)
	if inv == nil {
		return model.InvocationResult{}, fmt.Errorf("invoker: no invoker supports binding type %q for %s", binding.Type, binding.Command)
	}
	return inv.Invoke(ctx, rctx, binding, input)
}

func (r *Registry) find(binding model.OperationBinding) model.CommandInvoker {
	for _, inv := range r.invokers {
		if inv.Supports(binding) {
			return inv
		}
	}
	return nil
}
