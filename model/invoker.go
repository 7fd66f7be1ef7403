package model

import (
	"context"
	"encoding/json"
)

// CommandInvoker is the unified interface for backend command invocation.
type CommandInvoker interface {
	// Invoke calls the backend command described by the binding with the given input.
	Invoke(ctx context.Context, rctx *RequestContext, binding OperationBinding, input InvocationInput) (InvocationResult, error)

	// Supports returns true if this invoker can handle the given binding type.
	Supports(binding OperationBinding) bool
}

// InvocationInput is the constructed backend request.
type InvocationInput struct {
	Args    map[string]any    `json:"args,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// Idempotent marks commands declared safe to retry.
	Idempotent bool `json:"idempotent,omitempty"`
}

// InvocationResult is the raw backend response.
type InvocationResult struct {
	StatusCode int               `json:"status_code"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// ResponseShape declares how a backend command encodes its answer.
type ResponseShape string

const (
	// ShapeBare means the body is the payload itself.
	ShapeBare ResponseShape = "bare"
	// ShapeEnvelope means the body is {success, data, error, message}.
	ShapeEnvelope ResponseShape = "envelope"
)

// Valid reports whether s is a known shape. The empty shape is treated as bare.
func (s ResponseShape) Valid() bool {
	switch s {
	case "", ShapeBare, ShapeEnvelope:
		return true
	}
	return false
}

// Envelope is the single response shape that leaves the gateway, whatever
// the backend command actually returned.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Failure returns the most descriptive failure text in the envelope.
func (e Envelope) Failure() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}
