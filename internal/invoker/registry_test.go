package invoker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pitabwire/vigil/model"
)

type mockInvoker struct {
	supportType string
	result      model.InvocationResult
	err         error
	calls       int
}

func (m *mockInvoker) Supports(binding model.OperationBinding) bool {
	return binding.Type == m.supportType
}

func (m *mockInvoker) Invoke(_ context.Context, _ *model.RequestContext, _ model.OperationBinding, _ model.InvocationInput) (model.InvocationResult, error) {
	m.calls++
	return m.result, m.err
}

func TestRegistry_Invoke_dispatches(t *testing.T) {
	httpInv := &mockInvoker{
		supportType: model.BindingHTTP,
		result:      model.InvocationResult{StatusCode: 200, Body: json.RawMessage(`{"ok":true}`)},
	}
	localInv := &mockInvoker{
		supportType: model.BindingLocal,
		result:      model.InvocationResult{StatusCode: 201},
	}
	r := NewRegistry(httpInv)
	r.Register(localInv)

	result, err := r.Invoke(context.Background(), &model.RequestContext{},
		model.OperationBinding{Type: model.BindingHTTP}, model.InvocationInput{})
	if err != nil {
		t.Fatalf("Invoke(http) error = %v", err)
	}
	if result.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}

	result, err = r.Invoke(context.Background(), &model.RequestContext{},
		model.OperationBinding{Type: model.BindingLocal}, model.InvocationInput{})
	if err != nil {
		t.Fatalf("Invoke(local) error = %v", err)
	}
	if result.StatusCode != 201 {
		t.Errorf("StatusCode = %d, want 201", result.StatusCode)
	}
	if httpInv.calls != 1 || localInv.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", httpInv.calls, localInv.calls)
	}
}

func TestRegistry_Supports(t *testing.T) {
	r := NewRegistry(&mockInvoker{supportType: model.BindingLocal})
	if !r.Supports(model.OperationBinding{Type: model.BindingLocal}) {
		t.Error("Supports(local) = false, want true")
	}
	if r.Supports(model.OperationBinding{Type: "grpc"}) {
		t.Error("Supports(grpc) = true, want false")
	}
}

func TestRegistry_Invoke_no_support(t *testing.T) {
	r := NewRegistry(&mockInvoker{supportType: model.BindingHTTP})

	_, err := r.Invoke(context.Background(), &model.RequestContext{},
		model.OperationBinding{Type: "unknown"}, model.InvocationInput{})
	if err == nil {
		t.Fatal("Invoke(unknown) should return error")
	}
}

func TestRegistry_Invoke_empty(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), &model.RequestContext{},
		model.OperationBinding{Type: model.BindingHTTP}, model.InvocationInput{})
	if err == nil {
		t.Fatal("Invoke on empty registry should return error")
	}
}
