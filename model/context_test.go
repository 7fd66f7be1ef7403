package model

import (
	"context"
	"testing"
)

func TestRequestContext_User(t *testing.T) {
	tests := []struct {
		name string
		rc   *RequestContext
		want string
	}{
		{name: "nil context", rc: nil, want: DefaultUserID},
		{name: "empty user", rc: &RequestContext{}, want: DefaultUserID},
		{name: "explicit user", rc: &RequestContext{UserID: "analyst"}, want: "analyst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rc.User(); got != tt.want {
				t.Errorf("User() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithRequestContext_roundtrip(t *testing.T) {
	rc := &RequestContext{SessionID: "s-1", CorrelationID: "c-1"}
	ctx := WithRequestContext(context.Background(), rc)

	got := RequestContextFrom(ctx)
	if got != rc {
		t.Fatalf("RequestContextFrom() = %v, want %v", got, rc)
	}
}

func TestRequestContextFrom_missing(t *testing.T) {
	if got := RequestContextFrom(context.Background()); got != nil {
		t.Errorf("RequestContextFrom() = %v, want nil", got)
	}
}
