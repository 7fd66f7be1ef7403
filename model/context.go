package model

import (
	"context"
)

// RequestContext carries the session and tracing information for one UI
// interaction. It is immutable after construction and safe for concurrent
// reads.
type RequestContext struct {
	SessionID     string
	UserID        string
	CorrelationID string
	TraceID       string
	Locale        string
}

// DefaultUserID is used when no user identity is supplied. The console is a
// single-user desktop tool; favorites and preferences are keyed by this id.
const DefaultUserID = "default_user"

// User returns the user id, falling back to DefaultUserID.
func (rc *RequestContext) User() string {
	if rc == nil || rc.UserID == "" {
		return DefaultUserID
	}
	return rc.UserID
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}
