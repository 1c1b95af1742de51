package requestctx

import (
	"context"
	"time"
)

type contextKey string

const fiberLocalsKey = "requestctx"

// Key is the typed context key used for storing the RequestContext.
var Key contextKey = "voice-gateway/requestctx"

// Context carries per-request identifiers from the HTTP layer into the
// orchestrator and its observers.
type Context struct {
	RequestID string
	// APIKeyFingerprint identifies the caller without exposing the key.
	APIKeyFingerprint string
	IdempotencyKey    string
	ReceivedAt        time.Time
}

// WithContext embeds the request context into the parent context.
func WithContext(parent context.Context, rc *Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, rc)
}

// FromContext retrieves the request context if present.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(Key).(*Context)
	return rc, ok
}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	if rc, ok := FromContext(ctx); ok && rc != nil {
		return rc.RequestID
	}
	return ""
}

// FiberLocalsKey returns the key used in fiber.Locals for request context storage.
func FiberLocalsKey() string {
	return fiberLocalsKey
}
