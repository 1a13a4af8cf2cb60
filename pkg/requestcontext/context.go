// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services read them. Keeping the package free of
// net/http lets services depend on it without pulling in transport code.
//
// Usage in services:
//
//	actor := requestcontext.IdentityID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActor(ctx, "svc-1", domain.RoleServiceProvider)
package requestcontext

import (
	"context"
	"time"

	"govconsent/pkg/domain"
)

type (
	identityIDKey  struct{}
	roleKey        struct{}
	tokenIDKey     struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyIdentityID  = identityIDKey{}
	ContextKeyRole        = roleKey{}
	ContextKeyTokenID     = tokenIDKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Actor
// -----------------------------------------------------------------------------

// IdentityID returns the authenticated identity, or "" when unauthenticated.
func IdentityID(ctx context.Context) domain.IdentityID {
	if v, ok := ctx.Value(ContextKeyIdentityID).(domain.IdentityID); ok {
		return v
	}
	return ""
}

// Role returns the authenticated identity's role, or "" when unauthenticated.
func Role(ctx context.Context) domain.Role {
	if v, ok := ctx.Value(ContextKeyRole).(domain.Role); ok {
		return v
	}
	return ""
}

// WithActor injects the authenticated identity and its role.
func WithActor(ctx context.Context, identityID domain.IdentityID, role domain.Role) context.Context {
	ctx = context.WithValue(ctx, ContextKeyIdentityID, identityID)
	return context.WithValue(ctx, ContextKeyRole, role)
}

// Actor bundles IdentityID and Role.
func Actor(ctx context.Context) domain.Actor {
	return domain.Actor{ID: IdentityID(ctx), Role: Role(ctx)}
}

// TokenID returns the session token id (JWT jti) used for this request.
func TokenID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyTokenID).(string); ok {
		return v
	}
	return ""
}

func WithTokenID(ctx context.Context, jti string) context.Context {
	return context.WithValue(ctx, ContextKeyTokenID, jti)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent)
// -----------------------------------------------------------------------------

func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	return context.WithValue(ctx, ContextKeyUserAgent, userAgent)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() outside HTTP requests (tests, CLI).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins "now" for everything downstream of ctx.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
