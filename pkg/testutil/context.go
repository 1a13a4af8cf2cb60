package testutil

import (
	"context"
	"net/http"

	"govconsent/pkg/domain"
	"govconsent/pkg/requestcontext"
)

// WithActor adds an authenticated identity and role to the request context.
// This simulates what the auth middleware does for authenticated requests.
func WithActor(req *http.Request, identityID string, role domain.Role) *http.Request {
	ctx := requestcontext.WithActor(req.Context(), domain.IdentityID(identityID), role)
	return req.WithContext(ctx)
}

// WithTokenID adds the session token id so logout handlers can find it.
func WithTokenID(req *http.Request, jti string) *http.Request {
	return req.WithContext(requestcontext.WithTokenID(req.Context(), jti))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
