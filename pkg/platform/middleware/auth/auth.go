package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	request "govconsent/pkg/platform/middleware/request"
	"govconsent/pkg/requestcontext"
)

// JWTValidator checks a bearer token's signature, issuer, audience and expiry.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// TokenRevocationChecker reports whether a token id was logged out.
type TokenRevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ActiveIdentity resolves the token subject to its current role. It must
// fail for unknown or inactive identities.
type ActiveIdentity interface {
	ActiveRole(ctx context.Context, id domain.IdentityID) (domain.Role, error)
}

type JWTClaims struct {
	IdentityID string
	JTI        string
	ExpiresAt  time.Time
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth authenticates the bearer token and puts the actor and token id
// on the context. The role always comes from the identity record, so a
// suspension takes effect on the next request.
func RequireAuth(validator JWTValidator, revocations TokenRevocationChecker, identities ActiveIdentity, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(raw)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			if revocations != nil {
				revoked, err := revocations.IsRevoked(ctx, claims.JTI)
				if err != nil {
					logger.ErrorContext(ctx, "failed to check token revocation",
						"error", err,
						"request_id", requestID,
					)
					writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to validate token")
					return
				}
				if revoked {
					logger.WarnContext(ctx, "unauthorized access - token revoked",
						"jti", claims.JTI,
						"request_id", requestID,
					)
					writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Token has been revoked")
					return
				}
			}

			identityID := domain.IdentityID(claims.IdentityID)
			role, err := identities.ActiveRole(ctx, identityID)
			if err != nil {
				if dErrors.GetCode(err) == dErrors.CodeInternal {
					logger.ErrorContext(ctx, "failed to load identity",
						"error", err,
						"request_id", requestID,
					)
					writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to validate token")
					return
				}
				logger.WarnContext(ctx, "unauthorized access - identity cannot authenticate",
					"identity_id", claims.IdentityID,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Identity is not active")
				return
			}

			ctx = requestcontext.WithActor(ctx, identityID, role)
			ctx = requestcontext.WithTokenID(ctx, claims.JTI)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
