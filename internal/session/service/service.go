// Package service issues and ends sessions for provisioned identities.
package service

import (
	"context"
	"log/slog"
	"time"

	"govconsent/internal/audit"
	identitymodels "govconsent/internal/identity/models"
	"govconsent/internal/session/device"
	"govconsent/internal/session/token"
	"govconsent/pkg/attrs"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/requestcontext"
)

const DefaultTTL = time.Hour

type Tokens interface {
	Issue(identityID domain.IdentityID, role domain.Role, now time.Time, ttl time.Duration) (string, *token.Claims, error)
}

type RevocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
}

// IdentityChecker fails with CodeUnauthorized for unknown or inactive identities.
type IdentityChecker interface {
	RequireActive(ctx context.Context, id domain.IdentityID) (*identitymodels.Identity, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

type Session struct {
	AccessToken string            `json:"access_token"`
	TokenType   string            `json:"token_type"`
	IdentityID  domain.IdentityID `json:"identity_id"`
	Role        domain.Role       `json:"role"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

type Service struct {
	tokens         Tokens
	revocations    RevocationList
	identities     IdentityChecker
	ttl            time.Duration
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func New(tokens Tokens, revocations RevocationList, identities IdentityChecker, opts ...Option) *Service {
	s := &Service{
		tokens:      tokens,
		revocations: revocations,
		identities:  identities,
		ttl:         DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for an active identity. The role is taken from the
// identity record, never from the caller.
func (s *Service) Issue(ctx context.Context, identityID domain.IdentityID) (*Session, error) {
	identity, err := s.identities.RequireActive(ctx, identityID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	raw, claims, err := s.tokens.Issue(identity.ID, identity.Role, now, s.ttl)
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to sign session token",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue session")
	}

	s.logAudit(ctx, audit.Entry{
		ActorID:   identity.ID,
		ActorRole: identity.Role,
		TargetID:  identity.ID,
		Action:    audit.ActionLogin,
	}, clientMetadata(ctx, "token_id", claims.ID)...)

	return &Session{
		AccessToken: raw,
		TokenType:   "Bearer",
		IdentityID:  identity.ID,
		Role:        identity.Role,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the caller's current token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, actor domain.Actor, tokenID string) error {
	if actor.IsNil() || tokenID == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := s.revocations.RevokeToken(ctx, tokenID, s.ttl); err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to revoke token",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to end session")
	}
	s.logAudit(ctx, audit.Entry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		TargetID:  actor.ID,
		Action:    audit.ActionLogout,
	}, clientMetadata(ctx, "token_id", tokenID)...)
	return nil
}

// clientMetadata appends the caller's address and device.
func clientMetadata(ctx context.Context, kv ...any) []any {
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		kv = append(kv, "client_ip", ip)
	}
	if raw := requestcontext.UserAgent(ctx); raw != "" {
		kv = append(kv,
			"device", device.ParseUserAgent(raw),
			"device_fingerprint", device.Fingerprint(raw),
		)
	}
	return kv
}

func (s *Service) logAudit(ctx context.Context, entry audit.Entry, attributes ...any) {
	entry.Metadata = attrs.ToMap(attributes)
	if s.logger != nil {
		s.logger.InfoContext(ctx, entry.Action.String(),
			"event", entry.Action.String(),
			"log_type", "audit",
			"actor_id", entry.ActorID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, entry); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to write audit entry",
			"action", entry.Action.String(),
			"error", err,
		)
	}
}
