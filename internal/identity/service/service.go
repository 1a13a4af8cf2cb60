// Package service manages identity provisioning and status.
package service

import (
	"context"
	"errors"
	"log/slog"

	"govconsent/internal/audit"
	"govconsent/internal/identity/models"
	"govconsent/pkg/attrs"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/platform/sentinel"
	"govconsent/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, identity *models.Identity) error
	FindByID(ctx context.Context, id domain.IdentityID) (*models.Identity, error)
	Execute(ctx context.Context, id domain.IdentityID, validate func(*models.Identity) error, mutate func(*models.Identity)) (*models.Identity, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

type Service struct {
	store          Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provision registers an identity. Called from the admin-token guarded
// endpoint, so there is no acting identity to check.
func (s *Service) Provision(ctx context.Context, id domain.IdentityID, role domain.Role, status models.Status) (*models.Identity, error) {
	identity, err := models.NewIdentity(id, role, status, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid identity")
	}
	if err := s.store.Create(ctx, identity); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "identity already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create identity")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "identity provisioned",
			"identity_id", identity.ID.String(),
			"role", identity.Role.String(),
			"status", identity.Status.String(),
		)
	}
	return identity, nil
}

func (s *Service) Get(ctx context.Context, id domain.IdentityID) (*models.Identity, error) {
	identity, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, wrapIdentityErr(err)
	}
	return identity, nil
}

// SetStatus changes an identity's status. Only oversight roles may do this,
// and setting the current status again is a conflict.
func (s *Service) SetStatus(ctx context.Context, id domain.IdentityID, next models.Status) (*models.Identity, error) {
	actorID := requestcontext.IdentityID(ctx)
	actorRole := requestcontext.Role(ctx)
	if !actorRole.IsOversight() {
		return nil, dErrors.New(dErrors.CodeForbidden, "oversight role required")
	}
	if _, err := models.ParseStatus(next.String()); err != nil {
		return nil, err
	}

	var previous models.Status
	now := requestcontext.Now(ctx)
	identity, err := s.store.Execute(ctx, id,
		func(i *models.Identity) error {
			if err := i.CanTransitionTo(next); err != nil {
				return dErrors.New(dErrors.CodeConflict, "identity already has that status")
			}
			previous = i.Status
			return nil
		},
		func(i *models.Identity) {
			i.ApplyStatus(next, now)
		},
	)
	if err != nil {
		return nil, wrapIdentityErr(err)
	}

	s.logAudit(ctx, audit.Entry{
		ActorID:   actorID,
		ActorRole: actorRole,
		TargetID:  identity.ID,
		Action:    audit.ActionIdentityStatusChanged,
	},
		"old_status", previous.String(),
		"new_status", identity.Status.String(),
	)
	return identity, nil
}

// RequireActive loads an identity and fails with CodeUnauthorized unless it
// exists and is active. Used by the authentication middleware.
func (s *Service) RequireActive(ctx context.Context, id domain.IdentityID) (*models.Identity, error) {
	identity, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown identity")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load identity")
	}
	if !identity.CanAuthenticate() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "identity is not active")
	}
	return identity, nil
}

// ActiveRole is RequireActive reduced to the role, for the authentication
// middleware.
func (s *Service) ActiveRole(ctx context.Context, id domain.IdentityID) (domain.Role, error) {
	identity, err := s.RequireActive(ctx, id)
	if err != nil {
		return "", err
	}
	return identity.Role, nil
}

func (s *Service) logAudit(ctx context.Context, entry audit.Entry, attributes ...any) {
	entry.Metadata = attrs.ToMap(attributes)
	args := append(attributes,
		"event", entry.Action.String(),
		"log_type", "audit",
		"actor_id", entry.ActorID.String(),
		"target_id", entry.TargetID.String(),
	)
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, entry.Action.String(), args...)
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

func wrapIdentityErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "identity store failure")
}
