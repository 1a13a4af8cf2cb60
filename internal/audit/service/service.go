// Package service serves read access to the audit trail, scoped by who is asking.
package service

import (
	"context"
	"log/slog"

	"govconsent/internal/audit"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/requestcontext"
)

type Store interface {
	ListByActor(ctx context.Context, actorID domain.IdentityID) ([]audit.Entry, error)
	ListByTarget(ctx context.Context, targetID domain.IdentityID) ([]audit.Entry, error)
	ListAll(ctx context.Context) ([]audit.Entry, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MyDataAccessLog lists entries where the owner is the target: every
// disclosure of, and every consent decision about, their data.
func (s *Service) MyDataAccessLog(ctx context.Context, ownerID domain.IdentityID) ([]audit.Entry, error) {
	if ownerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	entries, err := s.store.ListByTarget(ctx, ownerID)
	if err != nil {
		s.logInternal(ctx, "data access log query failed", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit log")
	}
	return entries, nil
}

// MyActionsLog lists entries the actor produced.
func (s *Service) MyActionsLog(ctx context.Context, actorID domain.IdentityID) ([]audit.Entry, error) {
	if actorID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	entries, err := s.store.ListByActor(ctx, actorID)
	if err != nil {
		s.logInternal(ctx, "actions log query failed", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit log")
	}
	return entries, nil
}

// AllAuditLogs returns the whole trail to oversight roles. There is no
// jurisdiction partitioning: any oversight identity sees every entry.
func (s *Service) AllAuditLogs(ctx context.Context, role domain.Role) ([]audit.Entry, error) {
	if !role.IsOversight() {
		return nil, dErrors.New(dErrors.CodeForbidden, "oversight role required")
	}
	entries, err := s.store.ListAll(ctx)
	if err != nil {
		s.logInternal(ctx, "audit trail query failed", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit log")
	}
	return entries, nil
}

func (s *Service) logInternal(ctx context.Context, msg string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, msg,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}
