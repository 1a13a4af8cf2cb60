// Package service serves owner records through the consent access check.
package service

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"govconsent/internal/catalog"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/platform/sentinel"
	"govconsent/pkg/requestcontext"
)

type Store interface {
	Put(ctx context.Context, ownerID domain.IdentityID, values map[string]string, now time.Time) error
	Project(ctx context.Context, ownerID domain.IdentityID, attributes []string) (map[string]string, error)
}

// AccessChecker decides which attributes the actor may read and records the
// disclosure.
type AccessChecker interface {
	CheckAccess(ctx context.Context, actor domain.Actor, ownerID domain.IdentityID, requested []string) ([]string, error)
}

type Service struct {
	store  Store
	access AccessChecker
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, access AccessChecker, opts ...Option) *Service {
	s := &Service{store: store, access: access}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Disclosure is what a protected read returns. Attributes holds values only
// for Disclosed names that the owner has filled in.
type Disclosure struct {
	OwnerID    domain.IdentityID `json:"owner_id"`
	Disclosed  []string          `json:"disclosed"`
	Attributes map[string]string `json:"attributes"`
}

// GetCitizenData narrows requested to what the actor is allowed to see, then
// reads exactly that set from the owner's record.
func (s *Service) GetCitizenData(ctx context.Context, actor domain.Actor, ownerID domain.IdentityID, requested []string) (*Disclosure, error) {
	if len(requested) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "fields must not be empty")
	}
	allowed, err := s.access.CheckAccess(ctx, actor, ownerID, requested)
	if err != nil {
		return nil, err
	}

	values, err := s.store.Project(ctx, ownerID, allowed)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to read citizen record",
				"owner_id", ownerID.String(),
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read citizen record")
	}
	if values == nil {
		values = map[string]string{}
	}
	return &Disclosure{OwnerID: ownerID, Disclosed: allowed, Attributes: values}, nil
}

// PutRecord merges catalog attributes into an owner's record. Owners write
// their own record; admins may write any.
func (s *Service) PutRecord(ctx context.Context, actor domain.Actor, ownerID domain.IdentityID, values map[string]string) error {
	if actor.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if actor.ID != ownerID && actor.Role != domain.RoleAdmin {
		return dErrors.New(dErrors.CodeForbidden, "only the owner may update this record")
	}
	if actor.ID == ownerID && !actor.Role.IsCitizen() {
		return dErrors.New(dErrors.CodeForbidden, "only citizens hold records")
	}

	names := slices.Sorted(maps.Keys(values))
	if _, err := catalog.ValidateAttributes(names); err != nil {
		return err
	}
	cleaned := make(map[string]string, len(values))
	for k, v := range values {
		cleaned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	if err := s.store.Put(ctx, ownerID, cleaned, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store citizen record")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "citizen record updated",
			"owner_id", ownerID.String(),
			"actor_id", actor.ID.String(),
			"attributes", names,
		)
	}
	return nil
}
