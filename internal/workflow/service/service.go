// Package service runs the workflow case state machine. Case creation by a
// service provider is gated on a grant that covers every required attribute.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"govconsent/internal/audit"
	"govconsent/internal/catalog"
	consentmodels "govconsent/internal/consent/models"
	"govconsent/internal/platform/memtx"
	workflowmetrics "govconsent/internal/workflow/metrics"
	"govconsent/internal/workflow/models"
	"govconsent/pkg/attrs"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/platform/sentinel"
	"govconsent/pkg/requestcontext"
)

const minPurposeLength = 5

type Store interface {
	Create(ctx context.Context, c *models.Case) error
	FindByID(ctx context.Context, id domain.CaseID) (*models.Case, error)
	Execute(ctx context.Context, id domain.CaseID, validate func(*models.Case) error, mutate func(*models.Case)) (*models.Case, error)
	ListByCitizen(ctx context.Context, citizenID domain.IdentityID) ([]*models.Case, error)
	ListByService(ctx context.Context, serviceID domain.IdentityID) ([]*models.Case, error)
	ListAll(ctx context.Context) ([]*models.Case, error)
}

// CoverageChecker returns insufficient_consent unless a valid grant from
// owner to requester names every required attribute.
type CoverageChecker interface {
	RequireCoverage(ctx context.Context, ownerID, requesterID domain.IdentityID, required []string) (*consentmodels.Grant, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	cases          Store
	consents       CoverageChecker
	tx             TxRunner
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *workflowmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithMetrics(m *workflowmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTx replaces the default in-memory lock with a database transaction.
func WithTx(tx TxRunner) Option {
	return func(s *Service) { s.tx = tx }
}

func New(cases Store, consents CoverageChecker, opts ...Option) *Service {
	s := &Service{cases: cases, consents: consents}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = memtx.NewSharded()
	}
	return s
}

type CreateInput struct {
	CitizenID          domain.IdentityID
	Type               string
	Domain             string
	Purpose            string
	RequiredAttributes []string
}

// CreateCase files a SUBMITTED case. Citizens file for themselves. Service
// providers need a valid grant from the citizen covering every required
// attribute; the check and the insert run in one transaction.
func (s *Service) CreateCase(ctx context.Context, actor domain.Actor, in CreateInput) (*models.Case, error) {
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !actor.Role.CanCreateCase() {
		return nil, dErrors.New(dErrors.CodeForbidden, "role cannot create workflow cases")
	}

	citizenID := in.CitizenID
	var serviceID domain.IdentityID
	switch actor.Role {
	case domain.RoleCitizen:
		if citizenID.IsNil() {
			citizenID = actor.ID
		}
		if citizenID != actor.ID {
			return nil, dErrors.New(dErrors.CodeForbidden, "citizens may only file their own cases")
		}
	case domain.RoleServiceProvider:
		if citizenID.IsNil() {
			return nil, dErrors.New(dErrors.CodeValidation, "citizen_id is required")
		}
		serviceID = actor.ID
	}

	caseType := strings.TrimSpace(in.Type)
	if caseType == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "type is required")
	}
	purpose := strings.TrimSpace(in.Purpose)
	if len([]rune(purpose)) < minPurposeLength {
		return nil, dErrors.Newf(dErrors.CodeValidation, "purpose must be at least %d characters", minPurposeLength)
	}
	required, err := catalog.ValidateAttributes(in.RequiredAttributes)
	if err != nil {
		return nil, err
	}

	c, err := models.NewCase(domain.NewCaseID(), caseType, strings.TrimSpace(in.Domain),
		citizenID, serviceID, purpose, required, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid case")
	}

	var grantID string
	err = s.tx.RunInTx(memtx.WithShardKey(ctx, citizenID.String()), func(txCtx context.Context) error {
		if !serviceID.IsNil() {
			grant, err := s.consents.RequireCoverage(txCtx, citizenID, serviceID, required)
			if err != nil {
				return err
			}
			grantID = grant.ID.String()
		}
		if err := s.cases.Create(txCtx, c); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create case")
		}
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInsufficientConsent) {
			s.metrics.IncCoverageDenied()
		}
		if dErrors.GetCode(err) == dErrors.CodeInternal {
			s.logInternal(ctx, "case creation failed", err)
		}
		return nil, err
	}

	s.metrics.IncCreated()
	metadata := []any{"case_id", c.ID.String(), "case_type", c.Type}
	if grantID != "" {
		metadata = append(metadata, "grant_id", grantID)
	}
	s.logAudit(ctx, audit.Entry{
		ActorID:            actor.ID,
		ActorRole:          actor.Role,
		TargetID:           c.CitizenID,
		Action:             audit.ActionWorkflowCreated,
		AccessedAttributes: c.RequiredAttributes,
		Purpose:            audit.Purpose(c.Purpose),
	}, metadata...)
	return c, nil
}

// ReviewCase moves SUBMITTED to UNDER_REVIEW.
func (s *Service) ReviewCase(ctx context.Context, actor domain.Actor, id domain.CaseID) (*models.Case, error) {
	return s.transition(ctx, actor, id, models.StatusUnderReview)
}

// ApproveCase moves UNDER_REVIEW to APPROVED.
func (s *Service) ApproveCase(ctx context.Context, actor domain.Actor, id domain.CaseID) (*models.Case, error) {
	return s.transition(ctx, actor, id, models.StatusApproved)
}

// RejectCase moves UNDER_REVIEW to REJECTED.
func (s *Service) RejectCase(ctx context.Context, actor domain.Actor, id domain.CaseID) (*models.Case, error) {
	return s.transition(ctx, actor, id, models.StatusRejected)
}

func (s *Service) transition(ctx context.Context, actor domain.Actor, id domain.CaseID, next models.Status) (*models.Case, error) {
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !actor.Role.IsOversight() {
		return nil, dErrors.New(dErrors.CodeForbidden, "oversight role required")
	}

	var previous models.Status
	now := requestcontext.Now(ctx)
	c, err := s.cases.Execute(ctx, id,
		func(c *models.Case) error {
			if err := c.CanTransitionTo(next); err != nil {
				return dErrors.Newf(dErrors.CodeConflict, "cannot move case from %s to %s", c.Status, next)
			}
			previous = c.Status
			return nil
		},
		func(c *models.Case) {
			c.ApplyTransition(next, actor.ID, now)
		},
	)
	if err != nil {
		return nil, s.wrapCaseErr(ctx, err)
	}

	s.metrics.IncTransition(next.String())
	s.logAudit(ctx, audit.Entry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		TargetID:  c.CitizenID,
		Action:    audit.ActionWorkflowUpdate,
	},
		"case_id", c.ID.String(),
		"old_status", previous.String(),
		"new_status", c.Status.String(),
	)
	return c, nil
}

// ListCases scopes by role: citizens see their cases, service providers the
// cases they filed, oversight roles everything.
func (s *Service) ListCases(ctx context.Context, actor domain.Actor) ([]*models.Case, error) {
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	var (
		cases []*models.Case
		err   error
	)
	switch {
	case actor.Role.IsOversight():
		cases, err = s.cases.ListAll(ctx)
	case actor.Role == domain.RoleServiceProvider:
		cases, err = s.cases.ListByService(ctx, actor.ID)
	case actor.Role == domain.RoleCitizen:
		cases, err = s.cases.ListByCitizen(ctx, actor.ID)
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "role cannot list workflow cases")
	}
	if err != nil {
		s.logInternal(ctx, "case listing failed", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list cases")
	}
	return cases, nil
}

func (s *Service) wrapCaseErr(ctx context.Context, err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	s.logInternal(ctx, "case store failure", err)
	return dErrors.Wrap(err, dErrors.CodeInternal, "case store failure")
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
