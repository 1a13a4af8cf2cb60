// Package service implements the consent lifecycle and the access check that
// guards every disclosure of owner data.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"govconsent/internal/audit"
	"govconsent/internal/catalog"
	consentmetrics "govconsent/internal/consent/metrics"
	"govconsent/internal/consent/models"
	identitymodels "govconsent/internal/identity/models"
	"govconsent/internal/platform/memtx"
	"govconsent/pkg/attrs"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/platform/sentinel"
	attrset "govconsent/pkg/platform/strings"
	"govconsent/pkg/requestcontext"
)

const (
	DefaultDurationDays     = 30
	DefaultMinPurposeLength = 5
	// MaxDurationDays bounds the window in both directions so valid_until
	// stays representable in every store.
	MaxDurationDays = 36500
)

// missingConsentMsg is shared by "no grant" and "nothing overlaps" so callers
// cannot tell whether a grant exists.
const missingConsentMsg = "no valid consent covers the requested data"

type Store interface {
	Create(ctx context.Context, grant *models.Grant) error
	FindByID(ctx context.Context, id domain.GrantID) (*models.Grant, error)
	Execute(ctx context.Context, id domain.GrantID, validate func(*models.Grant) error, mutate func(*models.Grant)) (*models.Grant, error)
	ListByOwner(ctx context.Context, ownerID domain.IdentityID, status models.Status) ([]*models.Grant, error)
	ListByRequester(ctx context.Context, requesterID domain.IdentityID) ([]*models.Grant, error)
	FindValid(ctx context.Context, ownerID, requesterID domain.IdentityID, now time.Time) (*models.Grant, error)
}

// IdentityLookup resolves grant owners.
type IdentityLookup interface {
	FindByID(ctx context.Context, id domain.IdentityID) (*identitymodels.Identity, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// TxRunner serializes owner-scoped writes when the store cannot lock rows
// itself. Postgres deployments leave it unset.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	store          Store
	identities     IdentityLookup
	tx             TxRunner
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *consentmetrics.Metrics
	tracer         trace.Tracer

	defaultDurationDays int
	minPurposeLength    int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = publisher }
}

func WithMetrics(m *consentmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithIdentities(lookup IdentityLookup) Option {
	return func(s *Service) { s.identities = lookup }
}

func WithTx(tx TxRunner) Option {
	return func(s *Service) { s.tx = tx }
}

func WithDefaultDuration(days int) Option {
	return func(s *Service) {
		if days > 0 && days <= MaxDurationDays {
			s.defaultDurationDays = days
		}
	}
}

func WithMinPurposeLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minPurposeLength = n
		}
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:               store,
		tracer:              otel.Tracer("govconsent/consent"),
		defaultDurationDays: DefaultDurationDays,
		minPurposeLength:    DefaultMinPurposeLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestInput carries a requester's ask. DurationDays is a suggestion the
// owner may override at approval.
type RequestInput struct {
	OwnerID      domain.IdentityID
	Purpose      string
	Attributes   []string
	DurationDays *int
	ServiceType  string
}

// Request creates a pending grant from actor to in.OwnerID.
func (s *Service) Request(ctx context.Context, actor domain.Actor, in RequestInput) (*models.Grant, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Request")
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !actor.Role.CanRequestConsent() {
		return nil, dErrors.New(dErrors.CodeForbidden, "citizens cannot request consent")
	}
	purpose := strings.TrimSpace(in.Purpose)
	if len([]rune(purpose)) < s.minPurposeLength {
		return nil, dErrors.Newf(dErrors.CodeValidation, "purpose must be at least %d characters", s.minPurposeLength)
	}
	if in.OwnerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "owner_id is required")
	}
	if in.OwnerID == actor.ID {
		return nil, dErrors.New(dErrors.CodeValidation, "cannot request consent from yourself")
	}
	if err := validateDuration(in.DurationDays); err != nil {
		return nil, err
	}
	attributes, err := catalog.ValidateAttributes(in.Attributes)
	if err != nil {
		return nil, err
	}
	if err := s.requireCitizen(ctx, in.OwnerID); err != nil {
		return nil, err
	}

	grant, err := models.NewGrant(domain.NewGrantID(), in.OwnerID, actor.ID, purpose, attributes,
		strings.TrimSpace(in.ServiceType), in.DurationDays, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid consent request")
	}
	if err := s.store.Create(ctx, grant); err != nil {
		return nil, s.internal(ctx, span, err, "failed to create consent grant")
	}

	span.SetAttributes(attribute.String("grant.id", grant.ID.String()))
	s.metrics.IncRequested()
	s.logAudit(ctx, audit.Entry{
		ActorID:            actor.ID,
		ActorRole:          actor.Role,
		TargetID:           grant.OwnerID,
		Action:             audit.ActionConsentRequest,
		AccessedAttributes: grant.Attributes,
		Purpose:            audit.Purpose(grant.Purpose),
	},
		"grant_id", grant.ID.String(),
		"service_type", grant.ServiceType,
	)
	return grant, nil
}

// Approve activates a pending grant for durationDays. Unlike a plain
// "durationDays or default", an omitted duration first falls back to the
// requester's suggestion and only then to the configured default. Zero and
// negative durations are honoured and produce an already-elapsed window.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, grantID domain.GrantID, durationDays *int) (*models.Grant, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Approve", trace.WithAttributes(
		attribute.String("grant.id", grantID.String()),
	))
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if err := validateDuration(durationDays); err != nil {
		return nil, err
	}

	var (
		grant *models.Grant
		days  int
	)
	err := s.runForOwner(ctx, actor.ID, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		var err error
		grant, err = s.store.Execute(ctx, grantID,
			func(g *models.Grant) error {
				if !g.IsOwnedBy(actor.ID) {
					return dErrors.New(dErrors.CodeForbidden, "only the owner may approve this grant")
				}
				if err := g.CanApprove(); err != nil {
					return dErrors.New(dErrors.CodeConflict, "only pending grants can be approved")
				}
				days = s.resolveDuration(durationDays, g.RequestedDurationDays)
				return nil
			},
			func(g *models.Grant) {
				g.ApplyApproval(now, days)
			},
		)
		return err
	})
	if err != nil {
		return nil, s.wrapGrantErr(ctx, span, err)
	}

	s.metrics.IncApproved()
	s.logAudit(ctx, audit.Entry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		TargetID:  grant.OwnerID,
		Action:    audit.ActionConsentApproved,
		Purpose:   audit.Purpose(grant.Purpose),
	},
		"grant_id", grant.ID.String(),
		"requester_id", grant.RequesterID.String(),
		"duration_days", days,
		"valid_until", grant.ValidUntil.UTC().Format(time.RFC3339),
	)
	return grant, nil
}

// Revoke sets the grant to revoked whatever its current status.
func (s *Service) Revoke(ctx context.Context, actor domain.Actor, grantID domain.GrantID) (*models.Grant, error) {
	ctx, span := s.tracer.Start(ctx, "consent.Revoke", trace.WithAttributes(
		attribute.String("grant.id", grantID.String()),
	))
	defer span.End()

	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	var (
		grant    *models.Grant
		previous models.Status
	)
	err := s.runForOwner(ctx, actor.ID, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		var err error
		grant, err = s.store.Execute(ctx, grantID,
			func(g *models.Grant) error {
				if !g.IsOwnedBy(actor.ID) {
					return dErrors.New(dErrors.CodeForbidden, "only the owner may revoke this grant")
				}
				previous = g.Status
				return nil
			},
			func(g *models.Grant) {
				g.ApplyRevocation(now)
			},
		)
		return err
	})
	if err != nil {
		return nil, s.wrapGrantErr(ctx, span, err)
	}

	s.metrics.IncRevoked()
	s.logAudit(ctx, audit.Entry{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		TargetID:  grant.OwnerID,
		Action:    audit.ActionConsentRevoked,
	},
		"grant_id", grant.ID.String(),
		"requester_id", grant.RequesterID.String(),
		"previous_status", previous.String(),
	)
	return grant, nil
}

// CheckAccess returns requested ∩ granted for the valid grant from ownerID to
// actor. Expired grants are treated as absent and left as stored. Owners
// reading their own record get every requested catalog attribute.
func (s *Service) CheckAccess(ctx context.Context, actor domain.Actor, ownerID domain.IdentityID, requested []string) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "consent.CheckAccess", trace.WithAttributes(
		attribute.String("owner.id", ownerID.String()),
		attribute.String("actor.id", actor.ID.String()),
	))
	defer span.End()
	start := time.Now()

	allowed, grantID, err := s.checkAccess(ctx, actor, ownerID, requested)
	if err != nil {
		outcome := "denied"
		if dErrors.GetCode(err) == dErrors.CodeInternal {
			outcome = "error"
		}
		s.metrics.ObserveAccessCheck(outcome, time.Since(start).Seconds())
		span.SetStatus(codes.Error, string(dErrors.GetCode(err)))
		return nil, err
	}
	s.metrics.ObserveAccessCheck("granted", time.Since(start).Seconds())
	span.SetAttributes(attribute.StringSlice("attributes.disclosed", allowed))

	metadata := []any{"self_access", grantID == ""}
	if grantID != "" {
		metadata = append(metadata, "grant_id", grantID)
	}
	s.logAudit(ctx, audit.Entry{
		ActorID:            actor.ID,
		ActorRole:          actor.Role,
		TargetID:           ownerID,
		Action:             audit.ActionDataAccess,
		AccessedAttributes: allowed,
	}, metadata...)
	return allowed, nil
}

func (s *Service) checkAccess(ctx context.Context, actor domain.Actor, ownerID domain.IdentityID, requested []string) ([]string, string, error) {
	if actor.IsNil() {
		return nil, "", dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if ownerID.IsNil() {
		return nil, "", dErrors.New(dErrors.CodeValidation, "owner id is required")
	}
	requested = attrset.DedupeAndTrim(requested)

	if actor.ID == ownerID {
		own := attrset.Intersect(requested, catalog.All())
		if len(own) == 0 {
			return nil, "", dErrors.New(dErrors.CodeValidation, "no known attributes requested")
		}
		return own, "", nil
	}

	grant, err := s.store.FindValid(ctx, ownerID, actor.ID, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, "", dErrors.New(dErrors.CodeMissingConsent, missingConsentMsg)
		}
		return nil, "", s.internal(ctx, nil, err, "failed to look up consent")
	}
	allowed := grant.Disclose(requested)
	if len(allowed) == 0 {
		return nil, "", dErrors.New(dErrors.CodeMissingConsent, missingConsentMsg)
	}
	return allowed, grant.ID.String(), nil
}

// RequireCoverage succeeds only when a valid grant from ownerID to
// requesterID names every required attribute. Called inside the caller's
// transaction so the grant cannot be revoked before the caller commits.
func (s *Service) RequireCoverage(ctx context.Context, ownerID, requesterID domain.IdentityID, required []string) (*models.Grant, error) {
	grant, err := s.store.FindValid(ctx, ownerID, requesterID, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInsufficientConsent, "consent does not cover the required attributes")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up consent")
	}
	if !grant.Covers(required) {
		return nil, dErrors.New(dErrors.CodeInsufficientConsent, "consent does not cover the required attributes")
	}
	return grant, nil
}

// ListPending lists grants awaiting the owner's decision.
func (s *Service) ListPending(ctx context.Context, actor domain.Actor) ([]*models.Grant, error) {
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	grants, err := s.store.ListByOwner(ctx, actor.ID, models.StatusPending)
	if err != nil {
		return nil, s.internal(ctx, nil, err, "failed to list consents")
	}
	return grants, nil
}

// ListActive lists grants the owner has approved that are still inside
// their window.
func (s *Service) ListActive(ctx context.Context, actor domain.Actor) ([]*models.Grant, error) {
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	grants, err := s.store.ListByOwner(ctx, actor.ID, models.StatusActive)
	if err != nil {
		return nil, s.internal(ctx, nil, err, "failed to list consents")
	}
	now := requestcontext.Now(ctx)
	valid := make([]*models.Grant, 0, len(grants))
	for _, g := range grants {
		if g.IsValidAt(now) {
			valid = append(valid, g)
		}
	}
	return valid, nil
}

// ListSent lists every grant the actor has requested, in any status.
func (s *Service) ListSent(ctx context.Context, actor domain.Actor) ([]*models.Grant, error) {
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	grants, err := s.store.ListByRequester(ctx, actor.ID)
	if err != nil {
		return nil, s.internal(ctx, nil, err, "failed to list consents")
	}
	return grants, nil
}

func (s *Service) requireCitizen(ctx context.Context, ownerID domain.IdentityID) error {
	if s.identities == nil {
		return nil
	}
	owner, err := s.identities.FindByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "owner not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load owner")
	}
	if !owner.Role.IsCitizen() {
		return dErrors.New(dErrors.CodeValidation, "consent can only be requested from a citizen")
	}
	return nil
}

func validateDuration(days *int) error {
	if days == nil {
		return nil
	}
	if *days > MaxDurationDays || *days < -MaxDurationDays {
		return dErrors.Newf(dErrors.CodeValidation, "duration_days must be between %d and %d", -MaxDurationDays, MaxDurationDays)
	}
	return nil
}

func (s *Service) resolveDuration(approved, requested *int) int {
	switch {
	case approved != nil:
		return *approved
	case requested != nil:
		return *requested
	default:
		return s.defaultDurationDays
	}
}

func (s *Service) runForOwner(ctx context.Context, ownerID domain.IdentityID, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.RunInTx(memtx.WithShardKey(ctx, ownerID.String()), fn)
}

func (s *Service) wrapGrantErr(ctx context.Context, span trace.Span, err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "consent grant not found")
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	return s.internal(ctx, span, err, "consent store failure")
}

// internal logs the full cause and returns a generic internal error.
func (s *Service) internal(ctx context.Context, span trace.Span, err error, msg string) error {
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, msg,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
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
