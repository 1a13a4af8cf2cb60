package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"govconsent/internal/consent/models"
	"govconsent/internal/consent/service"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/platform/httputil"
	"govconsent/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/consent-mocks.go -package=mocks Service

// Service defines the consent operations the HTTP layer needs.
type Service interface {
	Request(ctx context.Context, actor domain.Actor, in service.RequestInput) (*models.Grant, error)
	Approve(ctx context.Context, actor domain.Actor, grantID domain.GrantID, durationDays *int) (*models.Grant, error)
	Revoke(ctx context.Context, actor domain.Actor, grantID domain.GrantID) (*models.Grant, error)
	ListPending(ctx context.Context, actor domain.Actor) ([]*models.Grant, error)
	ListActive(ctx context.Context, actor domain.Actor) ([]*models.Grant, error)
	ListSent(ctx context.Context, actor domain.Actor) ([]*models.Grant, error)
}

type Handler struct {
	logger  *slog.Logger
	consent Service
}

func New(consent Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, consent: consent}
}

// Register mounts the consent routes. Authentication is applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Post("/consents", h.handleRequest)
	r.Get("/consents/pending", h.handleListPending)
	r.Get("/consents/active", h.handleListActive)
	r.Get("/consents/sent", h.handleListSent)
	r.Post("/consents/{id}/approve", h.handleApprove)
	r.Post("/consents/{id}/revoke", h.handleRevoke)
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req requestConsentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid consent request body",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	req.normalize()
	ownerID, err := domain.ParseIdentityID(req.OwnerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	grant, err := h.consent.Request(ctx, requestcontext.Actor(ctx), service.RequestInput{
		OwnerID:      ownerID,
		Purpose:      req.Purpose,
		Attributes:   req.Attributes,
		DurationDays: req.DurationDays,
		ServiceType:  req.ServiceType,
	})
	if err != nil {
		h.writeError(ctx, w, "consent request failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, requestConsentResponse{
		GrantID: grant.ID.String(),
		Status:  grant.Status.String(),
	})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	grantID, err := domain.ParseGrantID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req approveRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	grant, err := h.consent.Approve(ctx, requestcontext.Actor(ctx), grantID, req.DurationDays)
	if err != nil {
		h.writeError(ctx, w, "consent approval failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toGrantResponse(grant, requestcontext.Now(ctx)))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	grantID, err := domain.ParseGrantID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	grant, err := h.consent.Revoke(ctx, requestcontext.Actor(ctx), grantID)
	if err != nil {
		h.writeError(ctx, w, "consent revocation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toGrantResponse(grant, requestcontext.Now(ctx)))
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.consent.ListPending)
}

func (h *Handler) handleListActive(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.consent.ListActive)
}

func (h *Handler) handleListSent(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.consent.ListSent)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, domain.Actor) ([]*models.Grant, error)) {
	ctx := r.Context()
	grants, err := fetch(ctx, requestcontext.Actor(ctx))
	if err != nil {
		h.writeError(ctx, w, "consent listing failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(grants, requestcontext.Now(ctx)))
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.GetCode(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

type requestConsentRequest struct {
	OwnerID      string   `json:"owner_id"`
	Purpose      string   `json:"purpose"`
	Attributes   []string `json:"attributes"`
	DurationDays *int     `json:"duration_days,omitempty"`
	ServiceType  string   `json:"service_type,omitempty"`
}

func (r *requestConsentRequest) normalize() {
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	r.Purpose = strings.TrimSpace(r.Purpose)
	r.ServiceType = strings.TrimSpace(r.ServiceType)
}

type requestConsentResponse struct {
	GrantID string `json:"grant_id"`
	Status  string `json:"status"`
}

type approveRequest struct {
	DurationDays *int `json:"duration_days,omitempty"`
}

// grantResponse exposes Expired, computed at read time. It is never stored.
type grantResponse struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	RequesterID string     `json:"requester_id"`
	Purpose     string     `json:"purpose"`
	Attributes  []string   `json:"attributes"`
	Status      string     `json:"status"`
	ServiceType string     `json:"service_type,omitempty"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Expired     bool       `json:"expired"`
}

type listResponse struct {
	Grants []grantResponse `json:"grants"`
	Count  int             `json:"count"`
}

func toGrantResponse(g *models.Grant, now time.Time) grantResponse {
	return grantResponse{
		ID:          g.ID.String(),
		OwnerID:     g.OwnerID.String(),
		RequesterID: g.RequesterID.String(),
		Purpose:     g.Purpose,
		Attributes:  g.Attributes,
		Status:      g.Status.String(),
		ServiceType: g.ServiceType,
		ValidFrom:   g.ValidFrom,
		ValidUntil:  g.ValidUntil,
		CreatedAt:   g.CreatedAt,
		Expired:     g.IsExpiredAt(now),
	}
}

func toListResponse(grants []*models.Grant, now time.Time) listResponse {
	out := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		out = append(out, toGrantResponse(g, now))
	}
	return listResponse{Grants: out, Count: len(out)}
}
