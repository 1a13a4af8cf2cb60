package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"govconsent/internal/workflow/models"
	"govconsent/internal/workflow/service"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/platform/httputil"
	"govconsent/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/workflow-mocks.go -package=mocks Service

type Service interface {
	CreateCase(ctx context.Context, actor domain.Actor, in service.CreateInput) (*models.Case, error)
	ReviewCase(ctx context.Context, actor domain.Actor, id domain.CaseID) (*models.Case, error)
	ApproveCase(ctx context.Context, actor domain.Actor, id domain.CaseID) (*models.Case, error)
	RejectCase(ctx context.Context, actor domain.Actor, id domain.CaseID) (*models.Case, error)
	ListCases(ctx context.Context, actor domain.Actor) ([]*models.Case, error)
}

type Handler struct {
	logger   *slog.Logger
	workflow Service
}

func New(workflow Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, workflow: workflow}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/workflow/cases", h.handleCreate)
	r.Get("/workflow/cases", h.handleList)
	r.Post("/workflow/cases/{id}/review", h.transition("review", h.workflow.ReviewCase))
	r.Post("/workflow/cases/{id}/approve", h.transition("approve", h.workflow.ApproveCase))
	r.Post("/workflow/cases/{id}/reject", h.transition("reject", h.workflow.RejectCase))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createCaseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	req.normalize()

	var citizenID domain.IdentityID
	if req.CitizenID != "" {
		id, err := domain.ParseIdentityID(req.CitizenID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		citizenID = id
	}

	c, err := h.workflow.CreateCase(ctx, requestcontext.Actor(ctx), service.CreateInput{
		CitizenID:          citizenID,
		Type:               req.Type,
		Domain:             req.Domain,
		Purpose:            req.Purpose,
		RequiredAttributes: req.RequiredAttributes,
	})
	if err != nil {
		h.writeError(ctx, w, "case creation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) transition(name string, apply func(context.Context, domain.Actor, domain.CaseID) (*models.Case, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := domain.ParseCaseID(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		c, err := apply(ctx, requestcontext.Actor(ctx), id)
		if err != nil {
			h.writeError(ctx, w, "case "+name+" failed", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, c)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cases, err := h.workflow.ListCases(ctx, requestcontext.Actor(ctx))
	if err != nil {
		h.writeError(ctx, w, "case listing failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Cases: cases, Count: len(cases)})
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

type createCaseRequest struct {
	CitizenID          string   `json:"citizen_id,omitempty"`
	Type               string   `json:"type"`
	Domain             string   `json:"domain,omitempty"`
	Purpose            string   `json:"purpose"`
	RequiredAttributes []string `json:"required_attributes"`
}

func (r *createCaseRequest) normalize() {
	r.CitizenID = strings.TrimSpace(r.CitizenID)
	r.Type = strings.TrimSpace(r.Type)
	r.Domain = strings.TrimSpace(r.Domain)
	r.Purpose = strings.TrimSpace(r.Purpose)
}

type listResponse struct {
	Cases []*models.Case `json:"cases"`
	Count int            `json:"count"`
}
