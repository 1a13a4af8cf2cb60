package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"govconsent/internal/identity/models"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/platform/httputil"
	"govconsent/pkg/requestcontext"
)

type Service interface {
	Provision(ctx context.Context, id domain.IdentityID, role domain.Role, status models.Status) (*models.Identity, error)
	SetStatus(ctx context.Context, id domain.IdentityID, next models.Status) (*models.Identity, error)
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterProvisioning mounts the admin-token guarded routes.
func (h *Handler) RegisterProvisioning(r chi.Router) {
	r.Post("/admin/identities", h.HandleProvision)
}

// Register mounts the routes that require an authenticated oversight actor.
func (h *Handler) Register(r chi.Router) {
	r.Patch("/admin/identities/{id}/status", h.HandleSetStatus)
}

type provisionRequest struct {
	ID     string `json:"id"`
	Role   string `json:"role"`
	Status string `json:"status,omitempty"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) HandleProvision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req provisionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := domain.ParseIdentityID(req.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var status models.Status
	if req.Status != "" {
		if status, err = models.ParseStatus(req.Status); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	identity, err := h.svc.Provision(ctx, id, role, status)
	if err != nil {
		h.writeError(ctx, w, "provision identity failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, identity)
}

func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req setStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	identity, err := h.svc.SetStatus(ctx, id, status)
	if err != nil {
		h.writeError(ctx, w, "set identity status failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
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
