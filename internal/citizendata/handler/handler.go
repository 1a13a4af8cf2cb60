package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"govconsent/internal/citizendata/service"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/platform/httputil"
	"govconsent/pkg/requestcontext"
)

type Service interface {
	GetCitizenData(ctx context.Context, actor domain.Actor, ownerID domain.IdentityID, requested []string) (*service.Disclosure, error)
	PutRecord(ctx context.Context, actor domain.Actor, ownerID domain.IdentityID, values map[string]string) error
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/citizens/{id}/data", h.HandleGetCitizenData)
	r.Put("/citizens/me/data", h.HandlePutOwnRecord)
	r.Put("/citizens/{id}/data", h.HandlePutRecord)
}

type citizenDataRequest struct {
	Fields []string `json:"fields"`
}

type putRecordRequest struct {
	Attributes map[string]string `json:"attributes"`
}

// HandleGetCitizenData uses POST so the requested field list stays out of
// URLs and access logs.
func (h *Handler) HandleGetCitizenData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, err := domain.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req citizenDataRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	disclosure, err := h.svc.GetCitizenData(ctx, requestcontext.Actor(ctx), ownerID, req.Fields)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, disclosure)
}

func (h *Handler) HandlePutOwnRecord(w http.ResponseWriter, r *http.Request) {
	h.putRecord(w, r, requestcontext.IdentityID(r.Context()))
}

func (h *Handler) HandlePutRecord(w http.ResponseWriter, r *http.Request) {
	ownerID, err := domain.ParseIdentityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.putRecord(w, r, ownerID)
}

func (h *Handler) putRecord(w http.ResponseWriter, r *http.Request, ownerID domain.IdentityID) {
	ctx := r.Context()
	var req putRecordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.svc.PutRecord(ctx, requestcontext.Actor(ctx), ownerID, req.Attributes); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.GetCode(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "citizen data request failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
