package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"govconsent/internal/audit"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/platform/httputil"
	"govconsent/pkg/requestcontext"
)

type Service interface {
	MyDataAccessLog(ctx context.Context, ownerID domain.IdentityID) ([]audit.Entry, error)
	MyActionsLog(ctx context.Context, actorID domain.IdentityID) ([]audit.Entry, error)
	AllAuditLogs(ctx context.Context, role domain.Role) ([]audit.Entry, error)
}

type Handler struct {
	svc    Service
	logger *slog.Logger
}

func New(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the audit read routes. Callers apply authentication.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/me/access", h.HandleMyDataAccess)
	r.Get("/audit/me/actions", h.HandleMyActions)
	r.Get("/audit", h.HandleAll)
}

type entriesResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
}

func (h *Handler) HandleMyDataAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.svc.MyDataAccessLog(ctx, requestcontext.IdentityID(ctx))
	h.respond(w, r, entries, err)
}

func (h *Handler) HandleMyActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.svc.MyActionsLog(ctx, requestcontext.IdentityID(ctx))
	h.respond(w, r, entries, err)
}

func (h *Handler) HandleAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.svc.AllAuditLogs(ctx, requestcontext.Role(ctx))
	h.respond(w, r, entries, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, entries []audit.Entry, err error) {
	ctx := r.Context()
	if err != nil {
		if dErrors.GetCode(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "audit query failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entriesResponse{Entries: entries, Count: len(entries)})
}
