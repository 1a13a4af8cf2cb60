package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"govconsent/internal/session/service"
	"govconsent/pkg/domain"
	dErrors "govconsent/pkg/domain-errors"
	"govconsent/pkg/platform/httputil"
	"govconsent/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/session-mocks.go -package=mocks Service

type Service interface {
	Issue(ctx context.Context, identityID domain.IdentityID) (*service.Session, error)
	Logout(ctx context.Context, actor domain.Actor, tokenID string) error
}

type Handler struct {
	logger   *slog.Logger
	sessions Service
}

func New(sessions Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, sessions: sessions}
}

// RegisterIssuance mounts the admin-token guarded issuance route.
func (h *Handler) RegisterIssuance(r chi.Router) {
	r.Post("/admin/sessions", h.handleIssue)
}

// Register mounts routes for authenticated callers.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/logout", h.handleLogout)
}

type issueRequest struct {
	IdentityID string `json:"identity_id"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req issueRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, err := domain.ParseIdentityID(strings.TrimSpace(req.IdentityID))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	session, err := h.sessions.Issue(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "session issue failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.sessions.Logout(ctx, requestcontext.Actor(ctx), requestcontext.TokenID(ctx)); err != nil {
		h.writeError(ctx, w, "logout failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
