// Package httpapi assembles the HTTP surface. Handlers stay thin and only
// translate between JSON and the services; this package decides which
// middleware guards which route.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	audithandler "govconsent/internal/audit/handler"
	citizenhandler "govconsent/internal/citizendata/handler"
	consenthandler "govconsent/internal/consent/handler"
	identityhandler "govconsent/internal/identity/handler"
	sessionhandler "govconsent/internal/session/handler"
	workflowhandler "govconsent/internal/workflow/handler"
	adminmw "govconsent/pkg/platform/middleware/admin"
	"govconsent/pkg/platform/middleware/metadata"
	request "govconsent/pkg/platform/middleware/request"
	"govconsent/pkg/platform/middleware/requesttime"
)

type Handlers struct {
	Identity    *identityhandler.Handler
	Session     *sessionhandler.Handler
	Consent     *consenthandler.Handler
	CitizenData *citizenhandler.Handler
	Audit       *audithandler.Handler
	Workflow    *workflowhandler.Handler
}

// HealthCheck reports whether a backing service is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Logger         *slog.Logger
	AdminToken     string
	RequestTimeout time.Duration
	// Authenticate is the bearer-token middleware.
	Authenticate func(http.Handler) http.Handler
	// RateLimit runs after authentication so callers are keyed by identity.
	// Nil disables limiting.
	RateLimit func(http.Handler) http.Handler
	// Latency is optional; nil disables per-route metrics.
	Latency request.LatencyObserver
	Health  map[string]HealthCheck
}

func NewRouter(h Handlers, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(opts.Logger))
	if opts.Latency != nil {
		r.Use(request.Latency(opts.Latency))
	}
	r.Use(request.Logger(opts.Logger))
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	if opts.RequestTimeout > 0 {
		r.Use(request.Timeout(opts.RequestTimeout))
	}

	r.Get("/healthz", healthz(opts.Health))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Use(adminmw.RequireAdminToken(opts.AdminToken, opts.Logger))
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}
		h.Identity.RegisterProvisioning(r)
		h.Session.RegisterIssuance(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Use(opts.Authenticate)
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}
		h.Identity.Register(r)
		h.Session.Register(r)
		h.Consent.Register(r)
		h.CitizenData.Register(r)
		h.Audit.Register(r)
		h.Workflow.Register(r)
	})
	return r
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{}
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body[name] = "unavailable"
				continue
			}
			body[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
