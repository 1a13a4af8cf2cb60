package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	ratelimitmetrics "govconsent/internal/ratelimit/metrics"
	"govconsent/internal/ratelimit/models"
	"govconsent/pkg/platform/httputil"
	"govconsent/pkg/requestcontext"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Middleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	logger  *slog.Logger
	metrics *ratelimitmetrics.Metrics
}

type Option func(*Middleware)

func WithMetrics(m *ratelimitmetrics.Metrics) Option {
	return func(mw *Middleware) {
		mw.metrics = m
	}
}

func New(limiter Limiter, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit keys authenticated requests by identity and anonymous ones by client
// IP. Store failures let the request through.
func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		kind, value := "ip", requestcontext.ClientIP(ctx)
		if id := requestcontext.IdentityID(ctx); id != "" {
			kind, value = "identity", string(id)
		}

		result, err := m.limiter.Allow(ctx, models.Key(kind, value), m.limit, m.window)
		if err != nil {
			m.metrics.IncStoreError()
			if m.logger != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "kind", kind)
			}
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if !result.Allowed {
			m.metrics.IncRejected(kind)
			writeRateLimitExceeded(w, result)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
