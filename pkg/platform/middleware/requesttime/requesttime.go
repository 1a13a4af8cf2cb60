// Package requesttime pins one "now" per request so grant windows, audit
// timestamps and expiry checks inside a request agree with each other.
package requesttime

import (
	"net/http"
	"time"

	"govconsent/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
