// Package metadata records where a request came from so audit entries can
// name the client.
package metadata

import (
	"net"
	"net/http"
	"strings"

	"govconsent/pkg/requestcontext"
)

const maxUserAgentLength = 512

// ClientMetadata stores the client IP and User-Agent on the request context.
// Apply it before any handler that writes audit entries.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent := r.Header.Get("User-Agent")
		if len(userAgent) > maxUserAgentLength {
			userAgent = userAgent[:maxUserAgentLength]
		}
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), userAgent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest prefers proxy headers, then the socket address.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
