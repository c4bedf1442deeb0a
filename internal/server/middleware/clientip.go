package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the client IP from X-Forwarded-For, X-Real-IP, or the remote address, or "unknown".
func ClientIP(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		return s
	}
	if s := strings.TrimSpace(r.Header.Get("X-Real-IP")); s != "" {
		return s
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}

// ClientIPMiddleware stores ClientIP in the request context for code that only sees a context.
func ClientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ClientIP(r))))
	})
}
