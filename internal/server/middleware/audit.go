package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"kallied-admin/backend/internal/audit"
)

// Audit records one activity log entry per authenticated, state-changing request after it is served.
// GET, HEAD and OPTIONS are not recorded, nor are paths in skipPaths. Logging is best-effort.
func Audit(logger audit.AuditLogger, skipPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			if logger == nil || skipPaths[r.URL.Path] {
				return
			}
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return
			}
			userID, ok := GetUserID(r.Context())
			if !ok {
				return
			}
			ar := audit.ParseRoute(r.Method, routeTemplate(r))
			logger.LogEvent(r.Context(), audit.Event{
				UserID:     userID,
				Action:     ar.Action,
				Resource:   ar.Resource,
				ResourceID: mux.Vars(r)["id"],
				Status:     sw.status,
			})
		})
	}
}

// routeTemplate returns the matched mux path template, falling back to the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack supports WebSocket upgrades through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
