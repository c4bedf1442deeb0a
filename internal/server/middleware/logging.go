package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kallied-admin/backend/internal/server/httpx"
)

// TraceIDHeader echoes the request's trace ID so operators can quote it in bug reports.
const TraceIDHeader = "X-Trace-ID"

// RequestLog logs each request as one structured line with its route template, status and duration.
func RequestLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				w.Header().Set(TraceIDHeader, sc.TraceID().String())
			}
			next.ServeHTTP(sw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", routeTemplate(r)),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)),
			}
			switch {
			case sw.status >= 500:
				logger.Error("http request", fields...)
			case sw.status >= 400:
				logger.Warn("http request", fields...)
			default:
				logger.Debug("http request", fields...)
			}
		})
	}
}

// Recover turns a handler panic into a 500 and logs the stack.
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("http: handler panic",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()))
					httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
