package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"kallied-admin/backend/internal/audit"
	"kallied-admin/backend/internal/server/middleware"
	"kallied-admin/backend/internal/telemetry/metrics"
)

// APIPrefix is the versioned REST prefix.
const APIPrefix = "/api/v1"

// Routes is implemented by every feature handler.
type Routes interface {
	Register(r *mux.Router)
}

// HealthEndpoints serves liveness and readiness probes.
type HealthEndpoints interface {
	Live(w http.ResponseWriter, r *http.Request)
	Ready(w http.ResponseWriter, r *http.Request)
}

// RouterDeps holds the handlers mounted by NewRouter. Nil handlers are not mounted.
type RouterDeps struct {
	Tokens middleware.TokenValidator
	// Accounts re-checks the account behind each token. Nil trusts the token for its lifetime.
	Accounts    middleware.AccountChecker
	AuditLogger audit.AuditLogger
	Metrics     *metrics.Metrics
	Health      HealthEndpoints

	// Auth, Gate and Users serve any authenticated operator.
	Auth  Routes
	Gate  Routes
	Users Routes
	// ActivityLogs and Policies are restricted to administrators.
	ActivityLogs Routes
	Policies     Routes
	// DevOTP is mounted without authentication; set it only in dev OTP mode.
	DevOTP Routes
	// Realtime upgrades /ws to the operator's event stream.
	Realtime http.Handler

	// RateLimiter throttles RateLimitedPaths per client IP. Nil disables it.
	RateLimiter *middleware.RateLimiter

	AllowedOrigins []string
	Logger         *zap.Logger
}

// publicPaths pass the auth middleware without a token.
var publicPaths = map[string]bool{
	APIPrefix + "/auth/login": true,
}

// auditSkipPaths are not recorded by the request audit: gate transitions are recorded with richer
// detail from the gate's own events, and login has no authenticated user yet.
var auditSkipPaths = map[string]bool{
	APIPrefix + "/auth/login":   true,
	APIPrefix + "/gate/actions": true,
	APIPrefix + "/gate/verify":  true,
	APIPrefix + "/gate/resend":  true,
	APIPrefix + "/gate/cancel":  true,
}

// RateLimitedPaths are the credential and code submission endpoints.
var RateLimitedPaths = map[string]bool{
	APIPrefix + "/auth/login":  true,
	APIPrefix + "/gate/verify": true,
}

// NewRouter builds the HTTP handler: otelhttp tracing, CORS, then the mux routes.
func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := mux.NewRouter()
	r.Use(middleware.Recover(logger), middleware.RequestLog(logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}
	if d.Health != nil {
		r.HandleFunc("/healthz", d.Health.Live).Methods(http.MethodGet)
		r.HandleFunc("/readyz", d.Health.Ready).Methods(http.MethodGet)
	}
	mount(r, d.DevOTP)

	authn := middleware.Auth(d.Tokens, d.Accounts, publicPaths)
	if d.Realtime != nil {
		r.Handle("/ws", middleware.ClientIPMiddleware(authn(d.Realtime))).Methods(http.MethodGet)
	}

	api := r.PathPrefix(APIPrefix).Subrouter()
	api.Use(middleware.ClientIPMiddleware, d.RateLimiter.Middleware, authn, middleware.Audit(d.AuditLogger, auditSkipPaths))
	mount(api, d.Auth)
	mount(api, d.Gate)
	mount(api, d.Users)

	admin := api.NewRoute().Subrouter()
	admin.Use(middleware.RequireRole("ADMIN"))
	mount(admin, d.ActivityLogs)
	mount(admin, d.Policies)

	c := cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{middleware.TraceIDHeader},
		AllowCredentials: true,
	})
	return otelhttp.NewHandler(c.Handler(r), "http.request",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func mount(r *mux.Router, routes Routes) {
	if routes != nil {
		routes.Register(r)
	}
}
