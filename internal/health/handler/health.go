// Package handler reports service health over gRPC (grpc.health.v1) and HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"kallied-admin/backend/internal/server/httpx"
)

// ServiceName is the gRPC health service name reported alongside the overall "" status.
const ServiceName = "kallied.admin.v1.Backend"

const checkTimeout = 3 * time.Second

// Pinger checks database connectivity. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks the policy engine. *engine.OPAEvaluator implements it.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server runs readiness checks and publishes the result to the standard gRPC health service.
type Server struct {
	pinger Pinger
	policy PolicyChecker
	grpc   *health.Server
	logger *zap.Logger
}

// NewServer returns a health server. pinger and policy may be nil; nil checks are skipped.
func NewServer(pinger Pinger, policy PolicyChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{pinger: pinger, policy: policy, grpc: health.NewServer(), logger: logger}
}

// GRPC returns the grpc_health_v1 implementation to register on a gRPC server.
func (s *Server) GRPC() *health.Server {
	return s.grpc
}

// Check runs every configured check and returns failures by component. An empty map means ready.
func (s *Server) Check(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	failures := map[string]string{}
	if s.pinger != nil {
		if err := s.pinger.PingContext(ctx); err != nil {
			failures["database"] = err.Error()
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			failures["policy"] = err.Error()
		}
	}
	return failures
}

// Refresh runs the checks and updates the gRPC serving status.
func (s *Server) Refresh(ctx context.Context) bool {
	failures := s.Check(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if len(failures) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("health: not ready", zap.Any("failures", failures))
	}
	s.grpc.SetServingStatus("", status)
	s.grpc.SetServingStatus(ServiceName, status)
	return len(failures) == 0
}

// Watch refreshes the status every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so load balancers drain the instance.
func (s *Server) Shutdown() {
	s.grpc.Shutdown()
}

// Live handles GET /healthz. The process is up if it can answer.
func (s *Server) Live(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /readyz.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	failures := s.Check(r.Context())
	if len(failures) > 0 {
		httpx.RespondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
