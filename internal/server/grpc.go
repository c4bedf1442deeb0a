// Package server assembles the HTTP router and the gRPC server from the feature handlers.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"kallied-admin/backend/internal/server/interceptors"
)

// quietMethods succeed on every probe; only their failures are logged.
var quietMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// NewGRPCServer returns a gRPC server exposing the standard health service, for load balancers and
// orchestrators that probe over gRPC. Calls are traced with otelgrpc.
func NewGRPCServer(health healthpb.HealthServer, logger *zap.Logger) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(logger),
			interceptors.LoggingUnary(logger, quietMethods),
		),
		grpc.ChainStreamInterceptor(interceptors.LoggingStream(logger, quietMethods)),
	)
	healthpb.RegisterHealthServer(s, health)
	reflection.Register(s)
	return s
}
