// Package interceptors holds the gRPC server interceptors.
package interceptors

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary logs each unary RPC with its status code and duration. Methods in skipMethods
// (e.g. frequent health probes) are only logged when they fail.
func LoggingUnary(logger *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(logger, info.FullMethod, start, err, skipMethods[info.FullMethod])
		return resp, err
	}
}

// LoggingStream is LoggingUnary for streaming RPCs such as health Watch.
func LoggingStream(logger *zap.Logger, skipMethods map[string]bool) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(logger, info.FullMethod, start, err, skipMethods[info.FullMethod])
		return err
	}
}

func logRPC(logger *zap.Logger, method string, start time.Time, err error, quiet bool) {
	code := status.Code(err)
	if quiet && code == codes.OK {
		return
	}
	fields := []zap.Field{
		zap.String("grpc_method", method),
		zap.String("grpc_code", code.String()),
		zap.Duration("duration", time.Since(start)),
	}
	switch code {
	case codes.OK, codes.Canceled, codes.NotFound:
		logger.Debug("grpc request", fields...)
	case codes.Internal, codes.Unknown, codes.DataLoss:
		logger.Error("grpc request", append(fields, zap.Error(err))...)
	default:
		logger.Warn("grpc request", append(fields, zap.Error(err))...)
	}
}

// RecoveryUnary converts a handler panic into codes.Internal.
func RecoveryUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc: handler panic",
					zap.String("grpc_method", info.FullMethod),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
