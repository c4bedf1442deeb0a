package interceptors

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const checkMethod = "/grpc.health.v1.Health/Check"

func TestLoggingUnary(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingUnary(zap.New(core), map[string]bool{checkMethod: true})
	info := &grpc.UnaryServerInfo{FullMethod: checkMethod}

	ok := func(context.Context, any) (any, error) { return "ok", nil }
	resp, err := ic(context.Background(), nil, info, ok)
	if err != nil || resp != "ok" {
		t.Fatalf("resp, err = %v, %v", resp, err)
	}
	if logs.Len() != 0 {
		t.Fatalf("successful skipped method logged: %v", logs.All())
	}

	failing := func(context.Context, any) (any, error) {
		return nil, status.Error(codes.Unavailable, "db down")
	}
	if _, err := ic(context.Background(), nil, info, failing); status.Code(err) != codes.Unavailable {
		t.Fatalf("err = %v", err)
	}
	if logs.Len() != 1 || logs.All()[0].Level != zapcore.WarnLevel {
		t.Fatalf("logs = %v", logs.All())
	}
	if got := logs.All()[0].ContextMap()["grpc_code"]; got != "Unavailable" {
		t.Errorf("grpc_code = %v", got)
	}

	internal := func(context.Context, any) (any, error) { return nil, errors.New("boom") }
	_, _ = ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, internal)
	if last := logs.All()[logs.Len()-1]; last.Level != zapcore.ErrorLevel {
		t.Errorf("unknown error logged at %v", last.Level)
	}
}

func TestLoggingStream(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingStream(zap.New(core), nil)
	err := ic(nil, nil, &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}, func(any, grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client gone")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("err = %v", err)
	}
	if logs.Len() != 1 || logs.All()[0].Level != zapcore.DebugLevel {
		t.Errorf("logs = %v", logs.All())
	}
}

func TestRecoveryUnary(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	ic := RecoveryUnary(zap.New(core))
	_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: checkMethod}, func(context.Context, any) (any, error) {
		panic("nil map")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("err = %v, want Internal", err)
	}
	if logs.Len() != 1 {
		t.Errorf("panic not logged")
	}
}
