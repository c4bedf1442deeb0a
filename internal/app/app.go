// Package app wires configuration, storage, the confirmation gate and its observers into the HTTP
// and gRPC servers, and shuts them down in dependency order.
package app

import (
	"context"
	"crypto"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"kallied-admin/backend/internal/audit"
	audithandler "kallied-admin/backend/internal/audit/handler"
	auditrepo "kallied-admin/backend/internal/audit/repository"
	"kallied-admin/backend/internal/config"
	"kallied-admin/backend/internal/db"
	"kallied-admin/backend/internal/devotp"
	devotphandler "kallied-admin/backend/internal/devotp/handler"
	"kallied-admin/backend/internal/gate"
	gatehandler "kallied-admin/backend/internal/gate/handler"
	gateservice "kallied-admin/backend/internal/gate/service"
	healthhandler "kallied-admin/backend/internal/health/handler"
	identityhandler "kallied-admin/backend/internal/identity/handler"
	identityservice "kallied-admin/backend/internal/identity/service"
	"kallied-admin/backend/internal/notify"
	"kallied-admin/backend/internal/notify/sms"
	"kallied-admin/backend/internal/policy/engine"
	policyhandler "kallied-admin/backend/internal/policy/handler"
	policyrepo "kallied-admin/backend/internal/policy/repository"
	"kallied-admin/backend/internal/realtime"
	"kallied-admin/backend/internal/security"
	"kallied-admin/backend/internal/server"
	"kallied-admin/backend/internal/server/middleware"
	"kallied-admin/backend/internal/telemetry"
	"kallied-admin/backend/internal/telemetry/metrics"
	teleotel "kallied-admin/backend/internal/telemetry/otel"
	"kallied-admin/backend/internal/telemetry/producer"
	userhandler "kallied-admin/backend/internal/user/handler"
	userrepo "kallied-admin/backend/internal/user/repository"
	userservice "kallied-admin/backend/internal/user/service"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// App is the assembled backend.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	providers *teleotel.Providers
	db        *sql.DB
	redis     *redis.Client
	kafka     *producer.KafkaProducer

	hub       *realtime.Hub
	manager   *gateservice.Manager
	recorder  *audit.GateRecorder
	telemetry *telemetry.AsyncPublisher
	health    *healthhandler.Server
	devStore  devotp.Store
	users     userrepo.Repository

	handler http.Handler
	grpc    *grpc.Server

	closeOnce sync.Once
}

// New builds the App from cfg. Without DATABASE_URL it runs on in-memory repositories and seeds
// the configured administrator, which is only meant for local development.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeResources(context.Background())
		}
	}()

	a.providers, err = teleotel.NewProviders(ctx, teleotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.providers.SetGlobal()

	var (
		users    userrepo.Repository
		logs     auditrepo.Repository
		policies policyrepo.Repository
		pinger   healthhandler.Pinger
	)
	if cfg.DatabaseURL != "" {
		a.db, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		users = userrepo.NewPostgresRepository(a.db)
		logs = auditrepo.NewPostgresRepository(a.db)
		policies = policyrepo.NewPostgresRepository(a.db)
		pinger = a.db
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory repositories")
		users = userrepo.NewMemoryRepository()
		logs = auditrepo.NewMemoryRepository()
		policies = policyrepo.NewMemoryRepository()
	}
	a.users = users

	hasher := security.NewHasher(cfg.BcryptCost)
	if a.db == nil && cfg.SeedAdminEmail != "" {
		if _, created, err := userservice.EnsureAdmin(ctx, users, hasher, cfg.SeedAdminEmail, cfg.SeedAdminName, cfg.SeedAdminPassword); err != nil {
			return nil, fmt.Errorf("seed admin: %w", err)
		} else if created {
			logger.Info("seeded administrator", zap.String("email", cfg.SeedAdminEmail))
		}
	}

	tokens, err := newTokenProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	dispatcher, err := a.newDispatcher(ctx)
	if err != nil {
		return nil, err
	}

	a.hub = realtime.NewHub(context.Background(), logger.Named("realtime"))
	go a.hub.Run()

	auditLogger := audit.NewLogger(logs, middleware.ClientIPFromContext, logger.Named("audit"))
	a.recorder = audit.NewGateRecorder(auditLogger)

	m := metrics.New()
	emitters := []telemetry.EventEmitter{teleotel.NewEventEmitter(a.providers.LoggerProvider)}
	if otelMetrics, err := teleotel.NewMetricsEmitter(a.providers.MeterProvider.Meter("kallied-admin/backend/gate")); err != nil {
		logger.Warn("telemetry: gate meter unavailable", zap.Error(err))
	} else {
		emitters = append(emitters, otelMetrics)
	}
	if a.kafka = producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.GateEventsTopic); a.kafka != nil {
		emitters = append(emitters, a.kafka)
		logger.Info("gate events streaming to kafka", zap.String("topic", cfg.GateEventsTopic))
	}
	a.telemetry = telemetry.NewAsyncPublisher(logger.Named("telemetry"), emitters...)

	registry := gate.NewRegistry()
	actions := userservice.NewActions(users, hasher, a.hub)
	actions.Register(registry)

	policyEngine := engine.NewOPAEvaluator(policies, logger.Named("policy"))
	a.manager = gateservice.NewManager(gate.Deps{
		Executors:  registry,
		Dispatcher: dispatcher,
		Publisher:  gate.Publishers{a.hub, a.recorder, m, a.telemetry},
		Logger:     logger.Named("gate"),
		TTL:        cfg.GateTTLDuration(),
	}, policyEngine)
	actions.OnAccessChanged(func(userID string) {
		a.manager.Dispose(userID)
		a.hub.Disconnect(userID)
	})

	if err := m.RegisterGauge("websocket_connections_active", "Number of active WebSocket connections.",
		func() float64 { return float64(a.hub.ClientCount()) }); err != nil {
		return nil, err
	}
	if err := m.RegisterGauge("gates_open", "Operators with a live gate.",
		func() float64 { return float64(a.manager.Len()) }); err != nil {
		return nil, err
	}

	limiter, err := middleware.NewRateLimiter(cfg.AuthRateLimitPerMinute, cfg.AuthRateLimitBurst, server.RateLimitedPaths)
	if err != nil {
		return nil, err
	}

	a.health = healthhandler.NewServer(pinger, policyEngine, logger.Named("health"))
	authService := identityservice.NewAuthService(users, hasher, tokens, logger.Named("auth"))

	deps := server.RouterDeps{
		Tokens:         tokens,
		Accounts:       userservice.NewAccess(users),
		AuditLogger:    auditLogger,
		Metrics:        m,
		Health:         a.health,
		Auth:           identityhandler.NewHandler(authService, a.manager.Dispose, logger.Named("auth")),
		Gate:           gatehandler.NewHandler(a.manager, logger.Named("gate")),
		Users:          userhandler.NewHandler(users),
		ActivityLogs:   audithandler.NewHandler(logs),
		Policies:       policyhandler.NewHandler(policies, policyEngine),
		Realtime:       http.HandlerFunc(realtime.NewHandler(a.hub, cfg.AllowedOrigins()).ServeWS),
		RateLimiter:    limiter,
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         logger.Named("http"),
	}
	if a.devStore != nil {
		deps.DevOTP = devotphandler.NewHandler(a.devStore)
	}
	a.handler = server.NewRouter(deps)
	a.grpc = server.NewGRPCServer(a.health.GRPC(), logger.Named("grpc"))
	return a, nil
}

// newTokenProvider loads the JWT keys. Outside production a missing key gets a throwaway one.
func newTokenProvider(cfg *config.Config, logger *zap.Logger) (*security.TokenProvider, error) {
	var (
		signer crypto.Signer
		pub    crypto.PublicKey
		err    error
	)
	switch {
	case cfg.JWTPrivateKey != "":
		signer, pub, err = security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwt keys: %w", err)
		}
	case cfg.IsProduction():
		return nil, errors.New("jwt keys: JWT_PRIVATE_KEY is required when APP_ENV=production")
	default:
		logger.Warn("JWT_PRIVATE_KEY not set, generating a throwaway signing key")
		signer, err = security.GenerateDevKey()
		if err != nil {
			return nil, err
		}
		pub = signer.Public()
	}
	return security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()), nil
}

// newDispatcher picks where codes go: the dev store in dev OTP mode, SMS to the approver when
// configured, or both.
func (a *App) newDispatcher(ctx context.Context) (gate.Dispatcher, error) {
	cfg := a.cfg
	var out notify.Multi
	if cfg.OTPReturnToClient {
		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("redis: %w", err)
			}
			a.redis = redis.NewClient(opts)
			if err := a.redis.Ping(ctx).Err(); err != nil {
				return nil, fmt.Errorf("redis: %w", err)
			}
			a.devStore = devotp.NewRedisStore(a.redis)
		} else {
			a.devStore = devotp.NewMemoryStore()
		}
		a.logger.Warn("OTP_RETURN_TO_CLIENT is set: codes are readable at /dev/gate/otp/{challengeId}")
		out = append(out, notify.NewDevStore(a.devStore))
	}
	if cfg.SMSLocalAPIKey != "" && cfg.ApproverPhone != "" {
		client := sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
		d, err := notify.NewSMS(client, cfg.ApproverPhone, cfg.PhoneRegion, a.logger.Named("notify"))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	switch len(out) {
	case 0:
		a.logger.Warn("SMS is not configured: confirmation codes will not be delivered")
		return nil, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP and gRPC until ctx is cancelled or a server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	httpLis, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpSrv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("grpc server listening", zap.String("addr", grpcLis.Addr().String()))
		if err := a.grpc.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.health.Watch(gctx, a.cfg.HealthInterval())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		a.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", zap.Error(err))
		}
		a.grpc.GracefulStop()
		return nil
	})
	return g.Wait()
}

// Close releases everything New acquired. Open gates are closed before their observers.
// Run calls it on return; further calls are no-ops.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.closeResources(ctx)
	})
}

func (a *App) closeResources(ctx context.Context) {
	if a.manager != nil {
		a.manager.CloseAll()
	}
	if a.hub != nil {
		a.hub.Stop()
	}
	if a.recorder != nil {
		a.recorder.Wait()
	}
	if a.telemetry != nil {
		drainCtx, cancel := context.WithTimeout(ctx, telemetry.ShutdownDrainDuration)
		if err := a.telemetry.Drain(drainCtx); err != nil {
			a.logger.Warn("telemetry drain incomplete", zap.Error(err))
		}
		cancel()
	}
	if err := a.kafka.Close(); err != nil {
		a.logger.Warn("kafka close", zap.Error(err))
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.providers != nil {
		_ = a.providers.Shutdown(ctx)
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
