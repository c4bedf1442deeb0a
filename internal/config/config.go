// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"kallied-admin/backend/internal/logging"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address of the REST and WebSocket API (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint (e.g. :9090).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs on in-memory repositories (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL backs the dev OTP store when set (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "8h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// GateTTL is the challenge validity window (e.g. "300s"). Must be whole seconds, and exactly
	// ProductionGateTTL in production; other values only shorten local runs.
	GateTTL string `mapstructure:"GATE_TTL"`
	// ApproverPhone receives every gate code over SMS.
	ApproverPhone string `mapstructure:"APPROVER_PHONE"`
	// PhoneRegion is the default region for parsing numbers without a country code.
	PhoneRegion string `mapstructure:"PHONE_REGION"`
	// SMSLocalAPIKey is the API key for SMS Local. Required in production.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional DLT sender ID.
	SMSLocalSender  string `mapstructure:"SMS_LOCAL_SENDER"`
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// OTPReturnToClient when true enables dev OTP mode: codes are stored for GET /dev/gate/otp/{challengeId}.
	// Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// CORSAllowedOrigins is a comma-separated list of browser origins for the API and WebSocket.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// AuthRateLimitPerMinute caps login and code submissions per client IP; 0 disables.
	AuthRateLimitPerMinute float64 `mapstructure:"AUTH_RATE_LIMIT_PER_MINUTE"`
	AuthRateLimitBurst     int     `mapstructure:"AUTH_RATE_LIMIT_BURST"`
	// HealthCheckInterval is how often readiness is re-evaluated (e.g. "15s").
	HealthCheckInterval string `mapstructure:"HEALTH_CHECK_INTERVAL"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// LogFile, when set, also writes logs to a rotated file.
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`

	// OTLPEndpoint enables trace, metric and log export when set.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`

	// KafkaBrokers is a comma-separated list; when set, gate events are published to GateEventsTopic.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	GateEventsTopic string `mapstructure:"GATE_EVENTS_TOPIC"`

	// Worker-only: Loki URL for the event worker (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// Seed-only: the first administrator.
	SeedAdminEmail    string `mapstructure:"SEED_ADMIN_EMAIL"`
	SeedAdminName     string `mapstructure:"SEED_ADMIN_NAME"`
	SeedAdminPassword string `mapstructure:"SEED_ADMIN_PASSWORD"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Every key needs a default: Viper's Unmarshal only sees env vars for keys it already knows.
func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "kallied-admin")
	v.SetDefault("JWT_AUDIENCE", "kallied-admin-api")
	v.SetDefault("JWT_ACCESS_TTL", "8h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("GATE_TTL", "300s")
	v.SetDefault("APPROVER_PHONE", "")
	v.SetDefault("PHONE_REGION", "IN")
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUTH_RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("AUTH_RATE_LIMIT_BURST", 5)
	v.SetDefault("HEALTH_CHECK_INTERVAL", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 28)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "kallied-admin-backend")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("GATE_EVENTS_TOPIC", "kallied-gate-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "kallied-gate-events-worker")
	v.SetDefault("SEED_ADMIN_EMAIL", "")
	v.SetDefault("SEED_ADMIN_NAME", "Administrator")
	v.SetDefault("SEED_ADMIN_PASSWORD", "")
}

// ProductionGateTTL is the only challenge window accepted in production.
const ProductionGateTTL = 300 * time.Second

// Validate checks cross-field rules and fills zero values that must not stay zero.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	ttl, err := time.ParseDuration(c.GateTTL)
	if err != nil || ttl < time.Second || ttl%time.Second != 0 {
		return fmt.Errorf("config: GATE_TTL must be a whole number of seconds, got %q", c.GateTTL)
	}
	if c.AuthRateLimitPerMinute < 0 || c.AuthRateLimitBurst < 0 {
		return errors.New("config: AUTH_RATE_LIMIT_PER_MINUTE and AUTH_RATE_LIMIT_BURST must not be negative")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.IsProduction() {
		if ttl != ProductionGateTTL {
			return fmt.Errorf("config: GATE_TTL must be %s when APP_ENV=production, got %q", ProductionGateTTL, c.GateTTL)
		}
		if c.OTPReturnToClient {
			return errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
		}
		if c.SMSLocalAPIKey == "" || c.ApproverPhone == "" {
			return errors.New("config: SMS_LOCAL_API_KEY and APPROVER_PHONE are required when APP_ENV=production")
		}
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required when APP_ENV=production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 8h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return durationOr(c.JWTAccessTTL, 8*time.Hour)
}

// GateTTLDuration returns the validated challenge window.
func (c *Config) GateTTLDuration() time.Duration {
	return durationOr(c.GateTTL, 300*time.Second)
}

// HealthInterval returns how often readiness is refreshed. Returns 15s if unset or invalid.
func (c *Config) HealthInterval() time.Duration {
	return durationOr(c.HealthCheckInterval, 15*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka event stream.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// LogOptions returns the logger settings for the named binary.
func (c *Config) LogOptions(service string) logging.Options {
	return logging.Options{
		Level:       c.LogLevel,
		Format:      c.LogFormat,
		File:        c.LogFile,
		MaxSizeMB:   c.LogMaxSizeMB,
		MaxBackups:  c.LogMaxBackups,
		MaxAgeDays:  c.LogMaxAgeDays,
		Service:     service,
		Environment: c.Env,
	}
}

// AllowedOrigins returns the CORS origins list.
func (c *Config) AllowedOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
