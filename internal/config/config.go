package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/crypto/bcrypt"

	pkgconfig "github.com/utafrali/authservice/pkg/config"
)

// DefaultJWTSecret is the development-only signing secret. Any other
// environment must override it.
const DefaultJWTSecret = "change-this-to-a-secure-secret"

// Supported credential store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8000"`

	// Credential store
	StoreDriver  string `env:"STORE_DRIVER" envDefault:"postgres"`
	SeedDemoUser bool   `env:"SEED_DEMO_USER" envDefault:"false"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"auth"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"auth_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"auth_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis user cache
	RedisEnabled bool          `env:"REDIS_ENABLED" envDefault:"false"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass    string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB      int           `env:"REDIS_DB" envDefault:"0"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT
	JWTSecret        string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTAlgorithm     string        `env:"JWT_ALGORITHM" envDefault:"HS256"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"auth-service"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"30m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`

	// Password hashing
	BcryptCost int `env:"BCRYPT_COST" envDefault:"12"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// pprof
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging threshold in milliseconds. 0 disables it.
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load(opts ...pkgconfig.Option) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg, opts...); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// minSecretLength applies outside development.
const minSecretLength = 32

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		fail("HTTP_PORT must be between 1 and 65535, got %d", c.HTTPPort)
	}

	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverMemory {
		fail("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}

	switch {
	case c.JWTSecret == "":
		fail("JWT_SECRET must not be empty")
	case c.IsDevelopment():
	case c.JWTSecret == DefaultJWTSecret:
		fail("JWT_SECRET must be explicitly set in %q mode", c.Environment)
	case len(c.JWTSecret) < minSecretLength:
		fail("JWT_SECRET must be at least %d characters long, got %d", minSecretLength, len(c.JWTSecret))
	}

	if !slices.Contains([]string{"HS256", "HS384", "HS512"}, c.JWTAlgorithm) {
		fail("JWT_ALGORITHM must be one of HS256, HS384, HS512, got %q", c.JWTAlgorithm)
	}
	if c.JWTAccessExpiry <= 0 {
		fail("JWT_ACCESS_TOKEN_EXPIRY must be positive, got %s", c.JWTAccessExpiry)
	}
	if c.JWTRefreshExpiry <= 0 {
		fail("JWT_REFRESH_TOKEN_EXPIRY must be positive, got %s", c.JWTRefreshExpiry)
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		fail("BCRYPT_COST must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		fail("OTEL_SAMPLE_RATE must be between 0 and 1, got %g", c.OTELSampleRate)
	}
	if c.RedisEnabled && c.CacheTTL <= 0 {
		fail("CACHE_TTL must be positive when REDIS_ENABLED is set, got %s", c.CacheTTL)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		fail("KAFKA_BROKERS must list at least one broker when KAFKA_ENABLED is set")
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
