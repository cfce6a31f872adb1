package config

import (
	"fmt"
	"slices"
	"time"

	pkgconfig "github.com/utafrali/authsession/pkg/config"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

const (
	defaultAccessSecret  = "dev-access-secret-change-me-0000000000"
	defaultRefreshSecret = "dev-refresh-secret-change-me-000000000"
	minSecretLength      = 32
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"AUTH_HTTP_PORT" envDefault:"5001"`

	// Account store: postgres, redis or memory.
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"auth"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"auth_secret"`
	PostgresDB   string `env:"AUTH_DB_NAME" envDefault:"auth_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns        int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBMaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`

	// Redis
	RedisHost      string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort      int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword  string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisTxRetries int    `env:"REDIS_TX_RETRIES" envDefault:"5"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET" envDefault:"dev-access-secret-change-me-0000000000"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET" envDefault:"dev-refresh-secret-change-me-000000000"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:""`

	// Sessions
	BcryptCost         int    `env:"BCRYPT_COST" envDefault:"12"`
	RefreshReusePolicy string `env:"REFRESH_REUSE_POLICY" envDefault:"revoke_all"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	// Rate limits
	RateLimitGlobal         int           `env:"RATE_LIMIT_GLOBAL" envDefault:"100"`
	RateLimitGlobalWindow   time.Duration `env:"RATE_LIMIT_GLOBAL_WINDOW" envDefault:"1m"`
	RateLimitLogin          int           `env:"RATE_LIMIT_LOGIN" envDefault:"5"`
	RateLimitLoginWindow    time.Duration `env:"RATE_LIMIT_LOGIN_WINDOW" envDefault:"10m"`
	RateLimitRegister       int           `env:"RATE_LIMIT_REGISTER" envDefault:"1"`
	RateLimitRegisterWindow time.Duration `env:"RATE_LIMIT_REGISTER_WINDOW" envDefault:"1h"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	SlowQueryThresholdMs int `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and, outside development, that real secrets
// were supplied.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !slices.Contains([]string{DriverPostgres, DriverRedis, DriverMemory}, c.StoreDriver) {
		return fmt.Errorf("STORE_DRIVER must be one of postgres, redis, memory; got %q", c.StoreDriver)
	}
	if c.RefreshReusePolicy != "revoke_all" && c.RefreshReusePolicy != "reject_only" {
		return fmt.Errorf("REFRESH_REUSE_POLICY must be revoke_all or reject_only; got %q", c.RefreshReusePolicy)
	}
	if c.JWTAccessExpiry <= 0 || c.JWTRefreshExpiry <= 0 {
		return fmt.Errorf("JWT token expiries must be positive")
	}
	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be set")
	}

	if c.IsDevelopment() {
		return nil
	}
	if c.JWTAccessSecret == defaultAccessSecret || c.JWTRefreshSecret == defaultRefreshSecret {
		return fmt.Errorf("JWT secrets must be explicitly set via environment variables in %q mode", c.Environment)
	}
	if len(c.JWTAccessSecret) < minSecretLength || len(c.JWTRefreshSecret) < minSecretLength {
		return fmt.Errorf("JWT secrets must be at least %d characters long", minSecretLength)
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.StoreDriver == DriverMemory {
		return fmt.Errorf("STORE_DRIVER=memory is only allowed in development")
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
