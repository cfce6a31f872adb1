package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/utafrali/authsession/pkg/database"
	"github.com/utafrali/authsession/pkg/health"
	pkgkafka "github.com/utafrali/authsession/pkg/kafka"
	"github.com/utafrali/authsession/pkg/tracing"
	"github.com/utafrali/authsession/services/auth/internal/auth"
	"github.com/utafrali/authsession/services/auth/internal/config"
	"github.com/utafrali/authsession/services/auth/internal/event"
	handler "github.com/utafrali/authsession/services/auth/internal/handler/http"
	"github.com/utafrali/authsession/services/auth/internal/password"
	"github.com/utafrali/authsession/services/auth/internal/repository"
	"github.com/utafrali/authsession/services/auth/internal/repository/memory"
	"github.com/utafrali/authsession/services/auth/internal/repository/postgres"
	redisrepo "github.com/utafrali/authsession/services/auth/internal/repository/redis"
	"github.com/utafrali/authsession/services/auth/internal/service"
	"github.com/utafrali/authsession/services/auth/migrations"
)

const serviceName = "auth"

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	router         *handler.Router
	producer       *pkgkafka.Producer
	closeStore     func()
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// releaser collects teardown steps for resources opened by NewApp so a
// failed start can release them in reverse order.
type releaser struct {
	logger *slog.Logger
	steps  []releaseStep
}

type releaseStep struct {
	name string
	fn   func() error
}

func (r *releaser) add(name string, fn func() error) {
	r.steps = append(r.steps, releaseStep{name: name, fn: fn})
}

func (r *releaser) release() {
	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		if err := step.fn(); err != nil {
			r.logger.Error("release after failed start",
				slog.String("resource", step.name),
				slog.String("error", err.Error()),
			)
		}
	}
	r.steps = nil
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cleanup := &releaser{logger: logger}
	defer func() {
		if err != nil {
			cleanup.release()
		}
	}()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	cleanup.add("tracer", func() error {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		return tracerShutdown(shutdownCtx)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	healthHandler := health.NewHandler()

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	repo, closeStore, err := openStore(ctx, cfg, logger, registry, healthHandler)
	if err != nil {
		return nil, err
	}
	cleanup.add("store", func() error {
		closeStore()
		return nil
	})

	// Kafka is optional; with it disabled events are dropped.
	var (
		producer  *pkgkafka.Producer
		publisher event.Publisher
	)
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(
			pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers),
			logger,
			pkgkafka.WithMetrics(pkgkafka.NewProducerMetrics(registry)),
		)
		publisher = producer
		cleanup.add("kafka", producer.Close)
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	codec, err := auth.NewTokenCodec(auth.Config{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTAccessExpiry,
		RefreshTTL:    cfg.JWTRefreshExpiry,
		Issuer:        cfg.JWTIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("init token codec: %w", err)
	}
	policy, err := service.ParseReusePolicy(cfg.RefreshReusePolicy)
	if err != nil {
		return nil, err
	}

	sessions := service.NewSessionService(
		repo,
		codec,
		password.NewBcryptHasher(cfg.BcryptCost),
		event.NewProducer(publisher, logger),
		logger,
		service.WithReusePolicy(policy),
		service.WithMetrics(service.NewMetrics(registry)),
	)

	router := handler.NewRouter(sessions, healthHandler, registry, logger, handler.RouterConfig{
		ServiceName:    serviceName,
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Cookies: handler.CookieConfig{
			Secure: cfg.IsProduction(),
			MaxAge: cfg.JWTRefreshExpiry,
		},
		HSTS:          cfg.IsProduction(),
		GlobalLimit:   handler.RateLimit{Limit: cfg.RateLimitGlobal, Window: cfg.RateLimitGlobalWindow},
		LoginLimit:    handler.RateLimit{Limit: cfg.RateLimitLogin, Window: cfg.RateLimitLoginWindow},
		RegisterLimit: handler.RateLimit{Limit: cfg.RateLimitRegister, Window: cfg.RateLimitRegisterWindow},
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		router:         router,
		producer:       producer,
		closeStore:     closeStore,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// openStore connects the account store selected by STORE_DRIVER and
// registers its health check and pool metrics.
func openStore(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	registry prometheus.Registerer,
	healthHandler *health.Handler,
) (repository.AccountRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pgCfg := database.PostgresConfig{
			Host:            cfg.PostgresHost,
			Port:            cfg.PostgresPort,
			User:            cfg.PostgresUser,
			Password:        cfg.PostgresPass,
			DBName:          cfg.PostgresDB,
			SSLMode:         cfg.PostgresSSL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			MaxConnLifetime: cfg.DBMaxConnLifetime,
			MaxConnIdleTime: cfg.DBMaxConnIdleTime,
		}
		pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)

		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")

		registry.MustRegister(database.NewPoolStatsCollector(pool, serviceName))
		healthHandler.RegisterCritical("postgres", database.PostgresChecker(pool))
		return postgres.NewAccountRepository(pool), pool.Close, nil

	case config.DriverRedis:
		redisCfg := database.DefaultRedisConfig()
		redisCfg.Host = cfg.RedisHost
		redisCfg.Port = cfg.RedisPort
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB

		client, err := database.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis", slog.String("addr", redisCfg.Addr()))

		registry.MustRegister(database.NewRedisPoolStatsCollector(client, serviceName))
		healthHandler.RegisterCritical("redis", database.RedisChecker(client))
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Error("redis close error", slog.String("error", err.Error()))
			}
		}
		return redisrepo.NewAccountRepository(client, cfg.RedisTxRetries), closeFn, nil

	case config.DriverMemory:
		logger.Warn("using in-memory account store; state is lost on restart")
		return memory.NewAccountRepository(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("store", a.cfg.StoreDriver),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush spans of drained requests)
// 3. Kafka producer
// 4. Account store
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.router.Close()

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.closeStore()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
