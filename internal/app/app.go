package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/config"
	"github.com/utafrali/authservice/internal/event"
	handler "github.com/utafrali/authservice/internal/handler/http"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/internal/service"
	"github.com/utafrali/authservice/pkg/health"
	pkgkafka "github.com/utafrali/authservice/pkg/kafka"
	"github.com/utafrali/authservice/pkg/middleware"
	"github.com/utafrali/authservice/pkg/tracing"
)

// ServiceName identifies the service in logs, metrics and traces.
const ServiceName = "auth-service"

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	store          *Store
	redis          *redis.Client
	producer       *pkgkafka.Producer
	handler        http.Handler
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// Services bundles the domain services built from a store.
type Services struct {
	Auth     *service.AuthService
	Sessions *service.SessionValidator
}

// NewServices builds the token codec, password hasher and services on top of users.
func NewServices(cfg *config.Config, users repository.UserRepository, publisher event.Publisher, logger *slog.Logger) (*Services, error) {
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Algorithm:  cfg.JWTAlgorithm,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.JWTAccessExpiry,
		RefreshTTL: cfg.JWTRefreshExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("build token codec: %w", err)
	}

	hasher := auth.NewBcryptHasher(cfg.BcryptCost)

	return &Services{
		Auth:     service.NewAuthService(users, hasher, codec, publisher, logger),
		Sessions: service.NewSessionValidator(users, codec, logger),
	}, nil
}

// NewPublisher returns the event publisher selected by cfg. The producer is
// nil when Kafka is disabled; otherwise the caller must close it. A nil reg
// leaves producer metrics on the default registry.
func NewPublisher(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (event.Publisher, *pkgkafka.Producer) {
	if !cfg.KafkaEnabled {
		return event.NoopPublisher{}, nil
	}
	var opts []pkgkafka.ProducerOption
	if reg != nil {
		opts = append(opts, pkgkafka.WithMetricsRegisterer(reg))
	}
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger, opts...)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	return event.NewProducer(producer, logger), producer
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	registry := prometheus.NewRegistry()

	a := &App{cfg: cfg, logger: logger, tracerShutdown: tracerShutdown}
	if err := service.RegisterMetrics(registry); err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("register service metrics: %w", err)
	}
	healthHandler := health.NewHandler()

	store, err := OpenStore(ctx, cfg, registry, logger)
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}
	a.store = store
	if store.Pool != nil {
		healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
			return store.Pool.Ping(ctx)
		})
	}

	users, client, err := OpenUserCache(ctx, cfg, store.Users, logger)
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}
	if client != nil {
		a.redis = client
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	publisher, producer := NewPublisher(cfg, registry, logger)
	if producer != nil {
		a.producer = producer
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	services, err := NewServices(cfg, users, publisher, logger)
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}

	if cfg.SeedDemoUser {
		if err := services.Auth.SeedDemoUser(ctx); err != nil {
			_ = a.Shutdown()
			return nil, fmt.Errorf("seed demo user: %w", err)
		}
	}

	a.handler = handler.NewRouter(handler.RouterConfig{
		Auth:     services.Auth,
		Sessions: services.Sessions,
		Health:   healthHandler,
		Logger:   logger,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Environment:    cfg.Environment,
		},
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		Registry:          registry,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Handler returns the fully wired HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
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

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. Credential store
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	if a.httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer httpCancel()
		if err := a.httpServer.Shutdown(httpCtx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

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

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.store != nil {
		a.store.Close()
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
