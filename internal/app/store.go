package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/authservice/internal/config"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/internal/repository/cache"
	"github.com/utafrali/authservice/internal/repository/memory"
	"github.com/utafrali/authservice/internal/repository/postgres"
	"github.com/utafrali/authservice/migrations"
	"github.com/utafrali/authservice/pkg/database"
)

// Store is an opened credential store together with the resources backing it.
type Store struct {
	Users repository.UserRepository

	// Pool is nil for the in-memory driver.
	Pool *pgxpool.Pool
}

// Close releases the connection pool, if any.
func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// PostgresConfig maps service configuration onto pool settings.
func PostgresConfig(cfg *config.Config) database.PostgresConfig {
	pgCfg := database.DefaultPostgresConfig()
	pgCfg.Host = cfg.PostgresHost
	pgCfg.Port = cfg.PostgresPort
	pgCfg.User = cfg.PostgresUser
	pgCfg.Password = cfg.PostgresPass
	pgCfg.DBName = cfg.PostgresDB
	pgCfg.SSLMode = cfg.PostgresSSL
	pgCfg.SlowQueryThreshold = time.Duration(cfg.SlowQueryThresholdMs) * time.Millisecond
	return pgCfg
}

// OpenStore opens the credential store selected by cfg.StoreDriver. For
// postgres it connects, applies pending migrations and, when reg is non-nil,
// exports pool statistics.
func OpenStore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*Store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory credential store; accounts are lost on restart")
		return &Store{Users: memory.NewUserRepository()}, nil
	}

	pgCfg := PostgresConfig(cfg)
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	applied, err := database.RunMigrations(ctx, pool, migrations.FS, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed", slog.Int("applied", len(applied)))

	if reg != nil {
		if err := database.RegisterPoolMetrics(reg, pool, ServiceName); err != nil {
			pool.Close()
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
	}

	return &Store{Users: postgres.NewUserRepository(pool), Pool: pool}, nil
}

// OpenUserCache wraps users with the Redis user cache when cfg enables it.
// Anything that changes a user's disabled flag must write through the
// returned repository so the cached copy is evicted. The client is nil when
// caching is off; otherwise the caller closes it.
func OpenUserCache(ctx context.Context, cfg *config.Config, users repository.UserRepository, logger *slog.Logger) (repository.UserRepository, *redis.Client, error) {
	if !cfg.RedisEnabled {
		return users, nil, nil
	}

	redisCfg := database.DefaultRedisConfig()
	redisCfg.Addr = cfg.RedisAddr
	redisCfg.Password = cfg.RedisPass
	redisCfg.DB = cfg.RedisDB

	client, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("user cache enabled", slog.String("addr", cfg.RedisAddr), slog.Duration("ttl", cfg.CacheTTL))
	return cache.NewUserRepository(users, client, cfg.CacheTTL, logger), client, nil
}
