package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the Redis instance backing the user cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout time.Duration
	// IOTimeout bounds every read and write. Cache lookups sit on the login
	// path, so it is kept well below the HTTP timeouts.
	IOTimeout time.Duration
	PoolSize  int
}

// DefaultRedisConfig returns the settings used when only the address is known.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
		IOTimeout:   500 * time.Millisecond,
		PoolSize:    20,
	}
}

// Options converts c into go-redis client options.
func (c RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.IOTimeout,
		WriteTimeout: c.IOTimeout,
		PoolSize:     c.PoolSize,
	}
}

// NewRedisClient connects and pings. On a failed ping the client is closed
// and an error naming the address is returned.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(cfg.Options())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
