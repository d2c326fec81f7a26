// Package cache decorates a credential store with a Redis read-through cache
// for username lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/pkg/breaker"
)

const keyPrefix = "auth:user:"

// errMiss marks a cache miss inside the breaker. It is not a failure.
var errMiss = errors.New("cache miss")

// cachedUser is the Redis representation. It keeps the password hash, which
// domain.User hides from JSON.
type cachedUser struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     *string   `json:"full_name,omitempty"`
	Disabled     bool      `json:"disabled"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func toCached(u *domain.User) cachedUser {
	return cachedUser{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		FullName:     u.FullName,
		Disabled:     u.Disabled,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func (c cachedUser) toDomain() *domain.User {
	return &domain.User{
		ID:           c.ID,
		Username:     c.Username,
		Email:        c.Email,
		FullName:     c.FullName,
		Disabled:     c.Disabled,
		PasswordHash: c.PasswordHash,
		CreatedAt:    c.CreatedAt,
	}
}

// versionTTL bounds how long an eviction marker outlives the entry it guards.
const versionTTL = 24 * time.Hour

// fillScript writes KEYS[1] only while the version in KEYS[2] still equals
// the one read before the store lookup. A SetDisabled that bumps the
// version in between makes the fill a no-op.
var fillScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or ''
if current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

func versionKey(username string) string {
	return keyPrefix + username + ":version"
}

// lookup is what one cache read returns: the entry, if any, and the version
// it was read under.
type lookup struct {
	data    []byte
	version string
}

// UserRepository caches GetByUsername results from the wrapped store. Redis
// errors never fail a request: the breaker opens after repeated failures and
// lookups go straight to the store until it recovers.
type UserRepository struct {
	next    repository.UserRepository
	client  redis.Cmdable
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[lookup]
	logger  *slog.Logger
}

// NewUserRepository wraps next with a cache stored in client.
func NewUserRepository(next repository.UserRepository, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *UserRepository {
	cfg := breaker.DefaultConfig("redis-user-cache")
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, errMiss)
	}
	return &UserRepository{
		next:    next,
		client:  client,
		ttl:     ttl,
		breaker: breaker.New[lookup](cfg, logger),
		logger:  logger,
	}
}

// GetByUsername serves from cache when possible and fills it on a miss.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	key := keyPrefix + username

	found, err := r.breaker.Execute(func() (lookup, error) {
		vals, err := r.client.MGet(ctx, key, versionKey(username)).Result()
		if err != nil {
			return lookup{}, err
		}
		var l lookup
		if v, ok := vals[1].(string); ok {
			l.version = v
		}
		data, ok := vals[0].(string)
		if !ok {
			return l, errMiss
		}
		l.data = []byte(data)
		return l, nil
	})
	cacheable := true
	switch {
	case err == nil:
		var cu cachedUser
		if err := json.Unmarshal(found.data, &cu); err == nil {
			cacheLookups.WithLabelValues("hit").Inc()
			return cu.toDomain(), nil
		}
		r.logger.WarnContext(ctx, "discarding undecodable cache entry", slog.String("key", key))
		cacheLookups.WithLabelValues("error").Inc()
	case errors.Is(err, errMiss):
		cacheLookups.WithLabelValues("miss").Inc()
	default:
		r.logger.WarnContext(ctx, "user cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		cacheLookups.WithLabelValues("error").Inc()
		// Without a version there is nothing to guard the fill with.
		cacheable = false
	}

	u, err := r.next.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if cacheable {
		r.fill(ctx, username, found.version, u)
	}
	return u, nil
}

// Create writes through to the store. Nothing is cached until the first lookup.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	return r.next.Create(ctx, u)
}

// List always reads from the store.
func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	return r.next.List(ctx)
}

// SetDisabled updates the store, then bumps the entry version and evicts it.
// The store is the source of truth: once it has committed, an eviction
// failure is logged and the call still succeeds.
func (r *UserRepository) SetDisabled(ctx context.Context, username string, disabled bool) error {
	if err := r.next.SetDisabled(ctx, username, disabled); err != nil {
		return err
	}

	key := keyPrefix + username
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(username))
		pipe.Expire(ctx, versionKey(username), versionTTL)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		cacheEvictionFailures.Inc()
		r.logger.ErrorContext(ctx, "evict cached user; entry may be stale until it expires",
			slog.String("key", key),
			slog.Duration("ttl", r.ttl),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (r *UserRepository) fill(ctx context.Context, username, version string, u *domain.User) {
	key := keyPrefix + username
	data, err := json.Marshal(toCached(u))
	if err != nil {
		r.logger.WarnContext(ctx, "marshal cached user", slog.String("error", err.Error()))
		return
	}
	_, err = r.breaker.Execute(func() (lookup, error) {
		err := fillScript.Run(ctx, r.client,
			[]string{key, versionKey(username)},
			version, data, r.ttl.Milliseconds(),
		).Err()
		return lookup{}, err
	})
	if err != nil {
		r.logger.WarnContext(ctx, "user cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
