// Package memory provides an in-process credential store for development and
// tests. Data is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/utafrali/authservice/internal/domain"
	apperrors "github.com/utafrali/authservice/pkg/errors"
)

// UserRepository implements repository.UserRepository with maps guarded by
// a single RWMutex. Uniqueness checks and inserts happen under the write lock.
type UserRepository struct {
	mu         sync.RWMutex
	byUsername map[string]*domain.User
	emails     map[string]struct{}
	nextID     int64
	now        func() time.Time
}

// NewUserRepository returns an empty in-memory store.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byUsername: make(map[string]*domain.User),
		emails:     make(map[string]struct{}),
		now:        time.Now,
	}
}

// GetByUsername returns a copy of the stored user.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byUsername[username]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(u), nil
}

// Create stores a copy of u and assigns its ID and CreatedAt.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUsername[u.Username]; ok {
		return apperrors.AlreadyExists("user", "username")
	}
	if _, ok := r.emails[u.Email]; ok {
		return apperrors.AlreadyExists("user", "email")
	}

	r.nextID++
	u.ID = r.nextID
	u.CreatedAt = r.now().UTC()

	r.byUsername[u.Username] = clone(u)
	r.emails[u.Email] = struct{}{}
	return nil
}

// List returns copies of all users ordered by ID.
func (r *UserRepository) List(ctx context.Context) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	users := make([]domain.User, 0, len(r.byUsername))
	for _, u := range r.byUsername {
		users = append(users, *clone(u))
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// SetDisabled toggles the disabled flag.
func (r *UserRepository) SetDisabled(ctx context.Context, username string, disabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byUsername[username]
	if !ok {
		return apperrors.NotFound("user", username)
	}
	u.Disabled = disabled
	return nil
}

func clone(u *domain.User) *domain.User {
	c := *u
	if u.FullName != nil {
		name := *u.FullName
		c.FullName = &name
	}
	return &c
}
