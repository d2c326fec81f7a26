package repository

import (
	"context"

	"github.com/utafrali/authservice/internal/domain"
)

// UserRepository is the credential store. Implementations enforce username
// and email uniqueness themselves; callers must not rely on a lookup before
// Create to guarantee it.
type UserRepository interface {
	// GetByUsername retrieves a user by username. Returns an error wrapping
	// apperrors.ErrNotFound when no record matches.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// Create inserts a new user and fills in its ID and CreatedAt. Returns an
	// error wrapping apperrors.ErrAlreadyExists if the username or email is taken.
	Create(ctx context.Context, user *domain.User) error

	// List returns every user ordered by creation.
	List(ctx context.Context) ([]domain.User, error)

	// SetDisabled toggles the disabled flag. Returns an error wrapping
	// apperrors.ErrNotFound when the username is unknown.
	SetDisabled(ctx context.Context, username string, disabled bool) error
}
