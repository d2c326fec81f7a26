package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/repository"
	apperrors "github.com/utafrali/authservice/pkg/errors"
)

const unauthorizedMessage = "could not validate credentials"

// SessionValidator turns a bearer token into the user it was issued to.
type SessionValidator struct {
	users  repository.UserRepository
	codec  *auth.TokenCodec
	logger *slog.Logger
}

// NewSessionValidator creates a new session validator.
func NewSessionValidator(users repository.UserRepository, codec *auth.TokenCodec, logger *slog.Logger) *SessionValidator {
	return &SessionValidator{users: users, codec: codec, logger: logger}
}

// ResolveCurrentUser returns the user named by the token subject. Any token
// problem, or a subject that no longer exists, is Unauthorized.
func (v *SessionValidator) ResolveCurrentUser(ctx context.Context, token string) (*domain.User, error) {
	subject, err := v.codec.Parse(token)
	if err != nil {
		v.logger.DebugContext(ctx, "bearer token rejected", slog.String("error", err.Error()))
		return nil, apperrors.Unauthorized(unauthorizedMessage)
	}

	user, err := v.users.GetByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized(unauthorizedMessage)
		}
		return nil, apperrors.StoreUnavailable(err)
	}
	return user, nil
}

// RequireActive rejects disabled accounts with the inactive-user Forbidden error.
func (v *SessionValidator) RequireActive(user *domain.User) (*domain.User, error) {
	if user.Disabled {
		return nil, apperrors.InactiveUser()
	}
	return user, nil
}

// CurrentActiveUser resolves the token and requires the account to be active.
func (v *SessionValidator) CurrentActiveUser(ctx context.Context, token string) (*domain.User, error) {
	user, err := v.ResolveCurrentUser(ctx, token)
	if err != nil {
		return nil, err
	}
	return v.RequireActive(user)
}
