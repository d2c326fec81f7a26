package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/event"
	"github.com/utafrali/authservice/internal/repository"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/tracing"
)

var tracer = tracing.Tracer("authservice/service")

// Demo account created when SEED_DEMO_USER is enabled.
const (
	DemoUsername = "johndoe"
	DemoEmail    = "johndoe@example.com"
	DemoFullName = "John Doe"
	DemoPassword = "secret"
)

// AuthService implements registration, credential checks and token issuance.
type AuthService struct {
	users     repository.UserRepository
	hasher    auth.PasswordHasher
	codec     *auth.TokenCodec
	publisher event.Publisher
	logger    *slog.Logger

	decoyMu sync.Mutex
	decoy   string
}

// NewAuthService creates a new auth service. A nil publisher disables events.
func NewAuthService(
	users repository.UserRepository,
	hasher auth.PasswordHasher,
	codec *auth.TokenCodec,
	publisher event.Publisher,
	logger *slog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = event.NoopPublisher{}
	}
	return &AuthService{
		users:     users,
		hasher:    hasher,
		codec:     codec,
		publisher: publisher,
		logger:    logger,
	}
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName *string
}

// Register creates a new, enabled account. A taken username or email yields
// an AlreadyExists error and leaves the existing record untouched.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if input.Username == "" {
		return nil, apperrors.InvalidInput("username is required")
	}
	if input.Email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, apperrors.InvalidInput("password is required")
	}

	_, err := s.users.GetByUsername(ctx, input.Username)
	switch {
	case err == nil:
		registrations.WithLabelValues(resultConflict).Inc()
		return nil, apperrors.AlreadyExists("user", "username")
	case !errors.Is(err, apperrors.ErrNotFound):
		registrations.WithLabelValues(resultError).Inc()
		return nil, apperrors.StoreUnavailable(err)
	}

	_, span := tracer.Start(ctx, "password.hash")
	hash, err := s.hasher.Hash(input.Password)
	span.End()
	if err != nil {
		registrations.WithLabelValues(resultError).Inc()
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, apperrors.InvalidInput("password must be at most 72 bytes")
		}
		return nil, apperrors.Internal(err)
	}

	user := &domain.User{
		Username:     input.Username,
		Email:        input.Email,
		FullName:     input.FullName,
		PasswordHash: hash,
	}

	// The store re-checks uniqueness, which covers a concurrent registration
	// slipping in between the lookup above and this insert.
	if err := s.users.Create(ctx, user); err != nil {
		var appErr *apperrors.AppError
		switch {
		case errors.As(err, &appErr) && errors.Is(err, apperrors.ErrAlreadyExists):
			registrations.WithLabelValues(resultConflict).Inc()
			return nil, appErr
		case errors.Is(err, apperrors.ErrAlreadyExists):
			registrations.WithLabelValues(resultConflict).Inc()
			return nil, apperrors.AlreadyExists("user", "username")
		default:
			registrations.WithLabelValues(resultError).Inc()
			return nil, apperrors.StoreUnavailable(err)
		}
	}
	registrations.WithLabelValues(resultSuccess).Inc()

	if err := s.publisher.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("username", user.Username),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, nil
}

// Authenticate checks a username and password. An unknown username and a
// wrong password return the same InvalidCredentials error. Disabled accounts
// authenticate normally; they are rejected when their token is used.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Burn a comparison so unknown usernames cost the same as known ones.
			s.verify(ctx, password, s.decoyHash())
			loginAttempts.WithLabelValues(resultFailure).Inc()
			return nil, apperrors.InvalidCredentials()
		}
		loginAttempts.WithLabelValues(resultError).Inc()
		return nil, apperrors.StoreUnavailable(err)
	}

	if !s.verify(ctx, password, user.PasswordHash) {
		loginAttempts.WithLabelValues(resultFailure).Inc()
		s.logger.InfoContext(ctx, "rejected credentials", slog.String("username", username))
		return nil, apperrors.InvalidCredentials()
	}

	loginAttempts.WithLabelValues(resultSuccess).Inc()
	return user, nil
}

// verify runs the hash comparison inside a span that records only whether
// the password matched.
func (s *AuthService) verify(ctx context.Context, password, hash string) bool {
	_, span := tracer.Start(ctx, "password.verify")
	defer span.End()

	ok := s.hasher.Verify(password, hash)
	span.SetAttributes(attribute.Bool("auth.password.match", ok))
	return ok
}

// IssueTokenPair mints an access and a refresh token for username.
func (s *AuthService) IssueTokenPair(_ context.Context, username string) (*domain.TokenPair, error) {
	access, err := s.codec.IssueAccess(username)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("issue access token: %w", err))
	}
	tokensIssued.WithLabelValues(tokenKindAccess).Inc()

	refresh, err := s.codec.IssueRefresh(username)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("issue refresh token: %w", err))
	}
	tokensIssued.WithLabelValues(tokenKindRefresh).Inc()

	return &domain.TokenPair{
		AccessToken:  access,
		TokenType:    domain.TokenTypeBearer,
		RefreshToken: refresh,
	}, nil
}

// Login authenticates the credentials and issues a token pair.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.TokenPair, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	tokens, err := s.IssueTokenPair(ctx, user.Username)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("username", user.Username))
	return tokens, nil
}

// Refresh exchanges a valid token for a new access token. The presented
// token is returned unchanged as the refresh token; it is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	subject, err := s.codec.Parse(refreshToken)
	if err != nil {
		s.logger.DebugContext(ctx, "refresh token rejected", slog.String("error", err.Error()))
		return nil, apperrors.InvalidToken()
	}

	user, err := s.users.GetByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.InvalidToken()
		}
		return nil, apperrors.StoreUnavailable(err)
	}

	access, err := s.codec.IssueAccess(user.Username)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("issue access token: %w", err))
	}
	tokensIssued.WithLabelValues(tokenKindAccess).Inc()

	return &domain.TokenPair{
		AccessToken:  access,
		TokenType:    domain.TokenTypeBearer,
		RefreshToken: refreshToken,
	}, nil
}

// ListUsers returns the public view of every account.
func (s *AuthService) ListUsers(ctx context.Context) ([]domain.PublicUser, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return domain.PublicUsers(users), nil
}

// SetDisabled enables or disables an account. Existing tokens for a disabled
// account stop working at their next use.
func (s *AuthService) SetDisabled(ctx context.Context, username string, disabled bool) error {
	if err := s.users.SetDisabled(ctx, username, disabled); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("user", username)
		}
		return apperrors.StoreUnavailable(err)
	}

	if err := s.publisher.PublishUserStatusChanged(ctx, username, disabled); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.status_changed event",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user status changed",
		slog.String("username", username),
		slog.Bool("disabled", disabled),
	)
	return nil
}

// SeedDemoUser registers the demo account if it does not exist yet.
func (s *AuthService) SeedDemoUser(ctx context.Context) error {
	fullName := DemoFullName
	_, err := s.Register(ctx, RegisterInput{
		Username: DemoUsername,
		Email:    DemoEmail,
		Password: DemoPassword,
		FullName: &fullName,
	})
	if err != nil && !errors.Is(err, apperrors.ErrAlreadyExists) {
		return fmt.Errorf("seed demo user: %w", err)
	}
	return nil
}

// fallbackDecoyHash is a well-formed bcrypt hash used while the hasher
// cannot produce a decoy. Authenticate ignores the comparison result.
const fallbackDecoyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// decoyHash returns a hash for unknown-user comparisons. A failed attempt is
// retried on the next call; meanwhile the fallback keeps the comparison in place.
func (s *AuthService) decoyHash() string {
	s.decoyMu.Lock()
	defer s.decoyMu.Unlock()
	if s.decoy != "" {
		return s.decoy
	}
	h, err := s.hasher.Hash("decoy-password")
	if err != nil {
		s.logger.Warn("failed to prepare decoy hash", slog.String("error", err.Error()))
		return fallbackDecoyHash
	}
	s.decoy = h
	return s.decoy
}
