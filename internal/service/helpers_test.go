package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/domain"
)

const testSecret = "service-test-secret-that-is-long-enough"

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) List(ctx context.Context) ([]domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.User), args.Error(1)
}

func (m *mockUserRepository) SetDisabled(ctx context.Context, username string, disabled bool) error {
	args := m.Called(ctx, username, disabled)
	return args.Error(0)
}

// --- Mock Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockPublisher) PublishUserStatusChanged(ctx context.Context, username string, disabled bool) error {
	args := m.Called(ctx, username, disabled)
	return args.Error(0)
}

// --- Mock Password Hasher ---

type mockHasher struct {
	mock.Mock
}

func (m *mockHasher) Hash(plaintext string) (string, error) {
	args := m.Called(plaintext)
	return args.String(0), args.Error(1)
}

func (m *mockHasher) Verify(plaintext, hash string) bool {
	args := m.Called(plaintext, hash)
	return args.Bool(0)
}

// --- Fixtures ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHasher() *auth.BcryptHasher {
	return auth.NewBcryptHasher(bcrypt.MinCost)
}

func newTestCodec(t *testing.T, opts ...auth.CodecOption) *auth.TokenCodec {
	t.Helper()
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:     testSecret,
		Algorithm:  "HS256",
		Issuer:     "auth-service",
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, opts...)
	require.NoError(t, err)
	return codec
}

// hashedUser returns an enabled user whose password hash matches password.
func hashedUser(t *testing.T, username, password string) *domain.User {
	t.Helper()
	hash, err := testHasher().Hash(password)
	require.NoError(t, err)
	return &domain.User{
		ID:           1,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
