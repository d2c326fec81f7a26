package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/event"
	apperrors "github.com/utafrali/authservice/pkg/errors"
)

func newTestAuthService(t *testing.T, repo *mockUserRepository, pub *mockPublisher) *AuthService {
	t.Helper()
	var publisher event.Publisher
	if pub != nil {
		publisher = pub
	}
	return NewAuthService(repo, testHasher(), newTestCodec(t), publisher, testLogger())
}

// --- Register ---

func TestRegister_Success(t *testing.T) {
	repo := new(mockUserRepository)
	pub := new(mockPublisher)
	svc := newTestAuthService(t, repo, pub)
	ctx := context.Background()

	fullName := "Alice Liddell"
	repo.On("GetByUsername", ctx, "alice").Return(nil, apperrors.ErrNotFound)
	repo.On("Create", ctx, mock.AnythingOfType("*domain.User")).
		Run(func(args mock.Arguments) { args.Get(1).(*domain.User).ID = 5 }).
		Return(nil)
	pub.On("PublishUserRegistered", ctx, mock.AnythingOfType("*domain.User")).Return(nil)

	user, err := svc.Register(ctx, RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "wonderland",
		FullName: &fullName,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5), user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.False(t, user.Disabled)
	assert.NotEqual(t, "wonderland", user.PasswordHash)
	assert.True(t, strings.HasPrefix(user.PasswordHash, "$2a$"))
	assert.True(t, testHasher().Verify("wonderland", user.PasswordHash))
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "alice").Return(hashedUser(t, "alice", "first"), nil)

	_, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@example.com", Password: "second"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRegister_ConflictAtCreateKeepsStoreError(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "bob").Return(nil, apperrors.ErrNotFound)
	repo.On("Create", ctx, mock.Anything).Return(apperrors.AlreadyExists("user", "email"))

	_, err := svc.Register(ctx, RegisterInput{Username: "bob", Email: "taken@example.com", Password: "pw"})
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "email already registered", appErr.Message)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))
}

func TestRegister_BareConflictAtCreate(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "bob").Return(nil, apperrors.ErrNotFound)
	repo.On("Create", ctx, mock.Anything).Return(apperrors.ErrAlreadyExists)

	_, err := svc.Register(ctx, RegisterInput{Username: "bob", Email: "b@example.com", Password: "pw"})
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))
}

func TestRegister_StoreFailure(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "carol").Return(nil, errors.New("connection refused"))

	_, err := svc.Register(ctx, RegisterInput{Username: "carol", Email: "c@example.com", Password: "pw"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatus(err))
}

func TestRegister_MissingFields(t *testing.T) {
	svc := newTestAuthService(t, new(mockUserRepository), nil)

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"no username", RegisterInput{Email: "a@example.com", Password: "pw"}},
		{"no email", RegisterInput{Username: "a", Password: "pw"}},
		{"no password", RegisterInput{Username: "a", Email: "a@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.input)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
		})
	}
}

func TestRegister_PasswordTooLong(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()
	repo.On("GetByUsername", ctx, "dave").Return(nil, apperrors.ErrNotFound)

	_, err := svc.Register(ctx, RegisterInput{Username: "dave", Email: "d@example.com", Password: strings.Repeat("x", 73)})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRegister_PublishFailureIsNotFatal(t *testing.T) {
	repo := new(mockUserRepository)
	pub := new(mockPublisher)
	svc := newTestAuthService(t, repo, pub)
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "erin").Return(nil, apperrors.ErrNotFound)
	repo.On("Create", ctx, mock.Anything).Return(nil)
	pub.On("PublishUserRegistered", ctx, mock.Anything).Return(errors.New("broker down"))

	user, err := svc.Register(ctx, RegisterInput{Username: "erin", Email: "e@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "erin", user.Username)
}

// --- Authenticate ---

func TestAuthenticate_Success(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()

	stored := hashedUser(t, "alice", "wonderland")
	repo.On("GetByUsername", ctx, "alice").Return(stored, nil)

	user, err := svc.Authenticate(ctx, "alice", "wonderland")
	require.NoError(t, err)
	assert.Same(t, stored, user)
}

func TestAuthenticate_UnknownUserAndWrongPasswordAreIndistinguishable(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "alice").Return(hashedUser(t, "alice", "wonderland"), nil)
	repo.On("GetByUsername", ctx, "ghost").Return(nil, apperrors.ErrNotFound)

	_, wrongPassword := svc.Authenticate(ctx, "alice", "looking-glass")
	_, unknownUser := svc.Authenticate(ctx, "ghost", "wonderland")

	require.Error(t, wrongPassword)
	require.Error(t, unknownUser)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
	assert.True(t, errors.Is(wrongPassword, apperrors.ErrInvalidCredentials))
	assert.True(t, errors.Is(unknownUser, apperrors.ErrInvalidCredentials))
	assert.Equal(t, http.StatusUnauthorized, apperrors.HTTPStatus(unknownUser))
}

func TestAuthenticate_UnknownUserComparesEvenWhenDecoyHashFails(t *testing.T) {
	repo := new(mockUserRepository)
	hasher := new(mockHasher)
	svc := NewAuthService(repo, hasher, newTestCodec(t), nil, testLogger())
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "ghost").Return(nil, apperrors.ErrNotFound)
	hasher.On("Hash", "decoy-password").Return("", errors.New("entropy source unavailable")).Once()
	hasher.On("Verify", "wonderland", fallbackDecoyHash).Return(false).Once()

	_, err := svc.Authenticate(ctx, "ghost", "wonderland")
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	hasher.On("Hash", "decoy-password").Return("$2a$04$decoy", nil).Once()
	hasher.On("Verify", "wonderland", "$2a$04$decoy").Return(false).Twice()

	for range 2 {
		_, err = svc.Authenticate(ctx, "ghost", "wonderland")
		assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	}

	hasher.AssertExpectations(t)
	hasher.AssertNumberOfCalls(t, "Hash", 2)
}

func TestAuthenticate_StoreFailureIsNotInvalidCredentials(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "alice").Return(nil, errors.New("timeout"))

	_, err := svc.Authenticate(ctx, "alice", "wonderland")
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.False(t, errors.Is(err, apperrors.ErrInvalidCredentials))
}

func TestAuthenticate_DisabledUserStillAuthenticates(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()

	stored := hashedUser(t, "frank", "pw")
	stored.Disabled = true
	repo.On("GetByUsername", ctx, "frank").Return(stored, nil)

	user, err := svc.Authenticate(ctx, "frank", "pw")
	require.NoError(t, err)
	assert.True(t, user.Disabled)
}

// --- Tokens ---

func TestIssueTokenPair(t *testing.T) {
	codec := newTestCodec(t)
	svc := NewAuthService(new(mockUserRepository), testHasher(), codec, nil, testLogger())

	pair, err := svc.IssueTokenPair(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, domain.TokenTypeBearer, pair.TokenType)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	sub, err := codec.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
	sub, err = codec.Parse(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()
	repo.On("GetByUsername", ctx, "alice").Return(hashedUser(t, "alice", "wonderland"), nil)

	pair, err := svc.Login(ctx, "alice", "nope")
	assert.Nil(t, pair)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidCredentials))
}

func TestRefresh_EchoesRefreshToken(t *testing.T) {
	repo := new(mockUserRepository)
	codec := newTestCodec(t)
	svc := NewAuthService(repo, testHasher(), codec, nil, testLogger())
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "alice").Return(hashedUser(t, "alice", "pw"), nil)
	refresh, err := codec.IssueRefresh("alice")
	require.NoError(t, err)

	pair, err := svc.Refresh(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, refresh, pair.RefreshToken)
	assert.NotEqual(t, refresh, pair.AccessToken)
	assert.Equal(t, domain.TokenTypeBearer, pair.TokenType)

	sub, err := codec.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestRefresh_AcceptsAccessToken(t *testing.T) {
	repo := new(mockUserRepository)
	codec := newTestCodec(t)
	svc := NewAuthService(repo, testHasher(), codec, nil, testLogger())
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "alice").Return(hashedUser(t, "alice", "pw"), nil)
	access, err := codec.IssueAccess("alice")
	require.NoError(t, err)

	pair, err := svc.Refresh(ctx, access)
	require.NoError(t, err)
	assert.Equal(t, access, pair.RefreshToken)
}

func TestRefresh_InvalidTokens(t *testing.T) {
	repo := new(mockUserRepository)
	codec := newTestCodec(t)
	svc := NewAuthService(repo, testHasher(), codec, nil, testLogger())
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "ghost").Return(nil, apperrors.ErrNotFound)
	ghostToken, err := codec.IssueRefresh("ghost")
	require.NoError(t, err)

	expired, err := codec.Issue("alice", 0)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"empty", ""},
		{"expired", expired},
		{"unknown subject", ghostToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := svc.Refresh(ctx, tt.token)
			assert.Nil(t, pair)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidToken))
			assert.Equal(t, http.StatusUnauthorized, apperrors.HTTPStatus(err))
		})
	}
}

func TestRefresh_StoreFailure(t *testing.T) {
	repo := new(mockUserRepository)
	codec := newTestCodec(t)
	svc := NewAuthService(repo, testHasher(), codec, nil, testLogger())
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "alice").Return(nil, errors.New("pool closed"))
	token, err := codec.IssueRefresh("alice")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, token)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
}

// --- Listing and operator actions ---

func TestListUsers(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()

	repo.On("List", ctx).Return([]domain.User{*hashedUser(t, "a", "pw"), *hashedUser(t, "b", "pw")}, nil)

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a", users[0].Username)
}

func TestListUsers_Empty(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	repo.On("List", mock.Anything).Return([]domain.User{}, nil)

	users, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestSetDisabled(t *testing.T) {
	repo := new(mockUserRepository)
	pub := new(mockPublisher)
	svc := newTestAuthService(t, repo, pub)
	ctx := context.Background()

	repo.On("SetDisabled", ctx, "alice", true).Return(nil)
	pub.On("PublishUserStatusChanged", ctx, "alice", true).Return(nil)

	require.NoError(t, svc.SetDisabled(ctx, "alice", true))
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestSetDisabled_UnknownUser(t *testing.T) {
	repo := new(mockUserRepository)
	svc := newTestAuthService(t, repo, nil)
	ctx := context.Background()

	repo.On("SetDisabled", ctx, "ghost", true).Return(apperrors.ErrNotFound)

	err := svc.SetDisabled(ctx, "ghost", true)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Contains(t, err.Error(), "ghost")
}
