package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/domain"
	apperrors "github.com/utafrali/authservice/pkg/errors"
)

func TestResolveCurrentUser_Success(t *testing.T) {
	repo := new(mockUserRepository)
	codec := newTestCodec(t)
	v := NewSessionValidator(repo, codec, testLogger())
	ctx := context.Background()

	stored := hashedUser(t, "alice", "pw")
	repo.On("GetByUsername", ctx, "alice").Return(stored, nil)
	token, err := codec.IssueAccess("alice")
	require.NoError(t, err)

	user, err := v.ResolveCurrentUser(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestResolveCurrentUser_Unauthorized(t *testing.T) {
	repo := new(mockUserRepository)
	codec := newTestCodec(t)
	v := NewSessionValidator(repo, codec, testLogger())
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "ghost").Return(nil, apperrors.ErrNotFound)
	ghost, err := codec.IssueAccess("ghost")
	require.NoError(t, err)

	other, err := auth.NewTokenCodec(auth.TokenConfig{Secret: "a-completely-different-signing-secret", Issuer: "auth-service"})
	require.NoError(t, err)
	foreign, err := other.IssueAccess("alice")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "abc.def.ghi"},
		{"foreign signature", foreign},
		{"deleted subject", ghost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ResolveCurrentUser(ctx, tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
			assert.Equal(t, http.StatusUnauthorized, apperrors.HTTPStatus(err))
		})
	}
}

func TestResolveCurrentUser_ExpiredWithSimulatedClock(t *testing.T) {
	repo := new(mockUserRepository)
	clock := &fakeClock{now: time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, auth.WithClock(clock.Now))
	v := NewSessionValidator(repo, codec, testLogger())
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "alice").Return(hashedUser(t, "alice", "pw"), nil)
	token, err := codec.IssueAccess("alice")
	require.NoError(t, err)

	clock.Advance(29 * time.Minute)
	_, err = v.ResolveCurrentUser(ctx, token)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = v.ResolveCurrentUser(ctx, token)
	assert.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestResolveCurrentUser_StoreFailure(t *testing.T) {
	repo := new(mockUserRepository)
	codec := newTestCodec(t)
	v := NewSessionValidator(repo, codec, testLogger())
	ctx := context.Background()

	repo.On("GetByUsername", ctx, "alice").Return(nil, errors.New("connection reset"))
	token, err := codec.IssueAccess("alice")
	require.NoError(t, err)

	_, err = v.ResolveCurrentUser(ctx, token)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.False(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestRequireActive(t *testing.T) {
	v := NewSessionValidator(new(mockUserRepository), newTestCodec(t), testLogger())

	active := &domain.User{Username: "alice"}
	got, err := v.RequireActive(active)
	require.NoError(t, err)
	assert.Same(t, active, got)

	_, err = v.RequireActive(&domain.User{Username: "bob", Disabled: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	assert.False(t, errors.Is(err, apperrors.ErrUnauthorized))
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
	assert.Contains(t, err.Error(), "inactive user")
}

func TestCurrentActiveUser_DisabledIsForbiddenNotUnauthorized(t *testing.T) {
	repo := new(mockUserRepository)
	codec := newTestCodec(t)
	v := NewSessionValidator(repo, codec, testLogger())
	ctx := context.Background()

	disabled := hashedUser(t, "bob", "pw")
	disabled.Disabled = true
	repo.On("GetByUsername", ctx, "bob").Return(disabled, nil)

	token, err := codec.IssueAccess("bob")
	require.NoError(t, err)

	_, err = v.CurrentActiveUser(ctx, token)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
	assert.False(t, errors.Is(err, apperrors.ErrUnauthorized))
}
