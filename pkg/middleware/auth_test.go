package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/logger"
)

type testPrincipal struct{ name string }

func staticAuthenticator(valid string) Authenticator {
	return func(_ context.Context, token string) (string, any, error) {
		if token != valid {
			return "", nil, apperrors.Unauthorized("could not validate credentials")
		}
		return "alice", &testPrincipal{name: "alice"}, nil
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		token  string
		ok     bool
	}{
		{"missing", "", "", false},
		{"bearer", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"lowercase scheme", "bearer tok", "tok", true},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", false},
		{"no token", "Bearer ", "", false},
		{"no separator", "Bearertok", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			token, ok := BearerToken(req)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.token, token)
		})
	}
}

func TestAuth_ValidTokenStoresPrincipalAndSubject(t *testing.T) {
	var (
		gotPrincipal any
		gotSubject   string
	)
	handler := Auth(staticAuthenticator("good"), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal = PrincipalFromContext(r.Context())
		gotSubject = logger.SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.IsType(t, &testPrincipal{}, gotPrincipal)
	assert.Equal(t, "alice", gotPrincipal.(*testPrincipal).name)
	assert.Equal(t, "alice", gotSubject)
}

func TestAuth_ContextLoggerGainsSubject(t *testing.T) {
	var buf bytes.Buffer
	base := logger.NewWithWriter("test-svc", "info", &buf)

	inner := Auth(staticAuthenticator("good"), base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("inside")
	}))
	handler := ContextLogger(base)(inner)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "alice", out["subject"])
}

func TestAuth_MissingHeaderIsChallenged(t *testing.T) {
	called := false
	handler := Auth(staticAuthenticator("good"), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
}

func TestAuth_RejectedTokenIsChallenged(t *testing.T) {
	handler := Auth(staticAuthenticator("good"), discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
}

func TestAuth_AuthenticatorStatusIsPreserved(t *testing.T) {
	inactive := func(context.Context, string) (string, any, error) {
		return "", nil, apperrors.InactiveUser()
	}
	handler := Auth(inactive, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer any")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, rr.Header().Get("WWW-Authenticate"))
	assert.Contains(t, rr.Body.String(), "inactive user")
}

func TestAuth_InfrastructureErrorIsGeneric500(t *testing.T) {
	broken := func(context.Context, string) (string, any, error) {
		return "", nil, apperrors.StoreUnavailable(errors.New("dial tcp 10.0.0.9:5432"))
	}
	handler := Auth(broken, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer any")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "10.0.0.9")
}
