package http

import (
	"context"
	"mime"
	"net/http"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/service"
	"github.com/utafrali/authservice/pkg/httputil"
	"github.com/utafrali/authservice/pkg/middleware"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// RequireContentType rejects request bodies whose media type is not one of
// allowed. Requests without a Content-Type header pass through and are
// decoded as JSON.
func RequireContentType(allowed ...string) func(http.Handler) http.Handler {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ct := r.Header.Get("Content-Type")
			if ct != "" {
				mediaType, _, err := mime.ParseMediaType(ct)
				if _, ok := set[mediaType]; err != nil || !ok {
					httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
						Error: &httputil.ErrorResponse{
							Code:    "UNSUPPORTED_MEDIA_TYPE",
							Message: "unsupported Content-Type " + ct,
						},
					})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sessionAuthenticator adapts the session validator to the bearer middleware.
// Only active users get through; a disabled account yields the inactive-user error.
func sessionAuthenticator(sessions *service.SessionValidator) middleware.Authenticator {
	return func(ctx context.Context, token string) (string, any, error) {
		user, err := sessions.CurrentActiveUser(ctx, token)
		if err != nil {
			return "", nil, err
		}
		return user.Username, user, nil
	}
}

// currentUser returns the user stored by the auth middleware.
func currentUser(r *http.Request) (*domain.User, bool) {
	user, ok := middleware.PrincipalFromContext(r.Context()).(*domain.User)
	return user, ok && user != nil
}
