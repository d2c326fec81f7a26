package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/httputil"
	"github.com/utafrali/authservice/pkg/logger"
)

type contextKeyType string

const principalKey contextKeyType = "principal"

// Authenticator validates a bearer token. It returns the subject used for
// logging and tracing, and the principal stored in the request context.
type Authenticator func(ctx context.Context, token string) (subject string, principal any, err error)

// Auth rejects requests without a valid bearer token. Errors returned by
// authenticate are written as-is through httputil.WriteError, so an
// authenticator can answer with any status, not only 401.
func Auth(authenticate Authenticator, fallback *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				httputil.WriteError(w, r, apperrors.Unauthorized("not authenticated"), fallback)
				return
			}

			subject, principal, err := authenticate(r.Context(), token)
			if err != nil {
				httputil.WriteError(w, r, err, fallback)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			ctx = logger.WithSubject(ctx, subject)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("subject", subject)))
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("enduser.id", subject))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

// PrincipalFromContext returns the value stored by Auth, or nil.
func PrincipalFromContext(ctx context.Context) any {
	return ctx.Value(principalKey)
}
