package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

var (
	corsMethods        = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsHeaders        = []string{"Accept", "Authorization", "Content-Type", CorrelationIDHeader}
	corsExposedHeaders = []string{CorrelationIDHeader, "WWW-Authenticate"}
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowedOrigins is the list of allowed origins (e.g. "https://example.com").
	// "*" allows every origin.
	AllowedOrigins []string

	// MaxAge is how long (in seconds) preflight results can be cached.
	// Defaults to 3600 if 0.
	MaxAge int

	// AllowCredentials lets browsers send cookies and Authorization headers
	// cross-origin. With a wildcard origin the request origin is reflected
	// instead of "*", as browsers reject credentials with a literal wildcard.
	AllowCredentials bool

	// Environment enables the wildcard origin when set to "development".
	Environment string
}

// CORS returns middleware that answers preflight requests and sets
// Cross-Origin Resource Sharing headers for the auth API.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 3600
	}

	allowWildcard := cfg.Environment == "development"
	originSet := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowWildcard = true
			continue
		}
		originSet[strings.TrimRight(o, "/")] = struct{}{}
	}

	methods := strings.Join(corsMethods, ", ")
	headers := strings.Join(corsHeaders, ", ")
	exposed := strings.Join(corsExposedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, listed := originSet[origin]

			switch {
			case allowWildcard && cfg.AllowCredentials && origin != "":
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			case allowWildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && listed:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Expose-Headers", exposed)
			w.Header().Set("Access-Control-Max-Age", maxAge)

			if cfg.AllowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
