package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/authservice/internal/service"
	"github.com/utafrali/authservice/pkg/health"
	"github.com/utafrali/authservice/pkg/middleware"
)

// ServiceName labels metrics and spans produced by the HTTP layer.
const ServiceName = "auth"

// RouterConfig carries everything NewRouter wires together.
type RouterConfig struct {
	Auth     *service.AuthService
	Sessions *service.SessionValidator
	Health   *health.Handler
	Logger   *slog.Logger
	CORS     middleware.CORSConfig

	// PprofAllowedCIDRs enables /debug/pprof for the listed networks. Empty
	// leaves the routes unregistered.
	PprofAllowedCIDRs []string

	// Registry receives the HTTP collectors. /metrics serves it together
	// with the default registry. A private registry is created when nil.
	Registry *prometheus.Registry
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.ContextLogger(cfg.Logger))
	r.Use(middleware.NewHTTPMetrics(cfg.Registry, ServiceName).Middleware)

	r.Get("/", Index)

	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{cfg.Registry, prometheus.DefaultGatherer}, promhttp.HandlerOpts{}))

	if len(cfg.PprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, cfg.Logger)
	}

	authHandler := NewAuthHandler(cfg.Auth, cfg.Logger)
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(RequireContentType(contentTypeJSON)).Post("/register", authHandler.Register)
		r.With(RequireContentType(contentTypeForm, contentTypeJSON)).Post("/token", authHandler.Token)
		r.With(RequireContentType(contentTypeJSON)).Post("/refresh", authHandler.Refresh)
	})

	userHandler := NewUserHandler(cfg.Auth, cfg.Logger)
	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(middleware.Auth(sessionAuthenticator(cfg.Sessions), cfg.Logger))

		r.Get("/", userHandler.List)
		r.Get("/me", userHandler.Me)
	})

	return r
}
