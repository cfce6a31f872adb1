package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/authsession/pkg/health"
	"github.com/utafrali/authsession/pkg/middleware"
	"github.com/utafrali/authsession/services/auth/internal/service"
)

// Rate limit rejection messages.
const (
	MsgTooManyRequests      = "Too many requests. Please try again later."
	MsgTooManyLogins        = "Too many login attempts. Please try again later."
	MsgTooManyRegistrations = "Only one registration per hour is allowed from this device."
)

// RateLimit is Limit requests per Window.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	ServiceName    string
	Environment    string
	AllowedOrigins []string
	Cookies        CookieConfig
	HSTS           bool

	GlobalLimit   RateLimit
	LoginLimit    RateLimit
	RegisterLimit RateLimit
}

// Router is the auth service HTTP handler. Close releases the rate limiters.
type Router struct {
	http.Handler
	limiters []*middleware.RateLimiter
}

// Close stops background work owned by the router.
func (rt *Router) Close() {
	for _, l := range rt.limiters {
		l.Close()
	}
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	sessions *service.SessionService,
	healthHandler *health.Handler,
	registry *prometheus.Registry,
	logger *slog.Logger,
	cfg RouterConfig,
) *Router {
	r := chi.NewRouter()
	rt := &Router{Handler: r}

	newLimiter := func(name string, l RateLimit, msg string, key middleware.KeyFunc, skipFailed bool) func(http.Handler) http.Handler {
		limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			Name:               name,
			Limit:              l.Limit,
			Window:             l.Window,
			Message:            msg,
			KeyFunc:            key,
			SkipFailedRequests: skipFailed,
		}, logger)
		rt.limiters = append(rt.limiters, limiter)
		return limiter.Middleware
	}

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.NewHTTPMetrics(registry).Middleware(cfg.ServiceName))
	r.Use(middleware.SecurityHeaders(cfg.HSTS))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowedOrigins...)))

	// Probes and metrics sit outside the global limiter.
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	authHandler := NewAuthHandler(sessions, cfg.Cookies, logger)
	validate := func(token string) (*middleware.Identity, error) {
		claims, err := sessions.VerifyAccess(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Identity{
			AccountID: claims.AccountID,
			Email:     claims.Email,
			TokenID:   claims.TokenID,
		}, nil
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(newLimiter("global", cfg.GlobalLimit, MsgTooManyRequests, middleware.ClientIPKey, false))

		r.Get("/health", APIHealth(cfg.Environment))

		r.Route("/auth", func(r chi.Router) {
			r.With(newLimiter("register", cfg.RegisterLimit, MsgTooManyRegistrations, middleware.ClientIPAndUserAgentKey, true)).
				Post("/register", authHandler.Register)
			r.With(newLimiter("login", cfg.LoginLimit, MsgTooManyLogins, middleware.ClientIPKey, false)).
				Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(middleware.Auth(validate))
			r.Get("/me", Me)
		})
	})

	return rt
}
