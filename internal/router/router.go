package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/avridge/accountd/internal/config"
	"github.com/avridge/accountd/internal/handler"
	"github.com/avridge/accountd/internal/idempotency"
	"github.com/avridge/accountd/internal/limiter"
	"github.com/avridge/accountd/internal/middleware"
	"github.com/avridge/accountd/internal/token"
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance. Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Map the GET request at path "/healthz" to the Health handler. This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers all authentication-related routes and applies the
// necessary middleware. Unauthenticated operations live under /v1/auth,
// while protected endpoints live under /v1.
//
// Per-route composition on the mutating endpoints is: rate-limit check,
// then token auth where needed, then the handler, then idempotency capture
// wrapping the handler.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, tokens *token.Service, l *limiter.Limiter, idem *idempotency.Service, idemCfg config.IdempotencyConfig) {
	// Operations that do not require an existing session.
	g := e.Group("/v1/auth")

	// Registration is gated by the fixed-window limiter keyed by client IP
	// and wrapped in the idempotency capture: a retried registration with
	// the same Idempotency-Key replays the original response instead of
	// attempting a second insert.
	g.POST("/register", a.Register,
		middleware.RegistrationLimit(l),
		middleware.Idempotent(idemSvc(idem, idemCfg), idemCfg.MaxBodyBytes),
	)

	// Login is gated by the token-bucket limiter keyed by client IP. The
	// per-user failure counter is consulted inside the handler once the
	// username is known.
	g.POST("/login", a.Login, middleware.LoginIPLimit(l))

	// Refresh exchanges a valid refresh token for a new access token. The
	// refresh token itself is not rotated.
	g.POST("/refresh", a.Refresh)

	// Logout with a refresh token in cookie or body does not need an access
	// token; revoking an already-revoked session still answers 204.
	g.POST("/logout", a.Logout)

	// Routes that require a valid access token live under /v1.
	auth := e.Group("/v1")
	auth.Use(middleware.TokenAuth(tokens))
	auth.GET("/me", a.Me)
	// Logout-everywhere (all=true) needs a verified identity, so the
	// protected group carries a second logout route.
	auth.POST("/logout", a.Logout)
}

// RegisterProfile registers the authenticated user's own account routes
// under /v1. All of them require a valid access token.
func RegisterProfile(e *echo.Echo, p *handler.ProfileHandler, tokens *token.Service, idem *idempotency.Service, idemCfg config.IdempotencyConfig) {
	g := e.Group("/v1")
	g.Use(middleware.TokenAuth(tokens))

	// Profile updates are wrapped in the idempotency capture so a retried
	// PATCH replays its original response.
	g.PATCH("/me", p.Update, middleware.Idempotent(idemSvc(idem, idemCfg), idemCfg.MaxBodyBytes))
	g.POST("/me/password", p.ChangePassword)
	g.DELETE("/me", p.Deactivate)
}

// RegisterAdmin registers the admin console under /v1/admin. Every route
// requires a valid access token carrying the admin flag.
func RegisterAdmin(e *echo.Echo, adm *handler.AdminHandler, tokens *token.Service) {
	g := e.Group("/v1/admin")
	g.Use(middleware.TokenAuth(tokens))
	g.Use(middleware.RequireAdmin())

	g.GET("/users", adm.ListUsers)
	g.POST("/users/:id/impersonate", adm.Impersonate)
	g.DELETE("/users/:id", adm.DeactivateUser)
	// Unblock takes the subject and strategy in the body because subjects
	// (IPs, usernames) are not path-safe.
	g.POST("/unblock", adm.Unblock)
}

// idemSvc returns the idempotency service or nil when the feature is
// disabled; the middleware treats nil as a passthrough.
func idemSvc(svc *idempotency.Service, cfg config.IdempotencyConfig) *idempotency.Service {
	if !cfg.Enabled {
		return nil
	}
	return svc
}
