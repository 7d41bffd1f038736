package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http" // HTTP status codes for responses
	"strings"  // string utilities for prefix checking and trimming

	"github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

	"github.com/avridge/accountd/internal/token"
)

// identityKey is the context key under which the verified identity is
// stored for handlers and downstream middleware.
const identityKey = "identity"

// TokenAuth returns an Echo middleware that validates an access token and
// injects the verified identity into the request context. The token is
// read from the Authorization header ("Bearer ..."), falling back to the
// access_token cookie set at login. This middleware wraps protected routes
// so handlers can call CurrentIdentity(c).
func TokenAuth(tokens *token.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				if ck, err := c.Cookie("access_token"); err == nil {
					raw = ck.Value
				}
			}
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing access token"})
			}
			// Verify returns a tagged result; any invalid reason collapses
			// into the same 401 so callers cannot probe token internals.
			res := tokens.VerifyAccess(raw)
			if !res.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(identityKey, res.Identity)
			return next(c)
		}
	}
}

// CurrentIdentity extracts the identity stored by TokenAuth. The boolean
// is false on unauthenticated routes.
func CurrentIdentity(c echo.Context) (token.Identity, bool) {
	v := c.Get(identityKey)
	if v == nil {
		return token.Identity{}, false
	}
	id, ok := v.(token.Identity)
	return id, ok
}

// bearerToken pulls the raw token out of an Authorization header, or ""
// when the header is absent or not a bearer scheme.
func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}
