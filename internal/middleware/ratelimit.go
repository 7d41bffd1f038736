package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/avridge/accountd/internal/limiter"
)

// RegistrationLimit gates the registration endpoint with the fixed-window
// strategy keyed by client IP. The limiter itself fails open when the
// store is unreachable, so this middleware only translates verdicts.
func RegistrationLimit(l *limiter.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := l.CheckRegistration(c.Request().Context(), clientIP(c))
			if !d.Allowed {
				return RejectRateLimited(c, d)
			}
			return next(c)
		}
	}
}

// LoginIPLimit gates the login endpoint with the token-bucket strategy
// keyed by client IP. The per-user failure counter is consulted inside
// the handler once the username is known.
func LoginIPLimit(l *limiter.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := l.CheckLoginIP(c.Request().Context(), clientIP(c))
			if !d.Allowed {
				return RejectRateLimited(c, d)
			}
			return next(c)
		}
	}
}

// RejectRateLimited writes the 429 for a denied verdict. Temporary blocks
// carry retry_after seconds and a Retry-After header; permanent blocks
// carry a terminal marker and no retry hint.
func RejectRateLimited(c echo.Context, d limiter.Decision) error {
	if d.Permanent {
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error":     "too_many_requests",
			"permanent": true,
		})
	}
	c.Response().Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	return c.JSON(http.StatusTooManyRequests, echo.Map{
		"error":       "too_many_requests",
		"retry_after": d.RetryAfter,
	})
}

// clientIP resolves the caller's address, trusting proxy headers the way
// Echo's RealIP does. Rate-limit keys must never be empty.
func clientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}
