package handler

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"

	"github.com/avridge/accountd/internal/config"
	"github.com/avridge/accountd/internal/token"
)

// serverError reports an infrastructure failure: logged, captured, and
// surfaced as a 5xx with a stable reason. The logged context carries
// tuple keys and route, never secrets.
func serverError(c echo.Context, err error, msg string) error {
	c.Logger().Errorf("%s %s: %s: %v", c.Request().Method, c.Path(), msg, err)
	sentry.CaptureException(err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": msg})
}

// setAccessCookie installs the short-lived access token cookie. HttpOnly
// and SameSite=Strict always; Secure outside dev.
func setAccessCookie(c echo.Context, cfg config.Config, at token.AccessToken) {
	c.SetCookie(&http.Cookie{
		Name:     "access_token",
		Value:    at.Token,
		Path:     "/",
		Expires:  at.Exp,
		MaxAge:   int(time.Until(at.Exp) / time.Second),
		HttpOnly: true,
		Secure:   cfg.Env == "prod",
		SameSite: http.SameSiteStrictMode,
	})
}

// setRefreshCookie installs the refresh token cookie. A session-only
// token omits Expires/MaxAge entirely so the cookie dies with the browser
// session, even though the token itself still has a server-side ceiling.
func setRefreshCookie(c echo.Context, cfg config.Config, rt token.RefreshToken) {
	ck := &http.Cookie{
		Name:     "refresh_token",
		Value:    rt.Raw,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Env == "prod",
		SameSite: http.SameSiteStrictMode,
	}
	if !rt.SessionOnly {
		ck.Expires = rt.Exp
		ck.MaxAge = int(time.Until(rt.Exp) / time.Second)
	}
	c.SetCookie(ck)
}

// clearAuthCookies expires both auth cookies.
func clearAuthCookies(c echo.Context, cfg config.Config) {
	for _, name := range []string{"access_token", "refresh_token"} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.Env == "prod",
			SameSite: http.SameSiteStrictMode,
		})
	}
}
