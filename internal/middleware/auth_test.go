package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avridge/accountd/internal/token"
)

func newTokens() *token.Service {
	return token.New("test-secret", 15*time.Minute, 30*24*time.Hour, 24*time.Hour)
}

func echoHandler(c echo.Context) error {
	id, ok := CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "no identity"})
	}
	return c.JSON(http.StatusOK, echo.Map{"username": id.Username})
}

func runAuth(t *testing.T, tokens *token.Service, decorate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := TokenAuth(tokens)(echoHandler)
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func TestTokenAuthBearerHeader(t *testing.T) {
	tokens := newTokens()
	at, err := tokens.IssueAccess(token.Identity{UserID: 1, Username: "alice"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	rec := runAuth(t, tokens, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+at.Token)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
}

func TestTokenAuthCookieFallback(t *testing.T) {
	tokens := newTokens()
	at, _ := tokens.IssueAccess(token.Identity{UserID: 1, Username: "alice"})

	rec := runAuth(t, tokens, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "access_token", Value: at.Token})
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
}

func TestTokenAuthRejections(t *testing.T) {
	tokens := newTokens()
	other := token.New("other-secret", 15*time.Minute, 30*24*time.Hour, 24*time.Hour)
	forged, _ := other.IssueAccess(token.Identity{UserID: 1, Username: "alice"})
	refresh, _ := tokens.IssueRefresh(1, true)

	tests := []struct {
		name     string
		decorate func(*http.Request)
	}{
		{"no credentials", nil},
		{"garbage bearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer not-a-token")
		}},
		{"wrong scheme", func(r *http.Request) {
			r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		}},
		{"forged signature", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+forged.Token)
		}},
		{"refresh token as bearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+refresh.Raw)
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := runAuth(t, tokens, tc.decorate)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401; body %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	tokens := newTokens()
	admin, _ := tokens.IssueAccess(token.Identity{UserID: 1, Username: "root", Admin: true})
	user, _ := tokens.IssueAccess(token.Identity{UserID: 2, Username: "alice"})

	run := func(bearer string) int {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/users", nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		h := TokenAuth(tokens)(RequireAdmin()(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		}))
		if err := h(c); err != nil {
			t.Fatalf("handler: %v", err)
		}
		return rec.Code
	}

	if code := run(admin.Token); code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", code)
	}
	if code := run(user.Token); code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", code)
	}
	if code := run(""); code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", code)
	}
}
