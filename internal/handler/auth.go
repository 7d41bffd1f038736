package handler

import (
	"context"  // provides context with cancellation for DB calls
	"net/http" // HTTP status codes and primitives
	"strings"  // string manipulation utilities
	"time"     // timeouts for DB calls

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/avridge/accountd/internal/config"
	"github.com/avridge/accountd/internal/limiter"
	"github.com/avridge/accountd/internal/middleware"
	"github.com/avridge/accountd/internal/model"
	"github.com/avridge/accountd/internal/queue"
	"github.com/avridge/accountd/internal/repository"
	"github.com/avridge/accountd/internal/token"
	"github.com/avridge/accountd/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints. Publish is the
// security-event sink; it defaults to the RabbitMQ publisher and is a
// field so tests can intercept events.
type AuthHandler struct {
	Cfg      config.Config
	Users    *repository.UserRepo
	Sessions *repository.SessionRepo
	Tokens   *token.Service
	Limiter  *limiter.Limiter
	Publish  func(ctx context.Context, ev queue.SecurityEvent) error
}

func NewAuthHandler(cfg config.Config, u *repository.UserRepo, s *repository.SessionRepo, t *token.Service, l *limiter.Limiter) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Sessions: s, Tokens: t, Limiter: l, Publish: queue.PublishSecurityEvent}
}

// ----- DTOs -----

type registerReq struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	StayLoggedIn bool   `json:"stay_logged_in"`
}
type loginReq struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	StayLoggedIn bool   `json:"stay_logged_in"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}
type logoutReq struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Admin    bool   `json:"admin"`
	Verified bool   `json:"verified"`
}
type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

func toUserPart(u model.User) userPart {
	return userPart{ID: u.ID, Username: u.Username, Email: u.Email, Admin: u.IsAdmin, Verified: u.IsVerified}
}

// Register: create user and return tokens immediately. The route is gated
// by the fixed-window limiter and the idempotency capture, so a retried
// registration replays its original response.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	uid, err := h.Users.Create(ctx, req.Username, req.Email, req.Password, h.Cfg.BcryptCost)
	if err != nil {
		if err == repository.ErrDuplicate {
			return c.JSON(http.StatusConflict, echo.Map{"error": "username or email already exists"})
		}
		return serverError(c, err, "create user failed")
	}

	u, err := h.Users.GetByID(ctx, uid)
	if err != nil {
		return serverError(c, err, "load user failed")
	}
	return h.issuePair(c, ctx, u, req.StayLoggedIn, http.StatusCreated)
}

// Login: verify credentials and return a new token pair. The bucket
// limiter already ran per IP; the per-user failure counter is consulted
// here once the username is known. Unknown usernames burn a dummy bcrypt
// comparison so response timing stays uniform, and every failure answers
// with the same "invalid credentials" regardless of which half was wrong.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	if d := h.Limiter.CheckLoginUser(c.Request().Context(), req.Username); !d.Allowed {
		ev := queue.SecurityEvent{
			Type:     queue.EventLoginBlocked,
			Subject:  req.Username,
			Strategy: string(model.StrategyLoginUser),
			IP:       c.RealIP(),
		}
		// The detached context must be taken before the goroutine starts:
		// Echo recycles the context (and its request) once the handler
		// returns.
		pubCtx := context.WithoutCancel(c.Request().Context())
		go func() { _ = h.Publish(pubCtx, ev) }()
		return middleware.RejectRateLimited(c, d)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByUsername(ctx, req.Username)
	if err != nil {
		if err == repository.ErrNotFound {
			utils.VerifyDummy(req.Password)
			h.loginFailed(ctx, c, req.Username, 0)
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return serverError(c, err, "query failed")
	}
	if !u.IsActive {
		utils.VerifyDummy(req.Password)
		h.loginFailed(ctx, c, req.Username, u.ID)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		h.loginFailed(ctx, c, req.Username, u.ID)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	h.Limiter.RecordLoginSuccess(ctx, req.Username)
	return h.issuePair(c, ctx, u, req.StayLoggedIn, http.StatusOK)
}

// Refresh: validate the refresh token, touch its session and return a new
// access token. The refresh token itself is NOT rotated; it stays valid
// until expiry or revocation.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := h.refreshTokenFrom(c)
	if raw == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	res := h.Tokens.VerifyRefresh(raw)
	if !res.Valid {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Sessions.FindValid(ctx, token.HashRaw(raw))
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
		}
		return serverError(c, err, "session lookup failed")
	}
	u, err := h.Users.GetByID(ctx, sess.UserID)
	if err != nil || !u.IsActive {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}

	// Best effort: refresh still works if the touch is lost.
	if err := h.Sessions.Touch(ctx, sess.ID); err != nil {
		c.Logger().Warnf("touch session %d: %v", sess.ID, err)
	}

	access, err := h.Tokens.IssueAccess(identityOf(u))
	if err != nil {
		return serverError(c, err, "issue access failed")
	}
	setAccessCookie(c, h.Cfg, access)

	return c.JSON(http.StatusOK, echo.Map{
		"access": tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// Logout: revoke the presented refresh session, or every session the
// caller owns when all=true and a valid access token is present. A miss
// on the presented token still clears cookies and answers 204; logout is
// idempotent from the client's point of view.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req logoutReq
	_ = c.Bind(&req)
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		raw = h.refreshTokenFrom(c)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if req.All {
		id, ok := middleware.CurrentIdentity(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing access token"})
		}
		if err := h.Sessions.RevokeAllForUser(ctx, id.UserID); err != nil {
			return serverError(c, err, "logout failed")
		}
		ev := queue.SecurityEvent{
			Type: queue.EventSessionRevoked, Subject: id.Username, UserID: id.UserID, IP: c.RealIP(),
		}
		pubCtx := context.WithoutCancel(ctx)
		go func() { _ = h.Publish(pubCtx, ev) }()
		clearAuthCookies(c, h.Cfg)
		return c.NoContent(http.StatusNoContent)
	}

	if raw == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	if err := h.Sessions.RevokeByHash(ctx, token.HashRaw(raw)); err != nil {
		return serverError(c, err, "logout failed")
	}
	clearAuthCookies(c, h.Cfg)
	return c.NoContent(http.StatusNoContent)
}

// Me: simple protected endpoint returning the verified identity.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing access token"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, id.UserID)
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		return serverError(c, err, "load user failed")
	}
	resp := echo.Map{"user": toUserPart(u)}
	if id.ImpersonatorID != 0 {
		resp["impersonated_by"] = id.ImpersonatorID
	}
	return c.JSON(http.StatusOK, resp)
}

// issuePair issues an access+refresh pair for the user, persists the
// hashed refresh session and sets both cookies.
func (h *AuthHandler) issuePair(c echo.Context, ctx context.Context, u model.User, stayLoggedIn bool, status int) error {
	access, err := h.Tokens.IssueAccess(identityOf(u))
	if err != nil {
		return serverError(c, err, "issue access failed")
	}
	refresh, err := h.Tokens.IssueRefresh(u.ID, stayLoggedIn)
	if err != nil {
		return serverError(c, err, "issue refresh failed")
	}
	meta := repository.SessionMeta{UserAgent: c.Request().UserAgent(), IP: c.RealIP()}
	if err := h.Sessions.Create(ctx, u.ID, token.HashRaw(refresh.Raw), refresh.SessionOnly, refresh.Exp, meta); err != nil {
		return serverError(c, err, "save refresh failed")
	}

	setAccessCookie(c, h.Cfg, access)
	setRefreshCookie(c, h.Cfg, refresh)

	return c.JSON(status, authResp{
		User:    toUserPart(u),
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	})
}

// loginFailed counts the failure and publishes the audit event without
// blocking the response.
func (h *AuthHandler) loginFailed(ctx context.Context, c echo.Context, username string, userID uint64) {
	h.Limiter.RecordLoginFailure(ctx, username)
	ev := queue.SecurityEvent{
		Type:      queue.EventLoginFailed,
		Subject:   username,
		UserID:    userID,
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
	pubCtx := context.WithoutCancel(ctx)
	go func() { _ = h.Publish(pubCtx, ev) }()
}

// refreshTokenFrom reads the refresh token from the cookie, falling back
// to a JSON body for non-browser clients.
func (h *AuthHandler) refreshTokenFrom(c echo.Context) string {
	if ck, err := c.Cookie("refresh_token"); err == nil && ck.Value != "" {
		return ck.Value
	}
	var req refreshReq
	_ = c.Bind(&req)
	return strings.TrimSpace(req.RefreshToken)
}

func identityOf(u model.User) token.Identity {
	return token.Identity{
		UserID:   u.ID,
		Username: u.Username,
		Admin:    u.IsAdmin,
		Verified: u.IsVerified,
	}
}
