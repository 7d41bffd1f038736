package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avridge/accountd/internal/config"
	"github.com/avridge/accountd/internal/middleware"
	"github.com/avridge/accountd/internal/queue"
	"github.com/avridge/accountd/internal/repository"
	"github.com/avridge/accountd/internal/utils"
)

// ProfileHandler serves the authenticated user's own account operations.
type ProfileHandler struct {
	Cfg      config.Config
	Users    *repository.UserRepo
	Sessions *repository.SessionRepo
}

func NewProfileHandler(cfg config.Config, u *repository.UserRepo, s *repository.SessionRepo) *ProfileHandler {
	return &ProfileHandler{Cfg: cfg, Users: u, Sessions: s}
}

type updateProfileReq struct {
	Email string `json:"email"`
}
type changePasswordReq struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Update changes profile fields. Routed through the idempotency capture
// so a retried PATCH replays its original response. Changing the email
// clears the verified flag until re-confirmation.
func (h *ProfileHandler) Update(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing access token"})
	}
	var req updateProfileReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.UpdateEmail(ctx, id.UserID, req.Email); err != nil {
		if err == repository.ErrDuplicate {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
		}
		return serverError(c, err, "update profile failed")
	}
	u, err := h.Users.GetByID(ctx, id.UserID)
	if err != nil {
		return serverError(c, err, "load user failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"user": toUserPart(u)})
}

// ChangePassword verifies the current secret, stores the new digest and
// revokes every refresh session; all other devices must log in again.
func (h *ProfileHandler) ChangePassword(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing access token"})
	}
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "current_password/new_password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, id.UserID)
	if err != nil {
		return serverError(c, err, "load user failed")
	}
	if !utils.VerifyPassword(u.PasswordHash, req.CurrentPassword) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if err := h.Users.UpdatePassword(ctx, id.UserID, req.NewPassword, h.Cfg.BcryptCost); err != nil {
		return serverError(c, err, "update password failed")
	}
	if err := h.Sessions.RevokeAllForUser(ctx, id.UserID); err != nil {
		return serverError(c, err, "revoke sessions failed")
	}
	go func() {
		_ = queue.PublishSecurityEvent(context.WithoutCancel(ctx), queue.SecurityEvent{
			Type: queue.EventSessionRevoked, Subject: u.Username, UserID: u.ID, IP: c.RealIP(),
		})
	}()
	clearAuthCookies(c, h.Cfg)
	return c.NoContent(http.StatusNoContent)
}

// Deactivate soft-deletes the caller's account and revokes every session.
func (h *ProfileHandler) Deactivate(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing access token"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.SetActive(ctx, id.UserID, false); err != nil {
		return serverError(c, err, "deactivate failed")
	}
	if err := h.Sessions.RevokeAllForUser(ctx, id.UserID); err != nil {
		return serverError(c, err, "revoke sessions failed")
	}
	go func() {
		_ = queue.PublishSecurityEvent(context.WithoutCancel(ctx), queue.SecurityEvent{
			Type: queue.EventSessionRevoked, Subject: id.Username, UserID: id.UserID, IP: c.RealIP(),
		})
	}()
	clearAuthCookies(c, h.Cfg)
	return c.NoContent(http.StatusNoContent)
}
