package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avridge/accountd/internal/config"
	"github.com/avridge/accountd/internal/limiter"
	"github.com/avridge/accountd/internal/middleware"
	"github.com/avridge/accountd/internal/model"
	"github.com/avridge/accountd/internal/repository"
	"github.com/avridge/accountd/internal/token"
)

// AdminHandler serves the admin console endpoints. Every route is behind
// TokenAuth + RequireAdmin.
type AdminHandler struct {
	Cfg      config.Config
	Users    *repository.UserRepo
	Sessions *repository.SessionRepo
	Tokens   *token.Service
	Limiter  *limiter.Limiter
}

func NewAdminHandler(cfg config.Config, u *repository.UserRepo, s *repository.SessionRepo, t *token.Service, l *limiter.Limiter) *AdminHandler {
	return &AdminHandler{Cfg: cfg, Users: u, Sessions: s, Tokens: t, Limiter: l}
}

// ListUsers returns a page of users ordered by id. Supports ?offset= and
// ?limit= query parameters.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	users, err := h.Users.List(ctx, offset, limit)
	if err != nil {
		return serverError(c, err, "list users failed")
	}
	out := make([]userPart, 0, len(users))
	for _, u := range users {
		out = append(out, toUserPart(u))
	}
	return c.JSON(http.StatusOK, echo.Map{"users": out})
}

// Impersonate issues an access token for the target user carrying the
// admin's id in the impersonation claim. No refresh token is issued: the
// impersonated session lives exactly one access-token lifetime.
func (h *AdminHandler) Impersonate(c echo.Context) error {
	admin, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing access token"})
	}
	targetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByID(ctx, targetID)
	if err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return serverError(c, err, "load user failed")
	}
	id := identityOf(u)
	id.ImpersonatorID = admin.UserID
	access, err := h.Tokens.IssueAccess(id)
	if err != nil {
		return serverError(c, err, "issue access failed")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access": tokenPart{Token: access.Token, Expires: access.Exp},
		"user":   toUserPart(u),
	})
}

type unblockReq struct {
	Subject  string `json:"subject"`
	Strategy string `json:"strategy"`
}

// Unblock clears a rate-limit record, including permanent blocks, and
// drops any cached verdict for it.
func (h *AdminHandler) Unblock(c echo.Context) error {
	var req unblockReq
	if err := c.Bind(&req); err != nil || req.Subject == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "subject required"})
	}
	strategy := model.Strategy(req.Strategy)
	switch strategy {
	case model.StrategyRegistrationIP, model.StrategyLoginIP, model.StrategyLoginUser:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown strategy"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Limiter.Unblock(ctx, req.Subject, strategy); err != nil {
		return serverError(c, err, "unblock failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// DeactivateUser soft-deletes the target account and revokes its sessions.
func (h *AdminHandler) DeactivateUser(c echo.Context) error {
	targetID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Users.GetByID(ctx, targetID); err != nil {
		if err == repository.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
		}
		return serverError(c, err, "load user failed")
	}
	if err := h.Users.SetActive(ctx, targetID, false); err != nil {
		return serverError(c, err, "deactivate failed")
	}
	if err := h.Sessions.RevokeAllForUser(ctx, targetID); err != nil {
		return serverError(c, err, "revoke sessions failed")
	}
	return c.NoContent(http.StatusNoContent)
}
