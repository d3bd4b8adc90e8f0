package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/clinic-management/internal/audit"
	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/repository"
	"github.com/iliyamo/clinic-management/internal/session"
	"github.com/iliyamo/clinic-management/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Sessions session.Store
	Users    *repository.UserRepo
	Audit    Auditor
}

func NewAuthHandler(s session.Store, u *repository.UserRepo, a Auditor) *AuthHandler {
	return &AuthHandler{Sessions: s, Users: u, Audit: a}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and stores the user's identity in the session.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return fail(c, http.StatusBadRequest, "Email and password are required")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusUnauthorized, "Invalid email or password")
		}
		return internalError(c, err, "login: load user")
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) {
		return fail(c, http.StatusUnauthorized, "Invalid email or password")
	}

	id := session.Identity{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
	if err := h.Sessions.Set(c, session.UserKey, id); err != nil {
		return internalError(c, err, "login: write session")
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    u.ID,
		Action:     model.ActionLogin,
		EntityType: model.EntityUser,
		EntityID:   u.ID,
		Details:    "User logged in: " + u.Email,
		Metadata:   map[string]any{"ip": c.RealIP()},
	})
	return c.JSON(http.StatusOK, echo.Map{"user": id})
}

// Logout clears every session cookie. It succeeds without a session too.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	if id, ok := session.CurrentUser(h.Sessions, c); ok {
		h.Audit.Record(ctx, audit.Entry{
			ActorID:    id.ID,
			Action:     model.ActionLogout,
			EntityType: model.EntityUser,
			EntityID:   id.ID,
			Details:    "User logged out: " + id.Email,
		})
	}
	if err := h.Sessions.Clear(c); err != nil {
		return internalError(c, err, "logout: clear session")
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// Me returns the signed-in identity.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": id})
}
