package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/clinic-management/internal/audit"
	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/repository"
	"github.com/iliyamo/clinic-management/internal/session"
	"github.com/iliyamo/clinic-management/internal/utils"
)

// UserHandler serves staff and patient accounts.
type UserHandler struct {
	Users      *repository.UserRepo
	Sessions   session.Store
	Audit      Auditor
	BcryptCost int
}

func NewUserHandler(u *repository.UserRepo, s session.Store, a Auditor, bcryptCost int) *UserHandler {
	return &UserHandler{Users: u, Sessions: s, Audit: a, BcryptCost: bcryptCost}
}

type userView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toUserView(u model.User) userView {
	return userView{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		Status:    "ACTIVE",
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// List handles GET /users. Receptionists may only list physiotherapists,
// which is what they need to pick a doctor for an appointment.
func (h *UserHandler) List(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	role := strings.ToUpper(strings.TrimSpace(c.QueryParam("role")))
	if role != "" && !model.ValidRole(role) {
		return fail(c, http.StatusBadRequest, "Invalid role")
	}
	if me.Role != model.RoleAdmin && !(me.Role == model.RoleReceptionist && role == model.RolePhysiotherapist) {
		return forbidden(c)
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	users, err := h.Users.List(ctx, role)
	if err != nil {
		return internalError(c, err, "users: list")
	}
	out := make([]userView, len(users))
	for i, u := range users {
		out[i] = toUserView(u)
	}
	return c.JSON(http.StatusOK, out)
}

type createUserReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Create handles POST /users.
func (h *UserHandler) Create(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req createUserReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Role = strings.ToUpper(strings.TrimSpace(req.Role))
	if req.Name == "" || req.Email == "" || req.Password == "" || req.Role == "" {
		return fail(c, http.StatusBadRequest, "Name, email, password and role are required")
	}
	if !model.ValidRole(req.Role) {
		return fail(c, http.StatusBadRequest, "Invalid role")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	taken, err := h.Users.EmailTaken(ctx, req.Email, "")
	if err != nil {
		return internalError(c, err, "users: email check")
	}
	if taken {
		return fail(c, http.StatusBadRequest, "Email already in use")
	}
	hash, err := utils.HashPassword(req.Password, h.BcryptCost)
	if err != nil {
		return internalError(c, err, "users: hash password")
	}
	u := model.User{Name: req.Name, Email: req.Email, Role: req.Role, PasswordHash: hash}
	if err := h.Users.Create(ctx, &u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return fail(c, http.StatusBadRequest, "Email already in use")
		}
		return internalError(c, err, "users: create")
	}

	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionCreate,
		EntityType: model.EntityUser,
		EntityID:   u.ID,
		Details:    "User created: " + u.Email,
		Metadata:   map[string]any{"role": u.Role},
	})
	return c.JSON(http.StatusCreated, toUserView(u))
}

// Get handles GET /users/:id for the account itself or an admin.
func (h *UserHandler) Get(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id := c.Param("id")
	if me.ID != id && me.Role != model.RoleAdmin {
		return forbidden(c)
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "User not found")
		}
		return internalError(c, err, "users: get")
	}
	return c.JSON(http.StatusOK, toUserView(u))
}

type updateUserReq struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	Password *string `json:"password"`
}

// Update handles PUT /users/:id. Only admins change roles.
func (h *UserHandler) Update(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id := c.Param("id")
	if me.ID != id && me.Role != model.RoleAdmin {
		return forbidden(c)
	}
	var req updateUserReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	cur, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "User not found")
		}
		return internalError(c, err, "users: load")
	}

	fields := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return fail(c, http.StatusBadRequest, "Name must not be empty")
		}
		fields["name"] = name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email == "" {
			return fail(c, http.StatusBadRequest, "Email must not be empty")
		}
		if email != cur.Email {
			taken, err := h.Users.EmailTaken(ctx, email, id)
			if err != nil {
				return internalError(c, err, "users: email check")
			}
			if taken {
				return fail(c, http.StatusBadRequest, "Email already in use")
			}
			fields["email"] = email
		}
	}
	if req.Role != nil {
		role := strings.ToUpper(strings.TrimSpace(*req.Role))
		if role != cur.Role {
			if me.Role != model.RoleAdmin {
				return fail(c, http.StatusForbidden, "Only administrators can change roles")
			}
			if !model.ValidRole(role) {
				return fail(c, http.StatusBadRequest, "Invalid role")
			}
			fields["role"] = role
		}
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := utils.HashPassword(*req.Password, h.BcryptCost)
		if err != nil {
			return internalError(c, err, "users: hash password")
		}
		fields["password_hash"] = hash
	}
	if len(fields) == 0 {
		return c.JSON(http.StatusOK, toUserView(cur))
	}

	u, err := h.Users.Update(ctx, id, fields)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return fail(c, http.StatusBadRequest, "Email already in use")
		}
		return internalError(c, err, "users: update")
	}

	// keep the caller's own session in step with the row
	if u.ID == me.ID {
		fresh := session.Identity{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
		if err := h.Sessions.Set(c, session.UserKey, fresh); err != nil {
			return internalError(c, err, "users: refresh session")
		}
	}

	changed := make([]string, 0, len(fields))
	for k := range fields {
		if k != "password_hash" {
			changed = append(changed, k)
		}
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionUpdate,
		EntityType: model.EntityUser,
		EntityID:   u.ID,
		Details:    "User updated: " + u.Email,
		Metadata:   map[string]any{"fields": changed, "passwordChanged": fields["password_hash"] != nil},
	})
	return c.JSON(http.StatusOK, toUserView(u))
}

// Delete handles DELETE /users/:id.
func (h *UserHandler) Delete(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id := c.Param("id")
	if id == me.ID {
		return fail(c, http.StatusBadRequest, "You cannot delete your own account")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "User not found")
		}
		return internalError(c, err, "users: load")
	}
	if err := h.Users.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return fail(c, http.StatusNotFound, "User not found")
		case errors.Is(err, repository.ErrInUse):
			return fail(c, http.StatusConflict, "User still has appointments, treatments or patients")
		}
		return internalError(c, err, "users: delete")
	}

	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionDelete,
		EntityType: model.EntityUser,
		EntityID:   id,
		Details:    "User deleted: " + u.Email,
	})
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
