package handler

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/datatypes"

	"github.com/iliyamo/clinic-management/internal/audit"
	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/repository"
)

// SettingsHandler reads and writes clinic configuration. Non-admins can
// only read the working-hours keys.
type SettingsHandler struct {
	Settings *repository.SettingRepo
	Audit    Auditor
}

func NewSettingsHandler(s *repository.SettingRepo, a Auditor) *SettingsHandler {
	return &SettingsHandler{Settings: s, Audit: a}
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Get handles GET /settings?keys=a,b.
func (h *SettingsHandler) Get(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	keys := splitKeys(c.QueryParam("keys"))
	if me.Role != model.RoleAdmin {
		if len(keys) == 0 {
			return forbidden(c)
		}
		for _, k := range keys {
			if !model.PublicSettingKeys[k] {
				return forbidden(c)
			}
		}
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	values, err := h.Settings.Get(ctx, keys)
	if err != nil {
		return internalError(c, err, "settings: get")
	}
	out := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		out[k] = json.RawMessage(v)
	}
	return c.JSON(http.StatusOK, out)
}

// Save handles POST /settings with an object of key to JSON value.
func (h *SettingsHandler) Save(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req map[string]json.RawMessage
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	if len(req) == 0 {
		return fail(c, http.StatusBadRequest, "No settings provided")
	}
	values := make(map[string]datatypes.JSON, len(req))
	keys := make([]string, 0, len(req))
	for k, v := range req {
		k = strings.TrimSpace(k)
		if k == "" || len(k) > 64 {
			return fail(c, http.StatusBadRequest, "Invalid setting key")
		}
		values[k] = datatypes.JSON(v)
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Settings.Upsert(ctx, values); err != nil {
		return internalError(c, err, "settings: save")
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionUpdate,
		EntityType: model.EntitySettings,
		EntityID:   model.EntityMultiple,
		Details:    "Settings updated: " + strings.Join(keys, ", "),
		Metadata:   map[string]any{"keys": keys},
	})
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
