package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/clinic-management/internal/audit"
	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/repository"
)

type TimeSlotHandler struct {
	Slots *repository.TimeSlotRepo
	Audit Auditor
}

func NewTimeSlotHandler(s *repository.TimeSlotRepo, a Auditor) *TimeSlotHandler {
	return &TimeSlotHandler{Slots: s, Audit: a}
}

// List handles GET /timeslots?dayOfWeek&isActive.
func (h *TimeSlotHandler) List(c echo.Context) error {
	var f repository.TimeSlotFilter
	if v := c.QueryParam("dayOfWeek"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || d < 0 || d > 6 {
			return fail(c, http.StatusBadRequest, "dayOfWeek must be between 0 and 6")
		}
		f.DayOfWeek = &d
	}
	if v := c.QueryParam("isActive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fail(c, http.StatusBadRequest, "isActive must be true or false")
		}
		f.IsActive = &b
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	slots, err := h.Slots.List(ctx, f)
	if err != nil {
		return internalError(c, err, "timeslots: list")
	}
	if slots == nil {
		slots = []model.TimeSlot{}
	}
	return c.JSON(http.StatusOK, slots)
}

type slotInput struct {
	ID        string `json:"id"`
	DayOfWeek *int   `json:"dayOfWeek"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Capacity  *int   `json:"capacity"`
	IsActive  *bool  `json:"isActive"`
}

type upsertSlotsReq struct {
	TimeSlots []slotInput `json:"timeSlots"`
}

// Upsert handles POST /timeslots. Slots are replaced by id; a missing id
// becomes "<day>-<start>-<end>".
func (h *TimeSlotHandler) Upsert(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req upsertSlotsReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	if len(req.TimeSlots) == 0 {
		return fail(c, http.StatusBadRequest, "timeSlots must be a non-empty array")
	}

	slots := make([]model.TimeSlot, 0, len(req.TimeSlots))
	for i, in := range req.TimeSlots {
		if in.DayOfWeek == nil || in.Capacity == nil {
			return fail(c, http.StatusBadRequest, "timeSlots["+strconv.Itoa(i)+"]: dayOfWeek and capacity are required")
		}
		s := model.TimeSlot{
			ID:        strings.TrimSpace(in.ID),
			DayOfWeek: *in.DayOfWeek,
			StartTime: strings.TrimSpace(in.StartTime),
			EndTime:   strings.TrimSpace(in.EndTime),
			Capacity:  *in.Capacity,
			IsActive:  in.IsActive == nil || *in.IsActive,
		}
		if err := s.Validate(); err != nil {
			return fail(c, http.StatusBadRequest, "timeSlots["+strconv.Itoa(i)+"]: "+err.Error())
		}
		if s.ID == "" {
			s.ID = model.SlotID(s.DayOfWeek, s.StartTime, s.EndTime)
		}
		slots = append(slots, s)
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Slots.Upsert(ctx, slots); err != nil {
		return internalError(c, err, "timeslots: upsert")
	}
	ids := make([]string, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionUpdate,
		EntityType: model.EntityTimeSlots,
		EntityID:   model.EntityMultiple,
		Details:    "Time slots updated: " + strconv.Itoa(len(slots)),
		Metadata:   map[string]any{"ids": ids},
	})

	all, err := h.Slots.List(ctx, repository.TimeSlotFilter{})
	if err != nil {
		return internalError(c, err, "timeslots: reload")
	}
	return c.JSON(http.StatusOK, echo.Map{"timeSlots": all})
}
