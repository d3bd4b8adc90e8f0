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
)

// TreatmentHandler records what happened in an appointment. Recording a
// treatment completes the appointment; deleting it reopens the appointment
// as CONFIRMED.
type TreatmentHandler struct {
	Treatments   *repository.TreatmentRepo
	Appointments *repository.AppointmentRepo
	Audit        Auditor
}

func NewTreatmentHandler(t *repository.TreatmentRepo, a *repository.AppointmentRepo, auditor Auditor) *TreatmentHandler {
	return &TreatmentHandler{Treatments: t, Appointments: a, Audit: auditor}
}

// List handles GET /treatments?patientId.
func (h *TreatmentHandler) List(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	f := repository.TreatmentFilter{PatientID: strings.TrimSpace(c.QueryParam("patientId"))}
	if me.Role == model.RolePhysiotherapist {
		f.PhysiotherapistID = me.ID
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	list, err := h.Treatments.List(ctx, f)
	if err != nil {
		return internalError(c, err, "treatments: list")
	}
	if list == nil {
		list = []model.Treatment{}
	}
	return c.JSON(http.StatusOK, list)
}

type treatmentReq struct {
	AppointmentID string  `json:"appointmentId"`
	Notes         *string `json:"notes"`
	HomeProgram   *string `json:"homeProgram"`
	Progress      *string `json:"progress"`
	Date          string  `json:"date"`
}

// Create handles POST /treatments.
func (h *TreatmentHandler) Create(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req treatmentReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" || str(req.Notes) == "" {
		return fail(c, http.StatusBadRequest, "Appointment and notes are required")
	}
	t := model.Treatment{
		AppointmentID: req.AppointmentID,
		Notes:         str(req.Notes),
		HomeProgram:   str(req.HomeProgram),
		Progress:      str(req.Progress),
	}
	if req.Date != "" {
		d, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			if d, err = model.ParseDate(req.Date); err != nil {
				return fail(c, http.StatusBadRequest, "Invalid date format")
			}
		}
		t.Date = d.UTC()
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	a, err := h.Appointments.GetByID(ctx, req.AppointmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "Appointment not found")
		}
		return internalError(c, err, "treatments: load appointment")
	}
	if me.Role == model.RolePhysiotherapist {
		if a.DoctorID != me.ID {
			return forbidden(c)
		}
		t.PhysiotherapistID = me.ID
	}
	if a.Status == model.StatusCancelled {
		return fail(c, http.StatusBadRequest, "Cannot record a treatment for a cancelled appointment")
	}

	if err := h.Treatments.Create(ctx, &t); err != nil {
		switch {
		case errors.Is(err, repository.ErrTreatmentExists):
			return fail(c, http.StatusBadRequest, "Treatment already exists for this appointment")
		case errors.Is(err, repository.ErrInvalidTransition):
			return fail(c, http.StatusBadRequest, "Cannot record a treatment for a "+string(a.Status)+" appointment")
		case errors.Is(err, repository.ErrNotFound):
			return fail(c, http.StatusNotFound, "Appointment not found")
		}
		return internalError(c, err, "treatments: create")
	}

	full, err := h.Treatments.GetByID(ctx, t.ID)
	if err != nil {
		return internalError(c, err, "treatments: reload")
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionCreate,
		EntityType: model.EntityTreatment,
		EntityID:   full.ID,
		Details:    "Treatment recorded for " + patientName(a),
		Metadata:   map[string]any{"appointmentId": a.ID, "appointmentStatus": model.StatusCompleted},
	})
	return c.JSON(http.StatusCreated, full)
}

func (h *TreatmentHandler) load(c echo.Context) (model.Treatment, bool, error) {
	me, ok := caller(c)
	if !ok {
		return model.Treatment{}, true, unauthorized(c)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	t, err := h.Treatments.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return t, true, fail(c, http.StatusNotFound, "Treatment not found")
		}
		return t, true, internalError(c, err, "treatments: get")
	}
	if me.Role == model.RolePhysiotherapist && t.PhysiotherapistID != me.ID {
		return t, true, forbidden(c)
	}
	return t, false, nil
}

// Get handles GET /treatments/:id.
func (h *TreatmentHandler) Get(c echo.Context) error {
	t, handled, err := h.load(c)
	if handled {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

// Update handles PUT /treatments/:id (notes, homeProgram, progress).
func (h *TreatmentHandler) Update(c echo.Context) error {
	me, _ := caller(c)
	cur, handled, err := h.load(c)
	if handled {
		return err
	}
	var req treatmentReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	fields := map[string]any{}
	if req.Notes != nil {
		if str(req.Notes) == "" {
			return fail(c, http.StatusBadRequest, "Notes must not be empty")
		}
		fields["notes"] = str(req.Notes)
	}
	if req.HomeProgram != nil {
		fields["home_program"] = str(req.HomeProgram)
	}
	if req.Progress != nil {
		fields["progress"] = str(req.Progress)
	}
	if len(fields) == 0 {
		return c.JSON(http.StatusOK, cur)
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	t, err := h.Treatments.Update(ctx, cur.ID, fields)
	if err != nil {
		return internalError(c, err, "treatments: update")
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionUpdate,
		EntityType: model.EntityTreatment,
		EntityID:   t.ID,
		Details:    "Treatment updated",
	})
	return c.JSON(http.StatusOK, t)
}

// Delete handles DELETE /treatments/:id.
func (h *TreatmentHandler) Delete(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	t, err := h.Treatments.Delete(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "Treatment not found")
		}
		return internalError(c, err, "treatments: delete")
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionDelete,
		EntityType: model.EntityTreatment,
		EntityID:   t.ID,
		Details:    "Treatment deleted",
		Metadata:   map[string]any{"appointmentId": t.AppointmentID, "appointmentStatus": model.StatusConfirmed},
	})
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
