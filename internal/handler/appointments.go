package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/clinic-management/internal/audit"
	"github.com/iliyamo/clinic-management/internal/availability"
	"github.com/iliyamo/clinic-management/internal/metrics"
	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/queue"
	"github.com/iliyamo/clinic-management/internal/repository"
	"github.com/iliyamo/clinic-management/internal/service"
	"github.com/iliyamo/clinic-management/internal/session"
)

// AppointmentHandler serves bookings and the availability lookup.
type AppointmentHandler struct {
	Appointments *repository.AppointmentRepo
	Patients     *repository.PatientRepo
	Users        *repository.UserRepo
	Checker      *availability.Checker
	Events       service.EventPublisher
	Audit        Auditor
}

func NewAppointmentHandler(
	a *repository.AppointmentRepo,
	p *repository.PatientRepo,
	u *repository.UserRepo,
	checker *availability.Checker,
	events service.EventPublisher,
	auditor Auditor,
) *AppointmentHandler {
	if events == nil {
		events = service.NoopPublisher{}
	}
	return &AppointmentHandler{
		Appointments: a,
		Patients:     p,
		Users:        u,
		Checker:      checker,
		Events:       events,
		Audit:        auditor,
	}
}

// Availability handles GET /appointments/availability?date&timeSlotId&doctorId.
func (h *AppointmentHandler) Availability(c echo.Context) error {
	date := strings.TrimSpace(c.QueryParam("date"))
	slotID := strings.TrimSpace(c.QueryParam("timeSlotId"))
	if date == "" || slotID == "" {
		return fail(c, http.StatusBadRequest, "Date and timeSlotId are required")
	}
	day, err := model.ParseDate(date)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Invalid date format")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	res, err := h.Checker.Check(ctx, day, slotID, strings.TrimSpace(c.QueryParam("doctorId")))
	if err != nil {
		if errors.Is(err, availability.ErrSlotNotFound) {
			return fail(c, http.StatusNotFound, "Time slot not found")
		}
		return internalError(c, err, "appointments: availability")
	}
	return c.JSON(http.StatusOK, res)
}

// scope restricts a listing to what the caller may see. It returns
// handled=true when it already answered the request.
func (h *AppointmentHandler) scope(ctx context.Context, c echo.Context, me session.Identity, f *repository.AppointmentFilter) (bool, error) {
	switch me.Role {
	case model.RolePhysiotherapist:
		f.DoctorID = me.ID
	case model.RolePatient:
		ids, err := h.Patients.IDsForUser(ctx, me.ID)
		if err != nil {
			return true, internalError(c, err, "appointments: patient scope")
		}
		if ids == nil {
			ids = []string{}
		}
		f.PatientIDs = ids
	}
	return false, nil
}

// List handles GET /appointments. Filters: status, date, startDate+endDate
// (both inclusive), doctorId.
func (h *AppointmentHandler) List(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var f repository.AppointmentFilter
	if s := strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))); s != "" {
		f.Status = model.AppointmentStatus(s)
		if !f.Status.Valid() {
			return fail(c, http.StatusBadRequest, "Invalid status")
		}
	}
	if d := c.QueryParam("date"); d != "" {
		day, err := model.ParseDate(d)
		if err != nil {
			return fail(c, http.StatusBadRequest, "Invalid date format")
		}
		from, to := model.DayBounds(day)
		f.From, f.To = &from, &to
	} else if s, e := c.QueryParam("startDate"), c.QueryParam("endDate"); s != "" || e != "" {
		if s != "" {
			from, err := model.ParseDate(s)
			if err != nil {
				return fail(c, http.StatusBadRequest, "Invalid date format")
			}
			f.From = &from
		}
		if e != "" {
			end, err := model.ParseDate(e)
			if err != nil {
				return fail(c, http.StatusBadRequest, "Invalid date format")
			}
			_, to := model.DayBounds(end)
			f.To = &to
		}
	}
	f.DoctorID = strings.TrimSpace(c.QueryParam("doctorId"))

	ctx, cancel := requestCtx(c)
	defer cancel()

	if handled, err := h.scope(ctx, c, me, &f); handled {
		return err
	}
	list, err := h.Appointments.List(ctx, f)
	if err != nil {
		return internalError(c, err, "appointments: list")
	}
	if list == nil {
		list = []model.Appointment{}
	}
	return c.JSON(http.StatusOK, list)
}

func statusChanged(c echo.Context) error {
	return fail(c, http.StatusConflict, "Appointment status changed, reload and try again")
}

type createAppointmentReq struct {
	PatientID  string `json:"patientId"`
	DoctorID   string `json:"doctorId"`
	Date       string `json:"date"`
	TimeSlotID string `json:"timeSlotId"`
	Notes      string `json:"notes"`
}

// bookingError maps slot check failures onto responses. handled is false
// when err is not a booking rule violation.
func bookingError(c echo.Context, err error) (handled bool, resp error) {
	var status int
	var msg, reason string
	switch {
	case errors.Is(err, repository.ErrSlotFull):
		status, msg, reason = http.StatusConflict, "Time slot is fully booked", "full"
	case errors.Is(err, repository.ErrDoubleBooked):
		status, msg, reason = http.StatusConflict, "Patient already has an appointment in this time slot", "double_booked"
	case errors.Is(err, repository.ErrSlotInactive):
		status, msg, reason = http.StatusBadRequest, "Time slot is not active", "inactive"
	case errors.Is(err, repository.ErrSlotDayMismatch):
		status, msg, reason = http.StatusBadRequest, "Date does not fall on the time slot's day", "wrong_day"
	case errors.Is(err, repository.ErrNotFound):
		status, msg, reason = http.StatusNotFound, "Time slot not found", "slot_not_found"
	default:
		return false, nil
	}
	metrics.BookingsRejected.WithLabelValues(reason).Inc()
	return true, fail(c, status, msg)
}

// checkParties loads the patient and verifies the doctor is a
// physiotherapist.
func (h *AppointmentHandler) checkParties(ctx context.Context, c echo.Context, patientID, doctorID string) (bool, error) {
	if _, err := h.Patients.GetByID(ctx, patientID, false); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, fail(c, http.StatusNotFound, "Patient not found")
		}
		return true, internalError(c, err, "appointments: load patient")
	}
	doc, err := h.Users.GetByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, fail(c, http.StatusNotFound, "Doctor not found")
		}
		return true, internalError(c, err, "appointments: load doctor")
	}
	if doc.Role != model.RolePhysiotherapist {
		return true, fail(c, http.StatusBadRequest, "Selected doctor is not a physiotherapist")
	}
	return false, nil
}

// Create handles POST /appointments. Capacity is re-checked under a row
// lock on the slot, so two requests racing for the last place cannot both
// succeed.
func (h *AppointmentHandler) Create(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req createAppointmentReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.TimeSlotID = strings.TrimSpace(req.TimeSlotID)
	if req.PatientID == "" || req.DoctorID == "" || req.Date == "" || req.TimeSlotID == "" {
		return fail(c, http.StatusBadRequest, "Patient, doctor, date and time slot are required")
	}
	day, err := model.ParseDate(req.Date)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Invalid date format")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	if handled, err := h.checkParties(ctx, c, req.PatientID, req.DoctorID); handled {
		return err
	}

	a := model.Appointment{
		PatientID:  req.PatientID,
		DoctorID:   req.DoctorID,
		TimeSlotID: req.TimeSlotID,
		Date:       day,
		Status:     model.StatusScheduled,
		Notes:      strings.TrimSpace(req.Notes),
	}
	if err := h.Appointments.Book(ctx, &a); err != nil {
		if handled, resp := bookingError(c, err); handled {
			return resp
		}
		return internalError(c, err, "appointments: book")
	}
	metrics.BookingsCreated.Inc()

	full, err := h.Appointments.GetByID(ctx, a.ID)
	if err != nil {
		return internalError(c, err, "appointments: reload")
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionCreate,
		EntityType: model.EntityAppointment,
		EntityID:   full.ID,
		Details:    "Appointment created for " + patientName(full) + " on " + full.Date.Format("2006-01-02"),
		Metadata:   map[string]any{"timeSlotId": full.TimeSlotID, "doctorId": full.DoctorID},
	})
	h.publish(ctx, queue.EventAppointmentCreated, full, me.ID)
	return c.JSON(http.StatusCreated, full)
}

// load fetches an appointment and applies the read rule for me.
func (h *AppointmentHandler) load(ctx context.Context, c echo.Context, me session.Identity, id string) (model.Appointment, bool, error) {
	a, err := h.Appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return a, true, fail(c, http.StatusNotFound, "Appointment not found")
		}
		return a, true, internalError(c, err, "appointments: get")
	}
	switch me.Role {
	case model.RolePhysiotherapist:
		if a.DoctorID != me.ID {
			return a, true, forbidden(c)
		}
	case model.RolePatient:
		if a.Patient == nil || a.Patient.UserID == nil || *a.Patient.UserID != me.ID {
			return a, true, forbidden(c)
		}
	}
	return a, false, nil
}

// Get handles GET /appointments/:id.
func (h *AppointmentHandler) Get(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	a, handled, err := h.load(ctx, c, me, c.Param("id"))
	if handled {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

type updateAppointmentReq struct {
	Status     *string `json:"status"`
	Notes      *string `json:"notes"`
	Date       *string `json:"date"`
	TimeSlotID *string `json:"timeSlotId"`
	PatientID  *string `json:"patientId"`
	DoctorID   *string `json:"doctorId"`
}

func (r updateAppointmentReq) reschedules() bool {
	return r.Date != nil || r.TimeSlotID != nil || r.PatientID != nil || r.DoctorID != nil
}

// Update handles PUT /appointments/:id. Physiotherapists may only change
// status and notes of their own appointments.
func (h *AppointmentHandler) Update(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req updateAppointmentReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	cur, handled, err := h.load(ctx, c, me, c.Param("id"))
	if handled {
		return err
	}
	if me.Role == model.RolePhysiotherapist && req.reschedules() {
		return fail(c, http.StatusForbidden, "Physiotherapists may only change status and notes")
	}

	next := cur
	next.Patient, next.Doctor, next.TimeSlot = nil, nil, nil
	if req.Status != nil {
		s := model.AppointmentStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		if !s.Valid() {
			return fail(c, http.StatusBadRequest, "Invalid status")
		}
		if s != cur.Status && !cur.Status.CanTransition(s) {
			return fail(c, http.StatusBadRequest, fmt.Sprintf("Invalid status transition from %s to %s", cur.Status, s))
		}
		next.Status = s
	}
	if req.Notes != nil {
		next.Notes = strings.TrimSpace(*req.Notes)
	}

	moved := false
	if req.reschedules() {
		if req.Date != nil {
			day, err := model.ParseDate(*req.Date)
			if err != nil {
				return fail(c, http.StatusBadRequest, "Invalid date format")
			}
			next.Date = day
		}
		if req.TimeSlotID != nil && strings.TrimSpace(*req.TimeSlotID) != "" {
			next.TimeSlotID = strings.TrimSpace(*req.TimeSlotID)
		}
		if req.PatientID != nil && strings.TrimSpace(*req.PatientID) != "" {
			next.PatientID = strings.TrimSpace(*req.PatientID)
		}
		if req.DoctorID != nil && strings.TrimSpace(*req.DoctorID) != "" {
			next.DoctorID = strings.TrimSpace(*req.DoctorID)
		}
		moved = !next.Date.Equal(cur.Date) || next.TimeSlotID != cur.TimeSlotID ||
			next.PatientID != cur.PatientID || next.DoctorID != cur.DoctorID
	}

	if moved {
		if next.Status.Terminal() {
			return fail(c, http.StatusBadRequest, "Cannot reschedule a "+string(next.Status)+" appointment")
		}
		if handled, err := h.checkParties(ctx, c, next.PatientID, next.DoctorID); handled {
			return err
		}
		if err := h.Appointments.Reschedule(ctx, &next, cur.Status); err != nil {
			if errors.Is(err, repository.ErrStatusChanged) {
				return statusChanged(c)
			}
			if handled, resp := bookingError(c, err); handled {
				return resp
			}
			return internalError(c, err, "appointments: reschedule")
		}
	} else {
		_, err := h.Appointments.UpdateFields(ctx, cur.ID, cur.Status, map[string]any{
			"status": next.Status,
			"notes":  next.Notes,
		})
		switch {
		case errors.Is(err, repository.ErrStatusChanged):
			return statusChanged(c)
		case errors.Is(err, repository.ErrNotFound):
			return fail(c, http.StatusNotFound, "Appointment not found")
		case err != nil:
			return internalError(c, err, "appointments: update")
		}
	}

	updated, err := h.Appointments.GetByID(ctx, cur.ID)
	if err != nil {
		return internalError(c, err, "appointments: reload")
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionUpdate,
		EntityType: model.EntityAppointment,
		EntityID:   updated.ID,
		Details:    "Appointment updated for " + patientName(updated),
		Metadata:   map[string]any{"fromStatus": cur.Status, "toStatus": updated.Status, "rescheduled": moved},
	})
	if moved {
		h.publish(ctx, queue.EventAppointmentRescheduled, updated, me.ID)
	}
	if updated.Status != cur.Status {
		h.publish(ctx, queue.EventAppointmentStatusChanged, updated, me.ID)
	}
	return c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /appointments/:id.
func (h *AppointmentHandler) Delete(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	a, handled, err := h.load(ctx, c, me, c.Param("id"))
	if handled {
		return err
	}
	if err := h.Appointments.Delete(ctx, a.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "Appointment not found")
		}
		return internalError(c, err, "appointments: delete")
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionDelete,
		EntityType: model.EntityAppointment,
		EntityID:   a.ID,
		Details:    "Appointment deleted for " + patientName(a) + " on " + a.Date.Format("2006-01-02"),
	})
	h.publish(ctx, queue.EventAppointmentDeleted, a, me.ID)
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

func patientName(a model.Appointment) string {
	if a.Patient == nil {
		return a.PatientID
	}
	return a.Patient.FullName()
}

// publish sends the event and only logs failures.
func (h *AppointmentHandler) publish(ctx context.Context, typ string, a model.Appointment, actorID string) {
	ev := queue.AppointmentEvent{
		Type:          typ,
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		PatientName:   patientName(a),
		DoctorID:      a.DoctorID,
		TimeSlotID:    a.TimeSlotID,
		Date:          a.Date.Format("2006-01-02"),
		Status:        string(a.Status),
		ActorID:       actorID,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if a.Doctor != nil {
		ev.DoctorName = a.Doctor.Name
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := h.Events.PublishAppointment(pctx, ev); err != nil {
		log.Warn().Err(err).Str("type", typ).Str("appointment_id", a.ID).Msg("appointments: publish event failed")
	}
}
