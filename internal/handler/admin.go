package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/repository"
)

const recentWindow = 30 * 24 * time.Hour

// AdminHandler serves the dashboard counters and the audit trail.
type AdminHandler struct {
	Appointments *repository.AppointmentRepo
	Users        *repository.UserRepo
	Patients     *repository.PatientRepo
	Audits       *repository.AuditRepo
	Now          func() time.Time
}

func NewAdminHandler(a *repository.AppointmentRepo, u *repository.UserRepo, p *repository.PatientRepo, audits *repository.AuditRepo) *AdminHandler {
	return &AdminHandler{Appointments: a, Users: u, Patients: p, Audits: audits, Now: time.Now}
}

// AppointmentStats handles GET /admin/stats/appointments.
func (h *AdminHandler) AppointmentStats(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	todayStart, todayEnd := model.DayBounds(h.Now())
	counts := map[string]repository.AppointmentFilter{
		"total":     {},
		"upcoming":  {From: &todayStart, Statuses: []model.AppointmentStatus{model.StatusScheduled, model.StatusConfirmed}},
		"today":     {From: &todayStart, To: &todayEnd},
		"completed": {Status: model.StatusCompleted},
	}
	out := make(map[string]int64, len(counts))
	for name, f := range counts {
		n, err := h.Appointments.Count(ctx, f)
		if err != nil {
			return internalError(c, err, "stats: appointments "+name)
		}
		out[name] = n
	}
	return c.JSON(http.StatusOK, out)
}

// DoctorStats handles GET /admin/stats/doctors. Active doctors had an
// appointment in the last 30 days.
func (h *AdminHandler) DoctorStats(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	total, err := h.Users.CountByRole(ctx, model.RolePhysiotherapist)
	if err != nil {
		return internalError(c, err, "stats: doctors")
	}
	active, err := h.Users.CountActiveDoctors(ctx, h.Now().Add(-recentWindow))
	if err != nil {
		return internalError(c, err, "stats: active doctors")
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total, "active": active})
}

// PatientStats handles GET /admin/stats/patients.
func (h *AdminHandler) PatientStats(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	total, err := h.Patients.Count(ctx)
	if err != nil {
		return internalError(c, err, "stats: patients")
	}
	recent, err := h.Patients.CountSince(ctx, h.Now().Add(-recentWindow))
	if err != nil {
		return internalError(c, err, "stats: recent patients")
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total, "recentlyAdded": recent})
}

// AuditLogs handles GET /audit-logs?entityType&limit.
func (h *AdminHandler) AuditLogs(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fail(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, 200)
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	logs, err := h.Audits.List(ctx, strings.ToUpper(strings.TrimSpace(c.QueryParam("entityType"))), limit)
	if err != nil {
		return internalError(c, err, "audit logs: list")
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	return c.JSON(http.StatusOK, logs)
}
