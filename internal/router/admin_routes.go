package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/clinic-management/internal/middleware"
)

const timeSlotCache = "timeslots"

// RegisterAdmin registers clinic configuration (time slots, settings) and
// the admin dashboard endpoints.
func RegisterAdmin(g *echo.Group, d Deps) {
	anyone := middleware.Authorize(d.Sessions)
	adminOnly := middleware.Authorize(d.Sessions, admin)

	// Slot listings are the same for every caller, so the cached copy runs
	// after the guard has admitted the request. Saving slots drops it.
	g.GET("/timeslots", d.TimeSlots.List, anyone, middleware.NewRedisCache(d.Cache, d.Redis, timeSlotCache))
	g.POST("/timeslots", d.TimeSlots.Upsert, adminOnly, middleware.BustCache(d.Cache, d.Redis, timeSlotCache))

	g.GET("/settings", d.Settings.Get, anyone)
	g.POST("/settings", d.Settings.Save, adminOnly)

	st := g.Group("/admin/stats", adminOnly)
	st.GET("/appointments", d.Admin.AppointmentStats)
	st.GET("/doctors", d.Admin.DoctorStats)
	st.GET("/patients", d.Admin.PatientStats)

	g.GET("/audit-logs", d.Admin.AuditLogs, adminOnly)
}
