package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/clinic-management/internal/middleware"
	"github.com/iliyamo/clinic-management/internal/model"
)

const (
	admin     = model.RoleAdmin
	reception = model.RoleReceptionist
	physio    = model.RolePhysiotherapist
)

// RegisterClinic registers the day-to-day endpoints: users, patients,
// appointments and treatments. Each route names the roles it admits;
// finer rules (own records only, field restrictions) live in the handlers.
func RegisterClinic(g *echo.Group, d Deps) {
	anyone := middleware.Authorize(d.Sessions)
	only := func(roles ...string) echo.MiddlewareFunc { return middleware.Authorize(d.Sessions, roles...) }

	// ---- Users ----
	u := d.Users
	g.GET("/users", u.List, only(admin, reception))
	g.POST("/users", u.Create, only(admin))
	g.GET("/users/:id", u.Get, anyone)
	g.PUT("/users/:id", u.Update, anyone)
	g.DELETE("/users/:id", u.Delete, only(admin))

	// ---- Patients ----
	p := d.Patients
	g.GET("/patients", p.List, only(admin, reception, physio))
	g.POST("/patients", p.Create, only(admin, reception))
	g.GET("/patients/count", p.Count, only(admin, reception))
	g.GET("/patients/:id", p.Get, anyone)
	g.PUT("/patients/:id", p.Update, only(admin, reception, physio))
	g.DELETE("/patients/:id", p.Delete, only(admin))

	// ---- Appointments ----
	a := d.Appointments
	g.GET("/appointments", a.List, anyone)
	g.POST("/appointments", a.Create, only(admin, reception))
	g.GET("/appointments/availability", a.Availability, anyone)
	g.GET("/appointments/:id", a.Get, anyone)
	g.PUT("/appointments/:id", a.Update, only(admin, reception, physio))
	g.DELETE("/appointments/:id", a.Delete, only(admin, reception))

	// ---- Treatments ----
	t := d.Treatments
	g.GET("/treatments", t.List, only(admin, physio))
	g.POST("/treatments", t.Create, only(admin, physio))
	g.GET("/treatments/:id", t.Get, only(admin, physio))
	g.PUT("/treatments/:id", t.Update, only(admin, physio))
	g.DELETE("/treatments/:id", t.Delete, only(admin))
}
