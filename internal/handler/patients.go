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

// PatientHandler serves patient records. Visibility depends on the role:
// physiotherapists see the patients assigned to them, receptionists see
// contact data only, and a PATIENT login sees its own linked record.
type PatientHandler struct {
	Patients *repository.PatientRepo
	Users    *repository.UserRepo
	Audit    Auditor
}

func NewPatientHandler(p *repository.PatientRepo, u *repository.UserRepo, a Auditor) *PatientHandler {
	return &PatientHandler{Patients: p, Users: u, Audit: a}
}

type patientRow struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Doctor    *string    `json:"doctor"`
	LastVisit *time.Time `json:"lastVisit"`
}

// List handles GET /patients.
func (h *PatientHandler) List(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var f repository.PatientFilter
	if me.Role == model.RolePhysiotherapist {
		f.DoctorID = me.ID
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	rows, err := h.Patients.List(ctx, f)
	if err != nil {
		return internalError(c, err, "patients: list")
	}
	out := make([]patientRow, len(rows))
	for i, r := range rows {
		out[i] = patientRow{
			ID:        r.Patient.ID,
			Name:      r.Patient.FullName(),
			Email:     r.Patient.Email,
			Phone:     r.Patient.Phone,
			LastVisit: r.LastVisit,
		}
		if d := r.Patient.AssignedDoctor; d != nil {
			name := d.Name
			out[i].Doctor = &name
		}
	}
	return c.JSON(http.StatusOK, out)
}

// Count handles GET /patients/count.
func (h *PatientHandler) Count(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()

	n, err := h.Patients.Count(ctx)
	if err != nil {
		return internalError(c, err, "patients: count")
	}
	return c.JSON(http.StatusOK, echo.Map{"count": n})
}

type patientReq struct {
	FirstName        *string `json:"firstName"`
	LastName         *string `json:"lastName"`
	DateOfBirth      *string `json:"dateOfBirth"`
	Gender           *string `json:"gender"`
	Address          *string `json:"address"`
	Phone            *string `json:"phone"`
	Email            *string `json:"email"`
	MedicalHistory   *string `json:"medicalHistory"`
	AssignedDoctorID *string `json:"assignedDoctorId"`
	UserID           *string `json:"userId"`
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// checkUserRole verifies that id names a user with role. It answers the
// request itself and returns handled=true when the check fails.
func (h *PatientHandler) checkUserRole(c echo.Context, id, role, what string) (handled bool, err error) {
	ctx, cancel := requestCtx(c)
	defer cancel()
	u, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, fail(c, http.StatusBadRequest, what+" not found")
		}
		return true, internalError(c, err, "patients: load user")
	}
	if u.Role != role {
		return true, fail(c, http.StatusBadRequest, what+" must have role "+role)
	}
	return false, nil
}

// Create handles POST /patients.
func (h *PatientHandler) Create(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req patientReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	p := model.Patient{
		FirstName:      str(req.FirstName),
		LastName:       str(req.LastName),
		Gender:         strings.ToUpper(str(req.Gender)),
		Address:        str(req.Address),
		Phone:          str(req.Phone),
		Email:          strings.ToLower(str(req.Email)),
		MedicalHistory: str(req.MedicalHistory),
		CreatedByID:    me.ID,
	}
	if p.FirstName == "" || p.LastName == "" || str(req.DateOfBirth) == "" || p.Gender == "" || p.Phone == "" {
		return fail(c, http.StatusBadRequest, "First name, last name, date of birth, gender and phone are required")
	}
	dob, err := model.ParseDate(str(req.DateOfBirth))
	if err != nil {
		return fail(c, http.StatusBadRequest, "Invalid date of birth")
	}
	p.DateOfBirth = dob

	if doc := str(req.AssignedDoctorID); doc != "" {
		if handled, err := h.checkUserRole(c, doc, model.RolePhysiotherapist, "Assigned doctor"); handled {
			return err
		}
		p.AssignedDoctorID = &doc
	}
	if uid := str(req.UserID); uid != "" {
		if handled, err := h.checkUserRole(c, uid, model.RolePatient, "Linked user"); handled {
			return err
		}
		p.UserID = &uid
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Patients.Create(ctx, &p); err != nil {
		return internalError(c, err, "patients: create")
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionCreate,
		EntityType: model.EntityPatient,
		EntityID:   p.ID,
		Details:    "Patient created: " + p.FullName(),
	})
	return c.JSON(http.StatusCreated, p)
}

// canSee applies the per-role visibility rule for one patient record.
func canSee(role, userID string, p model.Patient) bool {
	switch role {
	case model.RoleAdmin, model.RoleReceptionist:
		return true
	case model.RolePhysiotherapist:
		return p.AssignedDoctorID != nil && *p.AssignedDoctorID == userID
	case model.RolePatient:
		return p.UserID != nil && *p.UserID == userID
	}
	return false
}

// Get handles GET /patients/:id.
func (h *PatientHandler) Get(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	withTreatments := me.Role != model.RoleReceptionist
	p, err := h.Patients.GetByID(ctx, c.Param("id"), withTreatments)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "Patient not found")
		}
		return internalError(c, err, "patients: get")
	}
	if !canSee(me.Role, me.ID, p) {
		return forbidden(c)
	}
	if me.Role == model.RoleReceptionist {
		p.MedicalHistory = ""
		p.Treatments = nil
	}
	return c.JSON(http.StatusOK, p)
}

// Update handles PUT /patients/:id.
func (h *PatientHandler) Update(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	var req patientReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Invalid request body")
	}
	id := c.Param("id")

	ctx, cancel := requestCtx(c)
	defer cancel()

	cur, err := h.Patients.GetByID(ctx, id, false)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "Patient not found")
		}
		return internalError(c, err, "patients: load")
	}
	if !canSee(me.Role, me.ID, cur) || me.Role == model.RolePatient {
		return forbidden(c)
	}

	fields := map[string]any{}
	for col, v := range map[string]*string{
		"first_name": req.FirstName,
		"last_name":  req.LastName,
		"gender":     req.Gender,
		"phone":      req.Phone,
	} {
		if v != nil {
			if str(v) == "" {
				return fail(c, http.StatusBadRequest, "Required patient fields must not be empty")
			}
			fields[col] = str(v)
		}
	}
	if g, ok := fields["gender"].(string); ok {
		fields["gender"] = strings.ToUpper(g)
	}
	if req.Address != nil {
		fields["address"] = str(req.Address)
	}
	if req.Email != nil {
		fields["email"] = strings.ToLower(str(req.Email))
	}
	if req.DateOfBirth != nil {
		dob, err := model.ParseDate(str(req.DateOfBirth))
		if err != nil {
			return fail(c, http.StatusBadRequest, "Invalid date of birth")
		}
		fields["date_of_birth"] = dob
	}
	if req.MedicalHistory != nil {
		if me.Role != model.RoleAdmin && me.Role != model.RolePhysiotherapist {
			return fail(c, http.StatusForbidden, "Only physiotherapists and administrators can edit medical history")
		}
		fields["medical_history"] = str(req.MedicalHistory)
	}
	if req.AssignedDoctorID != nil {
		doc := str(req.AssignedDoctorID)
		curDoc := ""
		if cur.AssignedDoctorID != nil {
			curDoc = *cur.AssignedDoctorID
		}
		if doc != curDoc {
			if me.Role != model.RoleAdmin {
				return fail(c, http.StatusForbidden, "Only administrators can reassign the doctor")
			}
			if doc == "" {
				fields["assigned_doctor_id"] = nil
			} else {
				if handled, err := h.checkUserRole(c, doc, model.RolePhysiotherapist, "Assigned doctor"); handled {
					return err
				}
				fields["assigned_doctor_id"] = doc
			}
		}
	}
	if req.UserID != nil && me.Role == model.RoleAdmin {
		if uid := str(req.UserID); uid == "" {
			fields["user_id"] = nil
		} else {
			if handled, err := h.checkUserRole(c, uid, model.RolePatient, "Linked user"); handled {
				return err
			}
			fields["user_id"] = uid
		}
	}
	if len(fields) == 0 {
		return c.JSON(http.StatusOK, cur)
	}

	p, err := h.Patients.Update(ctx, id, fields)
	if err != nil {
		return internalError(c, err, "patients: update")
	}
	cols := make([]string, 0, len(fields))
	for k := range fields {
		cols = append(cols, k)
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionUpdate,
		EntityType: model.EntityPatient,
		EntityID:   p.ID,
		Details:    "Patient updated: " + p.FullName(),
		Metadata:   map[string]any{"fields": cols},
	})
	if me.Role == model.RoleReceptionist {
		p.MedicalHistory = ""
	}
	return c.JSON(http.StatusOK, p)
}

// Delete handles DELETE /patients/:id; appointments and treatments go with it.
func (h *PatientHandler) Delete(c echo.Context) error {
	me, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id := c.Param("id")

	ctx, cancel := requestCtx(c)
	defer cancel()

	p, err := h.Patients.GetByID(ctx, id, false)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "Patient not found")
		}
		return internalError(c, err, "patients: load")
	}
	if err := h.Patients.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fail(c, http.StatusNotFound, "Patient not found")
		}
		return internalError(c, err, "patients: delete")
	}
	h.Audit.Record(ctx, audit.Entry{
		ActorID:    me.ID,
		Action:     model.ActionDelete,
		EntityType: model.EntityPatient,
		EntityID:   id,
		Details:    "Patient deleted: " + p.FullName(),
	})
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
