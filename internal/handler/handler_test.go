package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/iliyamo/clinic-management/internal/audit"
	"github.com/iliyamo/clinic-management/internal/availability"
	"github.com/iliyamo/clinic-management/internal/handler"
	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/queue"
	"github.com/iliyamo/clinic-management/internal/repository"
	"github.com/iliyamo/clinic-management/internal/session"
	"github.com/iliyamo/clinic-management/internal/testutil"
)

type recordingAuditor struct{ entries []audit.Entry }

func (r *recordingAuditor) Record(_ context.Context, e audit.Entry) bool {
	r.entries = append(r.entries, e)
	return true
}

type recordingPublisher struct{ events []queue.AppointmentEvent }

func (p *recordingPublisher) PublishAppointment(_ context.Context, ev queue.AppointmentEvent) error {
	p.events = append(p.events, ev)
	return nil
}

type brokenAppender struct{}

func (brokenAppender) Append(context.Context, *model.AuditLog) error {
	return errors.New("audit table locked")
}

// call serves one request through route with as attached as the signed-in
// user (nil for none).
func call(t *testing.T, h echo.HandlerFunc, method, route, target string, body any, as *model.User) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	attach := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if as != nil {
				session.Attach(c, session.Identity{ID: as.ID, Email: as.Email, Name: as.Name, Role: as.Role})
			}
			return next(c)
		}
	}
	e.Add(method, route, h, attach)

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

type fixture struct {
	db        *gorm.DB
	admin     model.User
	reception model.User
	physio    model.User
	audits    *recordingAuditor
	events    *recordingPublisher
	appts     *handler.AppointmentHandler
	treats    *handler.TreatmentHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{
		db:        db,
		admin:     testutil.User(t, db, model.RoleAdmin),
		reception: testutil.User(t, db, model.RoleReceptionist),
		physio:    testutil.User(t, db, model.RolePhysiotherapist),
		audits:    &recordingAuditor{},
		events:    &recordingPublisher{},
	}
	appts := repository.NewAppointmentRepo(db)
	slots := repository.NewTimeSlotRepo(db)
	f.appts = handler.NewAppointmentHandler(appts, repository.NewPatientRepo(db), repository.NewUserRepo(db),
		availability.NewChecker(slots, appts), f.events, f.audits)
	f.treats = handler.NewTreatmentHandler(repository.NewTreatmentRepo(db), appts, f.audits)
	return f
}

func (f *fixture) status(t *testing.T, id string) model.AppointmentStatus {
	t.Helper()
	var a model.Appointment
	if err := f.db.First(&a, "id = ?", id).Error; err != nil {
		t.Fatal(err)
	}
	return a.Status
}

func TestAvailabilityEndpoint(t *testing.T) {
	f := newFixture(t)
	slot := testutil.Slot(t, f.db, 1, "09:00", "10:30", 5)
	for i := 0; i < 5; i++ {
		p := testutil.Patient(t, f.db, f.reception, nil)
		testutil.Appointment(t, f.db, p, f.physio, slot, testutil.Monday, model.StatusScheduled)
	}

	tests := []struct {
		name    string
		query   string
		code    int
		message string
	}{
		{name: "missing date", query: "timeSlotId=" + slot.ID, code: 400, message: "Date and timeSlotId are required"},
		{name: "missing slot", query: "date=2025-03-10", code: 400, message: "Date and timeSlotId are required"},
		{name: "bad date", query: "date=10-03-2025&timeSlotId=" + slot.ID, code: 400, message: "Invalid date format"},
		{name: "unknown slot", query: "date=2025-03-10&timeSlotId=nope", code: 404, message: "Time slot not found"},
		{name: "full", query: "date=2025-03-10&timeSlotId=" + slot.ID, code: 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, f.appts.Availability, http.MethodGet, "/appointments/availability",
				"/appointments/availability?"+tt.query, nil, &f.reception)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.code, rec.Body.String())
			}
			if tt.message != "" {
				if got := errorOf(t, rec); got != tt.message {
					t.Fatalf("error = %q, want %q", got, tt.message)
				}
				return
			}
			got := decode[availability.Result](t, rec)
			want := availability.Result{Available: false, RemainingCapacity: 0, Capacity: 5, Booked: 5}
			if got != want {
				t.Fatalf("result = %+v, want %+v", got, want)
			}
		})
	}
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)
	slot := testutil.Slot(t, f.db, 1, "09:00", "10:30", 2)
	p := testutil.Patient(t, f.db, f.reception, &f.physio)
	other := testutil.Patient(t, f.db, f.reception, nil)
	third := testutil.Patient(t, f.db, f.reception, nil)

	body := func(patientID, doctorID string) map[string]string {
		return map[string]string{"patientId": patientID, "doctorId": doctorID, "date": "2025-03-10", "timeSlotId": slot.ID}
	}
	post := func(b any) *httptest.ResponseRecorder {
		return call(t, f.appts.Create, http.MethodPost, "/appointments", "/appointments", b, &f.reception)
	}

	rec := post(map[string]string{"patientId": p.ID})
	if rec.Code != 400 || errorOf(t, rec) != "Patient, doctor, date and time slot are required" {
		t.Fatalf("missing fields: %d %s", rec.Code, rec.Body.String())
	}
	rec = post(body(p.ID, f.reception.ID))
	if rec.Code != 400 || errorOf(t, rec) != "Selected doctor is not a physiotherapist" {
		t.Fatalf("non-physio doctor: %d %s", rec.Code, rec.Body.String())
	}

	rec = post(body(p.ID, f.physio.ID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("first booking: %d %s", rec.Code, rec.Body.String())
	}
	created := decode[model.Appointment](t, rec)
	if created.Status != model.StatusScheduled || created.Patient == nil || created.TimeSlot == nil {
		t.Fatalf("created = %+v", created)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != queue.EventAppointmentCreated {
		t.Fatalf("events = %+v", f.events.events)
	}
	if len(f.audits.entries) != 1 || f.audits.entries[0].EntityType != model.EntityAppointment {
		t.Fatalf("audit = %+v", f.audits.entries)
	}

	rec = post(body(p.ID, f.physio.ID))
	if rec.Code != http.StatusConflict || errorOf(t, rec) != "Patient already has an appointment in this time slot" {
		t.Fatalf("double booking: %d %s", rec.Code, rec.Body.String())
	}

	// the last place, after which the availability check reports the slot full
	rec = post(body(other.ID, f.physio.ID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("second booking: %d %s", rec.Code, rec.Body.String())
	}
	rec = call(t, f.appts.Availability, http.MethodGet, "/appointments/availability",
		"/appointments/availability?date=2025-03-10&timeSlotId="+slot.ID, nil, &f.reception)
	if got := decode[availability.Result](t, rec); got.Available || got.RemainingCapacity != 0 {
		t.Fatalf("availability after last place = %+v", got)
	}

	rec = post(body(third.ID, f.physio.ID))
	if rec.Code != http.StatusConflict || errorOf(t, rec) != "Time slot is fully booked" {
		t.Fatalf("full slot: %d %s", rec.Code, rec.Body.String())
	}

	wrongDay := body(third.ID, f.physio.ID)
	wrongDay["date"] = "2025-03-11"
	rec = post(wrongDay)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong weekday: %d %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateAppointmentStatus(t *testing.T) {
	tests := []struct {
		from    model.AppointmentStatus
		to      string
		code    int
		message string
	}{
		{from: model.StatusScheduled, to: "CONFIRMED", code: 200},
		{from: model.StatusScheduled, to: "CANCELLED", code: 200},
		{from: model.StatusConfirmed, to: "COMPLETED", code: 200},
		{from: model.StatusScheduled, to: "COMPLETED", code: 400, message: "Invalid status transition from SCHEDULED to COMPLETED"},
		{from: model.StatusCompleted, to: "CANCELLED", code: 400, message: "Invalid status transition from COMPLETED to CANCELLED"},
		{from: model.StatusCancelled, to: "SCHEDULED", code: 400, message: "Invalid status transition from CANCELLED to SCHEDULED"},
		{from: model.StatusScheduled, to: "LOST", code: 400, message: "Invalid status"},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+tt.to, func(t *testing.T) {
			f := newFixture(t)
			slot := testutil.Slot(t, f.db, 1, "09:00", "10:30", 5)
			p := testutil.Patient(t, f.db, f.reception, &f.physio)
			a := testutil.Appointment(t, f.db, p, f.physio, slot, testutil.Monday, tt.from)

			rec := call(t, f.appts.Update, http.MethodPut, "/appointments/:id", "/appointments/"+a.ID,
				map[string]string{"status": tt.to}, &f.physio)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.code, rec.Body.String())
			}
			if tt.message != "" {
				if got := errorOf(t, rec); got != tt.message {
					t.Fatalf("error = %q, want %q", got, tt.message)
				}
				if f.status(t, a.ID) != tt.from {
					t.Fatal("status changed on rejected transition")
				}
				return
			}
			if got := f.status(t, a.ID); string(got) != tt.to {
				t.Fatalf("stored status = %s", got)
			}
			if len(f.events.events) != 1 || f.events.events[0].Type != queue.EventAppointmentStatusChanged {
				t.Fatalf("events = %+v", f.events.events)
			}
		})
	}
}

func TestPhysiotherapistUpdateRestrictions(t *testing.T) {
	f := newFixture(t)
	slot := testutil.Slot(t, f.db, 1, "09:00", "10:30", 5)
	p := testutil.Patient(t, f.db, f.reception, &f.physio)
	a := testutil.Appointment(t, f.db, p, f.physio, slot, testutil.Monday, model.StatusScheduled)
	otherPhysio := testutil.User(t, f.db, model.RolePhysiotherapist)

	rec := call(t, f.appts.Update, http.MethodPut, "/appointments/:id", "/appointments/"+a.ID,
		map[string]string{"date": "2025-03-17"}, &f.physio)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reschedule by physio: %d %s", rec.Code, rec.Body.String())
	}
	rec = call(t, f.appts.Update, http.MethodPut, "/appointments/:id", "/appointments/"+a.ID,
		map[string]string{"notes": "x"}, &otherPhysio)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("other physio: %d %s", rec.Code, rec.Body.String())
	}

	// reception can move it to the next Monday
	rec = call(t, f.appts.Update, http.MethodPut, "/appointments/:id", "/appointments/"+a.ID,
		map[string]string{"date": "2025-03-17"}, &f.reception)
	if rec.Code != http.StatusOK {
		t.Fatalf("reschedule by reception: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[model.Appointment](t, rec); got.Date.Format("2006-01-02") != "2025-03-17" {
		t.Fatalf("date = %s", got.Date)
	}
}

func TestTreatmentDrivesAppointmentStatus(t *testing.T) {
	f := newFixture(t)
	slot := testutil.Slot(t, f.db, 1, "09:00", "10:30", 5)
	p := testutil.Patient(t, f.db, f.reception, &f.physio)
	a := testutil.Appointment(t, f.db, p, f.physio, slot, testutil.Monday, model.StatusConfirmed)

	rec := call(t, f.treats.Create, http.MethodPost, "/treatments", "/treatments",
		map[string]string{"appointmentId": a.ID, "notes": "Mobilisation, 30 min"}, &f.physio)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create treatment: %d %s", rec.Code, rec.Body.String())
	}
	tr := decode[model.Treatment](t, rec)
	if tr.PhysiotherapistID != f.physio.ID || tr.PatientID != p.ID {
		t.Fatalf("treatment = %+v", tr)
	}
	if got := f.status(t, a.ID); got != model.StatusCompleted {
		t.Fatalf("status after treatment = %s", got)
	}

	rec = call(t, f.treats.Create, http.MethodPost, "/treatments", "/treatments",
		map[string]string{"appointmentId": a.ID, "notes": "again"}, &f.physio)
	if rec.Code != 400 || errorOf(t, rec) != "Treatment already exists for this appointment" {
		t.Fatalf("duplicate: %d %s", rec.Code, rec.Body.String())
	}

	rec = call(t, f.appts.Update, http.MethodPut, "/appointments/:id", "/appointments/"+a.ID,
		map[string]string{"status": "CANCELLED"}, &f.admin)
	if rec.Code != 400 {
		t.Fatalf("cancel completed: %d %s", rec.Code, rec.Body.String())
	}

	rec = call(t, f.treats.Delete, http.MethodDelete, "/treatments/:id", "/treatments/"+tr.ID, nil, &f.admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete treatment: %d %s", rec.Code, rec.Body.String())
	}
	if got := f.status(t, a.ID); got != model.StatusConfirmed {
		t.Fatalf("status after delete = %s", got)
	}
}

func TestTreatmentRules(t *testing.T) {
	f := newFixture(t)
	slot := testutil.Slot(t, f.db, 1, "09:00", "10:30", 5)
	p := testutil.Patient(t, f.db, f.reception, &f.physio)
	cancelled := testutil.Appointment(t, f.db, p, f.physio, slot, testutil.Monday, model.StatusCancelled)
	other := testutil.User(t, f.db, model.RolePhysiotherapist)
	q := testutil.Patient(t, f.db, f.reception, &other)
	foreign := testutil.Appointment(t, f.db, q, other, slot, testutil.Monday, model.StatusConfirmed)

	tests := []struct {
		name string
		body map[string]string
		code int
	}{
		{name: "notes required", body: map[string]string{"appointmentId": foreign.ID}, code: 400},
		{name: "unknown appointment", body: map[string]string{"appointmentId": "missing", "notes": "n"}, code: 404},
		{name: "cancelled appointment", body: map[string]string{"appointmentId": cancelled.ID, "notes": "n"}, code: 400},
		{name: "another physio's appointment", body: map[string]string{"appointmentId": foreign.ID, "notes": "n"}, code: 403},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, f.treats.Create, http.MethodPost, "/treatments", "/treatments", tt.body, &f.physio)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.code, rec.Body.String())
			}
		})
	}
}

func TestSettingsVisibility(t *testing.T) {
	f := newFixture(t)
	repo := repository.NewSettingRepo(f.db)
	h := handler.NewSettingsHandler(repo, f.audits)

	save := call(t, h.Save, http.MethodPost, "/settings", "/settings",
		map[string]any{"clinicName": "North Clinic", "workingDays": []int{1, 2, 3}, "workingHoursStart": "08:00"}, &f.admin)
	if save.Code != http.StatusOK {
		t.Fatalf("save: %d %s", save.Code, save.Body.String())
	}
	if len(f.audits.entries) != 1 || f.audits.entries[0].EntityID != model.EntityMultiple {
		t.Fatalf("audit = %+v", f.audits.entries)
	}

	tests := []struct {
		name  string
		query string
		as    *model.User
		code  int
	}{
		{name: "admin all", query: "", as: &f.admin, code: 200},
		{name: "staff without keys", query: "", as: &f.reception, code: 403},
		{name: "staff public keys", query: "?keys=workingDays,workingHoursStart", as: &f.physio, code: 200},
		{name: "staff private key", query: "?keys=workingDays,clinicName", as: &f.reception, code: 403},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, h.Get, http.MethodGet, "/settings", "/settings"+tt.query, nil, tt.as)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.code, rec.Body.String())
			}
		})
	}

	rec := call(t, h.Get, http.MethodGet, "/settings", "/settings?keys=workingDays", nil, &f.physio)
	got := decode[map[string]json.RawMessage](t, rec)
	if string(got["workingDays"]) != "[1,2,3]" || len(got) != 1 {
		t.Fatalf("settings = %s", rec.Body.String())
	}
}

func TestUserListRoleScope(t *testing.T) {
	f := newFixture(t)
	h := handler.NewUserHandler(repository.NewUserRepo(f.db), nil, f.audits, 4)

	rec := call(t, h.List, http.MethodGet, "/users", "/users", nil, &f.reception)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reception without filter: %d", rec.Code)
	}
	rec = call(t, h.List, http.MethodGet, "/users", "/users?role=PHYSIOTHERAPIST", nil, &f.reception)
	if rec.Code != http.StatusOK {
		t.Fatalf("reception physio list: %d %s", rec.Code, rec.Body.String())
	}
	rows := decode[[]map[string]any](t, rec)
	if len(rows) != 1 || rows[0]["status"] != "ACTIVE" || rows[0]["passwordHash"] != nil {
		t.Fatalf("rows = %v", rows)
	}

	rec = call(t, h.Create, http.MethodPost, "/users", "/users",
		map[string]string{"name": "Dup", "email": strings.ToUpper(f.physio.Email), "password": "pw", "role": "RECEPTIONIST"}, &f.admin)
	if rec.Code != 400 || errorOf(t, rec) != "Email already in use" {
		t.Fatalf("duplicate email: %d %s", rec.Code, rec.Body.String())
	}

	rec = call(t, h.Delete, http.MethodDelete, "/users/:id", "/users/"+f.admin.ID, nil, &f.admin)
	if rec.Code != 400 {
		t.Fatalf("self delete: %d", rec.Code)
	}
}

func TestPatientVisibility(t *testing.T) {
	f := newFixture(t)
	h := handler.NewPatientHandler(repository.NewPatientRepo(f.db), repository.NewUserRepo(f.db), f.audits)
	p := testutil.Patient(t, f.db, f.reception, &f.physio)
	if err := f.db.Model(&p).Update("medical_history", "Knee surgery 2019").Error; err != nil {
		t.Fatal(err)
	}
	login := testutil.User(t, f.db, model.RolePatient)
	if err := f.db.Model(&p).Update("user_id", login.ID).Error; err != nil {
		t.Fatal(err)
	}
	stranger := testutil.User(t, f.db, model.RolePatient)
	otherPhysio := testutil.User(t, f.db, model.RolePhysiotherapist)

	tests := []struct {
		name        string
		as          *model.User
		code        int
		wantHistory bool
	}{
		{name: "admin", as: &f.admin, code: 200, wantHistory: true},
		{name: "reception", as: &f.reception, code: 200},
		{name: "assigned physio", as: &f.physio, code: 200, wantHistory: true},
		{name: "other physio", as: &otherPhysio, code: 403},
		{name: "linked patient", as: &login, code: 200, wantHistory: true},
		{name: "other patient", as: &stranger, code: 403},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, h.Get, http.MethodGet, "/patients/:id", "/patients/"+p.ID, nil, tt.as)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.code, rec.Body.String())
			}
			if tt.code != 200 {
				return
			}
			got := decode[model.Patient](t, rec)
			if (got.MedicalHistory != "") != tt.wantHistory {
				t.Fatalf("medicalHistory = %q", got.MedicalHistory)
			}
		})
	}

	rec := call(t, h.Update, http.MethodPut, "/patients/:id", "/patients/"+p.ID,
		map[string]string{"medicalHistory": "x"}, &f.reception)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("reception edits history: %d", rec.Code)
	}
	rec = call(t, h.Update, http.MethodPut, "/patients/:id", "/patients/"+p.ID,
		map[string]string{"assignedDoctorId": otherPhysio.ID}, &f.physio)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("physio reassigns doctor: %d", rec.Code)
	}
}

func TestAuditFailureKeepsMutation(t *testing.T) {
	f := newFixture(t)
	h := handler.NewPatientHandler(repository.NewPatientRepo(f.db), repository.NewUserRepo(f.db),
		audit.NewRecorder(brokenAppender{}))

	rec := call(t, h.Create, http.MethodPost, "/patients", "/patients", map[string]string{
		"firstName": "Ada", "lastName": "Quinn", "dateOfBirth": "1984-02-11", "gender": "female", "phone": "555-0199",
	}, &f.reception)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	created := decode[model.Patient](t, rec)
	var n int64
	f.db.Model(&model.Patient{}).Where("id = ?", created.ID).Count(&n)
	if n != 1 {
		t.Fatal("patient was not kept after the audit write failed")
	}
	var logs int64
	f.db.Model(&model.AuditLog{}).Count(&logs)
	if logs != 0 {
		t.Fatalf("audit rows = %d", logs)
	}
}

func TestTimeSlotUpsert(t *testing.T) {
	f := newFixture(t)
	h := handler.NewTimeSlotHandler(repository.NewTimeSlotRepo(f.db), f.audits)

	rec := call(t, h.Upsert, http.MethodPost, "/timeslots", "/timeslots", map[string]any{
		"timeSlots": []map[string]any{{"dayOfWeek": 1, "startTime": "09:00", "endTime": "08:00", "capacity": 3}},
	}, &f.admin)
	if rec.Code != 400 || errorOf(t, rec) != "timeSlots[0]: startTime must be before endTime" {
		t.Fatalf("invalid slot: %d %s", rec.Code, rec.Body.String())
	}

	rec = call(t, h.Upsert, http.MethodPost, "/timeslots", "/timeslots", map[string]any{
		"timeSlots": []map[string]any{
			{"dayOfWeek": 1, "startTime": "09:00", "endTime": "10:30", "capacity": 5},
			{"dayOfWeek": 2, "startTime": "09:00", "endTime": "10:30", "capacity": 4, "isActive": false},
		},
	}, &f.admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[map[string][]model.TimeSlot](t, rec)["timeSlots"]
	if len(got) != 2 || got[0].ID != "1-09:00-10:30" {
		t.Fatalf("slots = %+v", got)
	}

	// same id again replaces the capacity
	rec = call(t, h.Upsert, http.MethodPost, "/timeslots", "/timeslots", map[string]any{
		"timeSlots": []map[string]any{{"id": "1-09:00-10:30", "dayOfWeek": 1, "startTime": "09:00", "endTime": "10:30", "capacity": 2}},
	}, &f.admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace: %d %s", rec.Code, rec.Body.String())
	}

	rec = call(t, h.List, http.MethodGet, "/timeslots", "/timeslots?isActive=true", nil, &f.physio)
	active := decode[[]model.TimeSlot](t, rec)
	if len(active) != 1 || active[0].Capacity != 2 {
		t.Fatalf("active slots = %+v", active)
	}
	rec = call(t, h.List, http.MethodGet, "/timeslots", "/timeslots?dayOfWeek=9", nil, &f.physio)
	if rec.Code != 400 {
		t.Fatalf("bad dayOfWeek: %d", rec.Code)
	}
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t)
	h := handler.NewAdminHandler(repository.NewAppointmentRepo(f.db), repository.NewUserRepo(f.db),
		repository.NewPatientRepo(f.db), repository.NewAuditRepo(f.db))
	h.Now = func() time.Time { return testutil.Monday.Add(12 * time.Hour) }

	testutil.User(t, f.db, model.RolePhysiotherapist)
	slot := testutil.Slot(t, f.db, 1, "09:00", "10:30", 5)
	p := testutil.Patient(t, f.db, f.reception, &f.physio)
	q := testutil.Patient(t, f.db, f.reception, &f.physio)
	testutil.Appointment(t, f.db, p, f.physio, slot, testutil.Monday, model.StatusScheduled)
	testutil.Appointment(t, f.db, q, f.physio, slot, testutil.Monday.AddDate(0, 0, 7), model.StatusConfirmed)
	testutil.Appointment(t, f.db, p, f.physio, slot, testutil.Monday.AddDate(0, 0, -7), model.StatusCompleted)

	rec := call(t, h.AppointmentStats, http.MethodGet, "/admin/stats/appointments", "/admin/stats/appointments", nil, &f.admin)
	want := map[string]int64{"total": 3, "upcoming": 2, "today": 1, "completed": 1}
	got := decode[map[string]int64](t, rec)
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %d, want %d (%v)", k, got[k], v, got)
		}
	}

	rec = call(t, h.DoctorStats, http.MethodGet, "/admin/stats/doctors", "/admin/stats/doctors", nil, &f.admin)
	if d := decode[map[string]int64](t, rec); d["total"] != 2 || d["active"] != 1 {
		t.Fatalf("doctors = %v", d)
	}

	rec = call(t, h.PatientStats, http.MethodGet, "/admin/stats/patients", "/admin/stats/patients", nil, &f.admin)
	if d := decode[map[string]int64](t, rec); d["total"] != 2 {
		t.Fatalf("patients = %v", d)
	}

	rec = call(t, h.AuditLogs, http.MethodGet, "/audit-logs", "/audit-logs?limit=0", nil, &f.admin)
	if rec.Code != 400 {
		t.Fatalf("limit=0: %d", rec.Code)
	}
	rec = call(t, h.AuditLogs, http.MethodGet, "/audit-logs", "/audit-logs?entityType=patient", nil, &f.admin)
	if rec.Code != 200 || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("audit logs: %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusUpdateLosesToTreatment(t *testing.T) {
	f := newFixture(t)
	slot := testutil.Slot(t, f.db, 1, "09:00", "10:30", 5)
	p := testutil.Patient(t, f.db, f.reception, &f.physio)
	a := testutil.Appointment(t, f.db, p, f.physio, slot, testutil.Monday, model.StatusConfirmed)

	// a treatment lands between the handler's read and its write
	landed := false
	err := f.db.Callback().Update().Before("gorm:update").Register("test:treatment_lands", func(tx *gorm.DB) {
		if landed || tx.Statement.Table != "appointments" {
			return
		}
		landed = true
		_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"UPDATE appointments SET status = ? WHERE id = ?", string(model.StatusCompleted), a.ID)
		if err != nil {
			t.Errorf("complete appointment: %v", err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := call(t, f.appts.Update, http.MethodPut, "/appointments/:id", "/appointments/"+a.ID,
		map[string]string{"status": "CANCELLED"}, &f.reception)
	if !landed {
		t.Fatal("update never reached the database")
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if got := f.status(t, a.ID); got == model.StatusCancelled {
		t.Fatal("appointment was cancelled over a newer status")
	}
	if len(f.events.events) != 0 {
		t.Fatalf("events = %+v", f.events.events)
	}
}
