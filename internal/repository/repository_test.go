package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/repository"
	"github.com/iliyamo/clinic-management/internal/testutil"
)

func TestBookEnforcesSlotRules(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := repository.NewAppointmentRepo(db)

	admin := testutil.User(t, db, model.RoleAdmin)
	doc := testutil.User(t, db, model.RolePhysiotherapist)
	slot := testutil.Slot(t, db, 1, "09:00", "10:30", 2)
	p1 := testutil.Patient(t, db, admin, &doc)
	p2 := testutil.Patient(t, db, admin, &doc)
	p3 := testutil.Patient(t, db, admin, &doc)

	book := func(p model.Patient, date time.Time) error {
		a := model.Appointment{PatientID: p.ID, DoctorID: doc.ID, TimeSlotID: slot.ID, Date: date, Status: model.StatusScheduled}
		return repo.Book(ctx, &a)
	}

	if err := book(p1, testutil.Monday); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if err := book(p1, testutil.Monday); !errors.Is(err, repository.ErrDoubleBooked) {
		t.Fatalf("same patient again = %v, want ErrDoubleBooked", err)
	}
	if err := book(p2, testutil.Monday); err != nil {
		t.Fatalf("second booking: %v", err)
	}
	if err := book(p3, testutil.Monday); !errors.Is(err, repository.ErrSlotFull) {
		t.Fatalf("third booking = %v, want ErrSlotFull", err)
	}
	if err := book(p3, testutil.Monday.AddDate(0, 0, 7)); err != nil {
		t.Fatalf("next monday booking: %v", err)
	}
	if err := book(p3, testutil.Monday.AddDate(0, 0, 1)); !errors.Is(err, repository.ErrSlotDayMismatch) {
		t.Fatalf("tuesday booking = %v, want ErrSlotDayMismatch", err)
	}

	a := model.Appointment{PatientID: p3.ID, DoctorID: doc.ID, TimeSlotID: "missing", Date: testutil.Monday, Status: model.StatusScheduled}
	if err := repo.Book(ctx, &a); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown slot = %v, want ErrNotFound", err)
	}

	db.Model(&model.TimeSlot{}).Where("id = ?", slot.ID).Update("is_active", false)
	if err := book(p3, testutil.Monday.AddDate(0, 0, 14)); !errors.Is(err, repository.ErrSlotInactive) {
		t.Fatalf("inactive slot = %v, want ErrSlotInactive", err)
	}
}

func TestCancelledAppointmentsFreeCapacity(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := repository.NewAppointmentRepo(db)

	admin := testutil.User(t, db, model.RoleAdmin)
	doc := testutil.User(t, db, model.RolePhysiotherapist)
	other := testutil.User(t, db, model.RolePhysiotherapist)
	slot := testutil.Slot(t, db, 1, "09:00", "10:30", 5)
	p := testutil.Patient(t, db, admin, nil)

	testutil.Appointment(t, db, p, doc, slot, testutil.Monday, model.StatusScheduled)
	testutil.Appointment(t, db, p, doc, slot, testutil.Monday.Add(10*time.Hour), model.StatusConfirmed)
	testutil.Appointment(t, db, p, other, slot, testutil.Monday, model.StatusScheduled)
	testutil.Appointment(t, db, p, doc, slot, testutil.Monday, model.StatusCancelled)
	testutil.Appointment(t, db, p, doc, slot, testutil.Monday.AddDate(0, 0, 7), model.StatusScheduled)

	all, err := repo.CountBookings(ctx, slot.ID, testutil.Monday, "")
	if err != nil || all != 3 {
		t.Fatalf("CountBookings(all) = %d, %v; want 3", all, err)
	}
	mine, err := repo.CountBookings(ctx, slot.ID, testutil.Monday, doc.ID)
	if err != nil || mine != 2 {
		t.Fatalf("CountBookings(doctor) = %d, %v; want 2", mine, err)
	}
}

func TestRescheduleExcludesItself(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := repository.NewAppointmentRepo(db)

	admin := testutil.User(t, db, model.RoleAdmin)
	doc := testutil.User(t, db, model.RolePhysiotherapist)
	slot := testutil.Slot(t, db, 1, "09:00", "10:30", 1)
	p := testutil.Patient(t, db, admin, nil)
	a := testutil.Appointment(t, db, p, doc, slot, testutil.Monday, model.StatusScheduled)

	a.Notes = "moved within the same slot"
	if err := repo.Reschedule(ctx, &a, model.StatusScheduled); err != nil {
		t.Fatalf("Reschedule() in own slot = %v", err)
	}
	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Notes != a.Notes || got.TimeSlot == nil || got.Patient == nil || got.Doctor == nil {
		t.Fatalf("GetByID() = %+v", got)
	}
}

func TestUpdateFieldsRequiresReadStatus(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := repository.NewAppointmentRepo(db)

	admin := testutil.User(t, db, model.RoleAdmin)
	doc := testutil.User(t, db, model.RolePhysiotherapist)
	slot := testutil.Slot(t, db, 1, "09:00", "10:30", 2)
	p := testutil.Patient(t, db, admin, &doc)
	a := testutil.Appointment(t, db, p, doc, slot, testutil.Monday, model.StatusCompleted)

	fields := map[string]any{"status": model.StatusCancelled}
	if _, err := repo.UpdateFields(ctx, a.ID, model.StatusConfirmed, fields); !errors.Is(err, repository.ErrStatusChanged) {
		t.Fatalf("UpdateFields() from stale status = %v, want ErrStatusChanged", err)
	}
	if got, _ := repo.GetByID(ctx, a.ID); got.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if _, err := repo.UpdateFields(ctx, "missing", model.StatusConfirmed, fields); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("UpdateFields() unknown id = %v, want ErrNotFound", err)
	}

	moved := a
	moved.Date = testutil.Monday.AddDate(0, 0, 7)
	if err := repo.Reschedule(ctx, &moved, model.StatusScheduled); !errors.Is(err, repository.ErrStatusChanged) {
		t.Fatalf("Reschedule() from stale status = %v, want ErrStatusChanged", err)
	}
}

func TestConcurrentBookingsRespectCapacity(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := repository.NewAppointmentRepo(db)

	admin := testutil.User(t, db, model.RoleAdmin)
	doc := testutil.User(t, db, model.RolePhysiotherapist)
	slot := testutil.Slot(t, db, 1, "09:00", "10:30", 1)
	const n = 8
	patients := make([]model.Patient, n)
	for i := range patients {
		patients[i] = testutil.Patient(t, db, admin, &doc)
	}

	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range patients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			a := model.Appointment{PatientID: patients[i].ID, DoctorID: doc.ID, TimeSlotID: slot.ID, Date: testutil.Monday, Status: model.StatusScheduled}
			errs[i] = repo.Book(ctx, &a)
		}(i)
	}
	close(start)
	wg.Wait()

	var booked, full int
	for i, err := range errs {
		switch {
		case err == nil:
			booked++
		case errors.Is(err, repository.ErrSlotFull):
			full++
		default:
			t.Fatalf("booking %d: unexpected error %v", i, err)
		}
	}
	if booked != 1 || full != n-1 {
		t.Fatalf("booked = %d, full = %d; want 1 and %d", booked, full, n-1)
	}
	if got, _ := repo.CountBookings(ctx, slot.ID, testutil.Monday, ""); got != 1 {
		t.Fatalf("stored bookings = %d, want 1", got)
	}
}

func TestTreatmentLifecycleDrivesStatus(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	appts := repository.NewAppointmentRepo(db)
	treatments := repository.NewTreatmentRepo(db)

	admin := testutil.User(t, db, model.RoleAdmin)
	doc := testutil.User(t, db, model.RolePhysiotherapist)
	slot := testutil.Slot(t, db, 1, "09:00", "10:30", 5)
	p := testutil.Patient(t, db, admin, &doc)
	a := testutil.Appointment(t, db, p, doc, slot, testutil.Monday, model.StatusConfirmed)

	tr := model.Treatment{AppointmentID: a.ID, Notes: "mobilisation"}
	if err := treatments.Create(ctx, &tr); err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if tr.PatientID != p.ID || tr.PhysiotherapistID != doc.ID {
		t.Fatalf("treatment ownership = %+v", tr)
	}
	got, _ := appts.GetByID(ctx, a.ID)
	if got.Status != model.StatusCompleted {
		t.Fatalf("status after treatment = %s, want COMPLETED", got.Status)
	}

	dup := model.Treatment{AppointmentID: a.ID, Notes: "again"}
	if err := treatments.Create(ctx, &dup); !errors.Is(err, repository.ErrTreatmentExists) {
		t.Fatalf("second Create() = %v, want ErrTreatmentExists", err)
	}

	if _, err := treatments.Delete(ctx, tr.ID); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	got, _ = appts.GetByID(ctx, a.ID)
	if got.Status != model.StatusConfirmed {
		t.Fatalf("status after delete = %s, want CONFIRMED", got.Status)
	}

	cancelled := testutil.Appointment(t, db, p, doc, slot, testutil.Monday.AddDate(0, 0, 7), model.StatusCancelled)
	onCancelled := model.Treatment{AppointmentID: cancelled.ID, Notes: "x"}
	if err := treatments.Create(ctx, &onCancelled); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("Create() on cancelled = %v, want ErrInvalidTransition", err)
	}
}

func TestPatientListLastVisit(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := repository.NewPatientRepo(db)

	admin := testutil.User(t, db, model.RoleAdmin)
	doc := testutil.User(t, db, model.RolePhysiotherapist)
	slot := testutil.Slot(t, db, 1, "09:00", "10:30", 5)
	seen := testutil.Patient(t, db, admin, &doc)
	testutil.Patient(t, db, admin, nil)

	testutil.Appointment(t, db, seen, doc, slot, testutil.Monday, model.StatusCompleted)
	testutil.Appointment(t, db, seen, doc, slot, testutil.Monday.AddDate(0, 0, 7), model.StatusScheduled)
	testutil.Appointment(t, db, seen, doc, slot, testutil.Monday.AddDate(0, 0, 14), model.StatusCancelled)

	all, err := repo.List(ctx, repository.PatientFilter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("List() = %d rows, %v", len(all), err)
	}
	mine, err := repo.List(ctx, repository.PatientFilter{DoctorID: doc.ID})
	if err != nil || len(mine) != 1 {
		t.Fatalf("List(doctor) = %d rows, %v", len(mine), err)
	}
	if mine[0].LastVisit == nil || !mine[0].LastVisit.Equal(testutil.Monday.AddDate(0, 0, 7)) {
		t.Fatalf("LastVisit = %v", mine[0].LastVisit)
	}
	if mine[0].Patient.AssignedDoctor == nil || mine[0].Patient.AssignedDoctor.ID != doc.ID {
		t.Fatal("assigned doctor not preloaded")
	}
}

func TestUserEmailUniqueness(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := repository.NewUserRepo(db)

	u := model.User{Email: " New@Clinic.Test ", Name: "N", PasswordHash: "x", Role: model.RoleReceptionist}
	if err := repo.Create(ctx, &u); err != nil {
		t.Fatalf("Create() = %v", err)
	}
	if u.Email != "new@clinic.test" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	again := model.User{Email: "new@clinic.test", Name: "M", PasswordHash: "x", Role: model.RoleReceptionist}
	if err := repo.Create(ctx, &again); !errors.Is(err, repository.ErrEmailExists) {
		t.Fatalf("duplicate Create() = %v, want ErrEmailExists", err)
	}
	taken, err := repo.EmailTaken(ctx, "NEW@clinic.test", u.ID)
	if err != nil || taken {
		t.Fatalf("EmailTaken(self) = %v, %v", taken, err)
	}
}

func TestSettingsUpsert(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	repo := repository.NewSettingRepo(db)

	first := map[string]datatypes.JSON{
		"workingHoursStart": datatypes.JSON(`"09:00"`),
		"clinicName":        datatypes.JSON(`"Physio"`),
	}
	if err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}
	if err := repo.Upsert(ctx, map[string]datatypes.JSON{"workingHoursStart": datatypes.JSON(`"08:00"`)}); err != nil {
		t.Fatalf("second Upsert() = %v", err)
	}

	got, err := repo.Get(ctx, []string{"workingHoursStart"})
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if len(got) != 1 || string(got["workingHoursStart"]) != `"08:00"` {
		t.Fatalf("Get() = %v", got)
	}
	all, _ := repo.Get(ctx, nil)
	if len(all) != 2 {
		t.Fatalf("Get(nil) returned %d keys, want 2", len(all))
	}
}
