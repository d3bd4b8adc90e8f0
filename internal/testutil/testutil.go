// Package testutil builds throwaway SQLite databases and fixtures for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iliyamo/clinic-management/internal/database"
	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/utils"
)

// NewDB returns a migrated in-memory SQLite database private to t.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1"
	db, err := database.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// User inserts a user with role whose password equals its email.
func User(t testing.TB, db *gorm.DB, role string) model.User {
	t.Helper()
	email := uuid.NewString()[:8] + "@clinic.test"
	hash, err := utils.HashPassword(email, 4)
	if err != nil {
		t.Fatal(err)
	}
	u := model.User{Email: email, Name: role + " " + email[:4], PasswordHash: hash, Role: role}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// Patient inserts a patient created by creator and assigned to doctor
// (doctor may be nil).
func Patient(t testing.TB, db *gorm.DB, creator model.User, doctor *model.User) model.Patient {
	t.Helper()
	p := model.Patient{
		FirstName:   "Pat",
		LastName:    uuid.NewString()[:6],
		DateOfBirth: time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
		Gender:      "FEMALE",
		Phone:       "555-0101",
		CreatedByID: creator.ID,
	}
	if doctor != nil {
		p.AssignedDoctorID = &doctor.ID
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

// Slot inserts an active slot on day with capacity.
func Slot(t testing.TB, db *gorm.DB, day int, start, end string, capacity int) model.TimeSlot {
	t.Helper()
	s := model.TimeSlot{
		ID: model.SlotID(day, start, end), DayOfWeek: day,
		StartTime: start, EndTime: end, Capacity: capacity, IsActive: true,
	}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return s
}

// Appointment inserts an appointment directly, bypassing capacity checks.
func Appointment(t testing.TB, db *gorm.DB, p model.Patient, doctor model.User, slot model.TimeSlot, date time.Time, status model.AppointmentStatus) model.Appointment {
	t.Helper()
	a := model.Appointment{
		PatientID: p.ID, DoctorID: doctor.ID, TimeSlotID: slot.ID,
		Date: date, Status: status,
	}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return a
}

// Monday is a fixed Monday used across tests.
var Monday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
