package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no manual transition leaves s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether a manual status change from s to next is allowed.
// COMPLETED and CANCELLED are terminal.
func (s AppointmentStatus) CanTransition(next AppointmentStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// CanAttachTreatment reports whether recording a treatment may force the
// appointment to COMPLETED.
func (s AppointmentStatus) CanAttachTreatment() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Appointment books a patient with a physiotherapist into a time slot on a
// calendar date. Date is stored as UTC midnight of that day.
type Appointment struct {
	ID         string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	PatientID  string            `gorm:"type:varchar(36);index;not null" json:"patientId"`
	DoctorID   string            `gorm:"type:varchar(36);index;not null" json:"doctorId"`
	TimeSlotID string            `gorm:"type:varchar(64);not null;index:idx_appt_slot_date,priority:1" json:"timeSlotId"`
	Date       time.Time         `gorm:"not null;index:idx_appt_slot_date,priority:2" json:"date"`
	Status     AppointmentStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Notes      string            `gorm:"type:text" json:"notes"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`

	Patient  *Patient  `gorm:"foreignKey:PatientID;constraint:OnDelete:CASCADE" json:"patient,omitempty"`
	Doctor   *User     `gorm:"foreignKey:DoctorID;constraint:OnDelete:RESTRICT" json:"doctor,omitempty"`
	TimeSlot *TimeSlot `gorm:"foreignKey:TimeSlotID;constraint:OnDelete:RESTRICT" json:"timeSlot,omitempty"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (a *Appointment) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// DayBounds returns the half-open UTC range [00:00, next 00:00) covering
// the calendar day of t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// ParseDate parses a YYYY-MM-DD date, or an RFC3339 timestamp, and returns
// UTC midnight of that day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		ts, err2 := time.Parse(time.RFC3339, s)
		if err2 != nil {
			return time.Time{}, err
		}
		t = ts
	}
	start, _ := DayBounds(t)
	return start, nil
}
