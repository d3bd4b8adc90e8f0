// Package repository defines the gorm data access layer and the sentinel
// errors handlers translate into HTTP responses.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the requested row does not exist (404).
	ErrNotFound = errors.New("not found")
	// ErrEmailExists is returned when another user already owns the email.
	ErrEmailExists = errors.New("email already exists")
	// ErrConflict signals a unique constraint collision.
	ErrConflict = errors.New("conflict")
	// ErrInUse is returned when a delete is blocked by dependent rows.
	ErrInUse = errors.New("record is referenced by other records")
	// ErrSlotFull is returned when a time slot has no remaining capacity on the date.
	ErrSlotFull = errors.New("time slot is fully booked")
	// ErrSlotInactive is returned when booking into a disabled slot.
	ErrSlotInactive = errors.New("time slot is not active")
	// ErrSlotDayMismatch is returned when the date does not fall on the slot's weekday.
	ErrSlotDayMismatch = errors.New("date does not fall on the time slot's day of week")
	// ErrDoubleBooked is returned when the patient already holds the slot on that date.
	ErrDoubleBooked = errors.New("patient already has an appointment in this time slot")
	// ErrTreatmentExists is returned when an appointment already has a treatment.
	ErrTreatmentExists = errors.New("treatment already exists for this appointment")
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStatusChanged is returned when an appointment's status moved after
	// the caller read it.
	ErrStatusChanged = errors.New("appointment status changed")
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry  = 1062
	mysqlRowIsReferenced = 1451
	mysqlNoReferencedRow = 1452
)

// translate maps driver and gorm errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return ErrInUse
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			return ErrConflict
		case mysqlRowIsReferenced, mysqlNoReferencedRow:
			return ErrInUse
		}
	}
	return err
}
