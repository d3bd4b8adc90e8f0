package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iliyamo/clinic-management/internal/model"
)

type AppointmentRepo struct{ DB *gorm.DB }

func NewAppointmentRepo(db *gorm.DB) *AppointmentRepo { return &AppointmentRepo{DB: db} }

// AppointmentFilter narrows List and Count. Zero fields do not filter,
// except PatientIDs: a non-nil empty slice matches nothing.
type AppointmentFilter struct {
	Status     model.AppointmentStatus
	Statuses   []model.AppointmentStatus
	From       *time.Time // inclusive
	To         *time.Time // exclusive
	DoctorID   string
	PatientIDs []string
}

func (f AppointmentFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.From != nil {
		q = q.Where("date >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("date < ?", *f.To)
	}
	if f.DoctorID != "" {
		q = q.Where("doctor_id = ?", f.DoctorID)
	}
	if f.PatientIDs != nil {
		if len(f.PatientIDs) == 0 {
			return q.Where("1 = 0")
		}
		q = q.Where("patient_id IN ?", f.PatientIDs)
	}
	return q
}

func withRelations(q *gorm.DB) *gorm.DB {
	return q.Preload("Patient").Preload("Doctor").Preload("TimeSlot")
}

// GetByID loads an appointment with its patient, doctor and time slot.
func (r *AppointmentRepo) GetByID(ctx context.Context, id string) (model.Appointment, error) {
	var a model.Appointment
	err := withRelations(r.DB.WithContext(ctx)).First(&a, "id = ?", id).Error
	return a, translate(err)
}

// List returns matching appointments ordered by date.
func (r *AppointmentRepo) List(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	var out []model.Appointment
	q := f.apply(withRelations(r.DB.WithContext(ctx))).Order("date ASC").Order("time_slot_id ASC")
	return out, translate(q.Find(&out).Error)
}

// Count returns the number of matching appointments.
func (r *AppointmentRepo) Count(ctx context.Context, f AppointmentFilter) (int64, error) {
	var n int64
	err := f.apply(r.DB.WithContext(ctx).Model(&model.Appointment{})).Count(&n).Error
	return n, translate(err)
}

// CountBookings counts non-cancelled appointments in slotID on the calendar
// day of day, restricted to doctorID when it is not empty.
func (r *AppointmentRepo) CountBookings(ctx context.Context, slotID string, day time.Time, doctorID string) (int64, error) {
	return countBookings(r.DB.WithContext(ctx), slotID, day, doctorID, "")
}

func countBookings(db *gorm.DB, slotID string, day time.Time, doctorID, excludeID string) (int64, error) {
	from, to := model.DayBounds(day)
	q := db.Model(&model.Appointment{}).
		Where("time_slot_id = ?", slotID).
		Where("date >= ? AND date < ?", from, to).
		Where("status <> ?", model.StatusCancelled)
	if doctorID != "" {
		q = q.Where("doctor_id = ?", doctorID)
	}
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var n int64
	err := q.Count(&n).Error
	return n, translate(err)
}

// Book inserts a after re-checking the slot inside one transaction.
func (r *AppointmentRepo) Book(ctx context.Context, a *model.Appointment) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkSlot(tx, a); err != nil {
			return err
		}
		return translate(tx.Create(a).Error)
	})
}

// Reschedule stores new patient, doctor, slot or date values for an
// existing appointment, applying the same slot checks as Book. from is the
// status the caller validated against; ErrStatusChanged means another
// request moved the appointment first.
func (r *AppointmentRepo) Reschedule(ctx context.Context, a *model.Appointment, from model.AppointmentStatus) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockStatus(tx, a.ID, from); err != nil {
			return err
		}
		if err := checkSlot(tx, a); err != nil {
			return err
		}
		return updateFrom(tx, a.ID, from, map[string]any{
			"patient_id":   a.PatientID,
			"doctor_id":    a.DoctorID,
			"time_slot_id": a.TimeSlotID,
			"date":         a.Date,
			"status":       a.Status,
			"notes":        a.Notes,
		})
	})
}

// lockStatus locks the appointment row and checks it still has status from.
func lockStatus(tx *gorm.DB, id string, from model.AppointmentStatus) error {
	var cur model.Appointment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id", "status").First(&cur, "id = ?", id).Error
	if err != nil {
		return translate(err)
	}
	if cur.Status != from {
		return ErrStatusChanged
	}
	return nil
}

// updateFrom writes fields only while the row still has status from.
func updateFrom(tx *gorm.DB, id string, from model.AppointmentStatus, fields map[string]any) error {
	res := tx.Model(&model.Appointment{}).Where("id = ? AND status = ?", id, from).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

// checkSlot locks the slot row so concurrent bookings for the same slot
// run one after another, then validates weekday, capacity and double
// booking for a.
func checkSlot(tx *gorm.DB, a *model.Appointment) error {
	var slot model.TimeSlot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&slot, "id = ?", a.TimeSlotID).Error
	if err != nil {
		return translate(err)
	}
	if !slot.IsActive {
		return ErrSlotInactive
	}
	if int(a.Date.UTC().Weekday()) != slot.DayOfWeek {
		return ErrSlotDayMismatch
	}
	booked, err := countBookings(tx, slot.ID, a.Date, "", a.ID)
	if err != nil {
		return err
	}
	if booked >= int64(slot.Capacity) {
		return ErrSlotFull
	}

	from, to := model.DayBounds(a.Date)
	q := tx.Model(&model.Appointment{}).
		Where("patient_id = ? AND time_slot_id = ?", a.PatientID, a.TimeSlotID).
		Where("date >= ? AND date < ?", from, to).
		Where("status <> ?", model.StatusCancelled)
	if a.ID != "" {
		q = q.Where("id <> ?", a.ID)
	}
	var dup int64
	if err := q.Count(&dup).Error; err != nil {
		return translate(err)
	}
	if dup > 0 {
		return ErrDoubleBooked
	}
	return nil
}

// UpdateFields applies status or notes changes that need no slot check. The
// write only lands while the appointment still has status from, so a
// treatment committed in between is never overwritten.
func (r *AppointmentRepo) UpdateFields(ctx context.Context, id string, from model.AppointmentStatus, fields map[string]any) (model.Appointment, error) {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockStatus(tx, id, from); err != nil {
			return err
		}
		return updateFrom(tx, id, from, fields)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return r.GetByID(ctx, id)
}

// Delete removes the appointment and any treatment recorded for it.
func (r *AppointmentRepo) Delete(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("appointment_id = ?", id).Delete(&model.Treatment{}).Error; err != nil {
			return translate(err)
		}
		res := tx.Delete(&model.Appointment{}, "id = ?", id)
		if res.Error != nil {
			return translate(res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
