package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iliyamo/clinic-management/internal/model"
)

type TreatmentRepo struct{ DB *gorm.DB }

func NewTreatmentRepo(db *gorm.DB) *TreatmentRepo { return &TreatmentRepo{DB: db} }

// TreatmentFilter narrows List. Empty fields do not filter.
type TreatmentFilter struct {
	PatientID         string
	PhysiotherapistID string
}

func treatmentRelations(q *gorm.DB) *gorm.DB {
	return q.Preload("Physiotherapist").Preload("Appointment").Preload("Appointment.Patient")
}

// Create records t against its appointment and marks the appointment
// COMPLETED in the same transaction. PatientID is taken from the
// appointment; PhysiotherapistID defaults to the appointment's doctor.
func (r *TreatmentRepo) Create(ctx context.Context, t *model.Treatment) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a model.Appointment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&a, "id = ?", t.AppointmentID).Error
		if err != nil {
			return translate(err)
		}
		var n int64
		if err := tx.Model(&model.Treatment{}).Where("appointment_id = ?", a.ID).Count(&n).Error; err != nil {
			return translate(err)
		}
		if n > 0 {
			return ErrTreatmentExists
		}
		if !a.Status.CanAttachTreatment() {
			return ErrInvalidTransition
		}

		t.PatientID = a.PatientID
		if t.PhysiotherapistID == "" {
			t.PhysiotherapistID = a.DoctorID
		}
		if t.Date.IsZero() {
			t.Date = time.Now().UTC()
		}
		if err := translate(tx.Create(t).Error); err != nil {
			if errors.Is(err, ErrConflict) {
				return ErrTreatmentExists
			}
			return err
		}
		return translate(tx.Model(&model.Appointment{}).Where("id = ?", a.ID).
			Update("status", model.StatusCompleted).Error)
	})
}

// GetByID loads a treatment with its physiotherapist and appointment.
func (r *TreatmentRepo) GetByID(ctx context.Context, id string) (model.Treatment, error) {
	var t model.Treatment
	err := treatmentRelations(r.DB.WithContext(ctx)).First(&t, "id = ?", id).Error
	return t, translate(err)
}

// List returns treatments newest first.
func (r *TreatmentRepo) List(ctx context.Context, f TreatmentFilter) ([]model.Treatment, error) {
	q := treatmentRelations(r.DB.WithContext(ctx)).Order("date DESC")
	if f.PatientID != "" {
		q = q.Where("patient_id = ?", f.PatientID)
	}
	if f.PhysiotherapistID != "" {
		q = q.Where("physiotherapist_id = ?", f.PhysiotherapistID)
	}
	var out []model.Treatment
	return out, translate(q.Find(&out).Error)
}

// Update applies notes, homeProgram or progress changes.
func (r *TreatmentRepo) Update(ctx context.Context, id string, fields map[string]any) (model.Treatment, error) {
	res := r.DB.WithContext(ctx).Model(&model.Treatment{}).Where("id = ?", id).Updates(fields)
	if err := translate(res.Error); err != nil {
		return model.Treatment{}, err
	}
	return r.GetByID(ctx, id)
}

// Delete removes the treatment and moves its COMPLETED appointment back to
// CONFIRMED. It returns the deleted row.
func (r *TreatmentRepo) Delete(ctx context.Context, id string) (model.Treatment, error) {
	var t model.Treatment
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&t, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if err := tx.Delete(&t).Error; err != nil {
			return translate(err)
		}
		return translate(tx.Model(&model.Appointment{}).
			Where("id = ? AND status = ?", t.AppointmentID, model.StatusCompleted).
			Update("status", model.StatusConfirmed).Error)
	})
	return t, err
}
