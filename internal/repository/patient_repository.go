package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/iliyamo/clinic-management/internal/model"
)

type PatientRepo struct{ DB *gorm.DB }

func NewPatientRepo(db *gorm.DB) *PatientRepo { return &PatientRepo{DB: db} }

// PatientFilter narrows List. Empty fields do not filter.
type PatientFilter struct {
	DoctorID string // assigned physiotherapist
	UserID   string // linked PATIENT account
}

// PatientSummary is a listing row: the patient, their assigned doctor and
// the date of their most recent non-cancelled appointment.
type PatientSummary struct {
	Patient   model.Patient
	LastVisit *time.Time
}

func (r *PatientRepo) Create(ctx context.Context, p *model.Patient) error {
	return translate(r.DB.WithContext(ctx).Create(p).Error)
}

// GetByID loads a patient with the assigned doctor. Treatments are loaded
// newest first when withTreatments is set.
func (r *PatientRepo) GetByID(ctx context.Context, id string, withTreatments bool) (model.Patient, error) {
	q := r.DB.WithContext(ctx).Preload("AssignedDoctor")
	if withTreatments {
		q = q.Preload("Treatments", func(db *gorm.DB) *gorm.DB { return db.Order("date DESC") })
	}
	var p model.Patient
	return p, translate(q.First(&p, "id = ?", id).Error)
}

// List returns patients newest first with their last visit date.
func (r *PatientRepo) List(ctx context.Context, f PatientFilter) ([]PatientSummary, error) {
	q := r.DB.WithContext(ctx).Preload("AssignedDoctor").Order("created_at DESC")
	if f.DoctorID != "" {
		q = q.Where("assigned_doctor_id = ?", f.DoctorID)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	var patients []model.Patient
	if err := q.Find(&patients).Error; err != nil {
		return nil, translate(err)
	}
	if len(patients) == 0 {
		return []PatientSummary{}, nil
	}

	ids := make([]string, len(patients))
	for i, p := range patients {
		ids[i] = p.ID
	}
	var visits []struct {
		PatientID string
		Date      time.Time
	}
	err := r.DB.WithContext(ctx).Model(&model.Appointment{}).
		Select("patient_id", "date").
		Where("patient_id IN ?", ids).
		Where("status <> ?", model.StatusCancelled).
		Find(&visits).Error
	if err != nil {
		return nil, translate(err)
	}
	last := make(map[string]time.Time, len(visits))
	for _, v := range visits {
		if cur, ok := last[v.PatientID]; !ok || v.Date.After(cur) {
			last[v.PatientID] = v.Date
		}
	}

	out := make([]PatientSummary, len(patients))
	for i, p := range patients {
		out[i] = PatientSummary{Patient: p}
		if d, ok := last[p.ID]; ok {
			d := d
			out[i].LastVisit = &d
		}
	}
	return out, nil
}

// IDsForUser returns the patient records linked to a PATIENT login.
func (r *PatientRepo) IDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.DB.WithContext(ctx).Model(&model.Patient{}).Where("user_id = ?", userID).Pluck("id", &ids).Error
	return ids, translate(err)
}

// Update applies column values and returns the reloaded patient.
func (r *PatientRepo) Update(ctx context.Context, id string, fields map[string]any) (model.Patient, error) {
	res := r.DB.WithContext(ctx).Model(&model.Patient{}).Where("id = ?", id).Updates(fields)
	if err := translate(res.Error); err != nil {
		return model.Patient{}, err
	}
	return r.GetByID(ctx, id, false)
}

// Delete removes a patient together with their appointments and treatments.
func (r *PatientRepo) Delete(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Patient
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("patient_id = ?", id).Delete(&model.Treatment{}).Error; err != nil {
			return translate(err)
		}
		if err := tx.Where("patient_id = ?", id).Delete(&model.Appointment{}).Error; err != nil {
			return translate(err)
		}
		return translate(tx.Delete(&p).Error)
	})
}

// Count returns the number of patients.
func (r *PatientRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	return n, translate(r.DB.WithContext(ctx).Model(&model.Patient{}).Count(&n).Error)
}

// CountSince counts patients created on or after since.
func (r *PatientRepo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.Patient{}).Where("created_at >= ?", since).Count(&n).Error
	return n, translate(err)
}
