package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iliyamo/clinic-management/internal/model"
)

type TimeSlotRepo struct{ DB *gorm.DB }

func NewTimeSlotRepo(db *gorm.DB) *TimeSlotRepo { return &TimeSlotRepo{DB: db} }

// TimeSlotFilter narrows List. Nil fields do not filter.
type TimeSlotFilter struct {
	DayOfWeek *int
	IsActive  *bool
}

// GetByID returns the slot or ErrNotFound.
func (r *TimeSlotRepo) GetByID(ctx context.Context, id string) (model.TimeSlot, error) {
	var s model.TimeSlot
	return s, translate(r.DB.WithContext(ctx).First(&s, "id = ?", id).Error)
}

// List returns slots ordered by day of week and start time.
func (r *TimeSlotRepo) List(ctx context.Context, f TimeSlotFilter) ([]model.TimeSlot, error) {
	q := r.DB.WithContext(ctx).Order("day_of_week ASC").Order("start_time ASC")
	if f.DayOfWeek != nil {
		q = q.Where("day_of_week = ?", *f.DayOfWeek)
	}
	if f.IsActive != nil {
		q = q.Where("is_active = ?", *f.IsActive)
	}
	var slots []model.TimeSlot
	return slots, translate(q.Find(&slots).Error)
}

// Upsert inserts or replaces every slot by id in one transaction.
func (r *TimeSlotRepo) Upsert(ctx context.Context, slots []model.TimeSlot) error {
	if len(slots) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range slots {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&slots[i]).Error
			if err != nil {
				return translate(err)
			}
		}
		return nil
	})
}
