package repository

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iliyamo/clinic-management/internal/model"
)

type SettingRepo struct{ DB *gorm.DB }

func NewSettingRepo(db *gorm.DB) *SettingRepo { return &SettingRepo{DB: db} }

// Get returns settings as key -> raw JSON. A nil keys slice returns all.
func (r *SettingRepo) Get(ctx context.Context, keys []string) (map[string]datatypes.JSON, error) {
	q := r.DB.WithContext(ctx).Order("config_key")
	if keys != nil {
		q = q.Where("config_key IN ?", keys)
	}
	var rows []model.Configuration
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate(err)
	}
	out := make(map[string]datatypes.JSON, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// Upsert writes every value in one transaction.
func (r *SettingRepo) Upsert(ctx context.Context, values map[string]datatypes.JSON) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			row := model.Configuration{Key: k, Value: v}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "config_key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return translate(err)
			}
		}
		return nil
	})
}
