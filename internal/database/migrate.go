package database

import (
	"context"

	"gorm.io/gorm"

	"github.com/iliyamo/clinic-management/internal/model"
)

// Migrate creates or updates tables for every persistent model.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&model.User{},
		&model.Patient{},
		&model.TimeSlot{},
		&model.Appointment{},
		&model.Treatment{},
		&model.Configuration{},
		&model.AuditLog{},
	)
}
