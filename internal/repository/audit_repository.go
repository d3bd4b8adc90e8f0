package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/iliyamo/clinic-management/internal/model"
)

// AuditRepo appends and reads audit rows. It deliberately has no update
// or delete methods.
type AuditRepo struct{ DB *gorm.DB }

func NewAuditRepo(db *gorm.DB) *AuditRepo { return &AuditRepo{DB: db} }

func (r *AuditRepo) Append(ctx context.Context, entry *model.AuditLog) error {
	return translate(r.DB.WithContext(ctx).Create(entry).Error)
}

// List returns the newest entries first, optionally for one entity type.
func (r *AuditRepo) List(ctx context.Context, entityType string, limit int) ([]model.AuditLog, error) {
	q := r.DB.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if entityType != "" {
		q = q.Where("entity_type = ?", entityType)
	}
	var out []model.AuditLog
	return out, translate(q.Find(&out).Error)
}
