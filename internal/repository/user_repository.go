package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/iliyamo/clinic-management/internal/model"
)

type UserRepo struct{ DB *gorm.DB }

func NewUserRepo(db *gorm.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts u after normalizing its email.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	err := translate(r.DB.WithContext(ctx).Create(u).Error)
	if errors.Is(err, ErrConflict) {
		return ErrEmailExists
	}
	return err
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := r.DB.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error
	return u, translate(err)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := r.DB.WithContext(ctx).First(&u, "id = ?", id).Error
	return u, translate(err)
}

// List returns users newest first, optionally restricted to one role.
func (r *UserRepo) List(ctx context.Context, role string) ([]model.User, error) {
	q := r.DB.WithContext(ctx).Order("created_at DESC")
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var users []model.User
	return users, translate(q.Find(&users).Error)
}

// EmailTaken reports whether another user than exceptID owns email.
func (r *UserRepo) EmailTaken(ctx context.Context, email, exceptID string) (bool, error) {
	var n int64
	q := r.DB.WithContext(ctx).Model(&model.User{}).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email)))
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	err := q.Count(&n).Error
	return n > 0, translate(err)
}

// Update applies the given column values and returns the fresh row.
func (r *UserRepo) Update(ctx context.Context, id string, fields map[string]any) (model.User, error) {
	if email, ok := fields["email"].(string); ok {
		fields["email"] = strings.ToLower(strings.TrimSpace(email))
	}
	res := r.DB.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(fields)
	if err := translate(res.Error); err != nil {
		if errors.Is(err, ErrConflict) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

// Delete removes the user. Users still referenced by appointments,
// treatments or created patients yield ErrInUse.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	res := r.DB.WithContext(ctx).Delete(&model.User{}, "id = ?", id)
	if err := translate(res.Error); err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByRole counts users holding role.
func (r *UserRepo) CountByRole(ctx context.Context, role string) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.User{}).Where("role = ?", role).Count(&n).Error
	return n, translate(err)
}

// CountActiveDoctors counts physiotherapists with an appointment dated on
// or after since.
func (r *UserRepo) CountActiveDoctors(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.User{}).
		Where("role = ?", model.RolePhysiotherapist).
		Where("id IN (?)", r.DB.Model(&model.Appointment{}).Select("doctor_id").Where("date >= ?", since)).
		Count(&n).Error
	return n, translate(err)
}
