package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role names stored on users.role and carried in the session identity.
const (
	RoleAdmin           = "ADMIN"
	RoleReceptionist    = "RECEPTIONIST"
	RolePhysiotherapist = "PHYSIOTHERAPIST"
	RolePatient         = "PATIENT"
)

// ValidRole reports whether r is one of the four known roles.
func ValidRole(r string) bool {
	switch r {
	case RoleAdmin, RoleReceptionist, RolePhysiotherapist, RolePatient:
		return true
	}
	return false
}

// User is a login account. Physiotherapists are users that own
// appointments; admins and receptionists create patients.
type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	Role         string    `gorm:"type:varchar(32);index;not null" json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
