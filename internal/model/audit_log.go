package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit actions.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionLogin  = "LOGIN"
	ActionLogout = "LOGOUT"
)

// Audited entity types.
const (
	EntityUser        = "USER"
	EntityPatient     = "PATIENT"
	EntityAppointment = "APPOINTMENT"
	EntityTreatment   = "TREATMENT"
	EntityTimeSlots   = "TIME_SLOTS"
	EntitySettings    = "SETTINGS"
)

// EntityMultiple is the entity id used when one action touches many rows.
const EntityMultiple = "MULTIPLE"

// AuditLog is an append-only trail of who did what to which entity.
type AuditLog struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Action     string         `gorm:"type:varchar(16);not null" json:"action"`
	EntityType string         `gorm:"type:varchar(32);index;not null" json:"entityType"`
	EntityID   string         `gorm:"type:varchar(64);not null" json:"entityId"`
	Details    string         `gorm:"type:text" json:"details"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	UserID     *string        `gorm:"type:varchar(36);index" json:"userId"`
	CreatedAt  time.Time      `gorm:"index" json:"createdAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
