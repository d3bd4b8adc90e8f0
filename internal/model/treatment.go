package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Treatment records what happened during an appointment. At most one
// treatment exists per appointment.
type Treatment struct {
	ID                string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	AppointmentID     string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"appointmentId"`
	PatientID         string    `gorm:"type:varchar(36);index;not null" json:"patientId"`
	PhysiotherapistID string    `gorm:"type:varchar(36);index;not null" json:"physiotherapistId"`
	Date              time.Time `gorm:"not null" json:"date"`
	Notes             string    `gorm:"type:text;not null" json:"notes"`
	HomeProgram       string    `gorm:"type:text" json:"homeProgram"`
	Progress          string    `gorm:"type:text" json:"progress"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`

	Appointment     *Appointment `gorm:"foreignKey:AppointmentID;constraint:OnDelete:CASCADE" json:"appointment,omitempty"`
	Physiotherapist *User        `gorm:"foreignKey:PhysiotherapistID;constraint:OnDelete:RESTRICT" json:"physiotherapist,omitempty"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (t *Treatment) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
