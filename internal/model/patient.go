package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Patient is a clinic patient record. UserID optionally links the record
// to a PATIENT login so that account can see its own appointments.
type Patient struct {
	ID               string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	FirstName        string    `gorm:"type:varchar(100);not null" json:"firstName"`
	LastName         string    `gorm:"type:varchar(100);not null" json:"lastName"`
	DateOfBirth      time.Time `gorm:"not null" json:"dateOfBirth"`
	Gender           string    `gorm:"type:varchar(16);not null" json:"gender"`
	Address          string    `gorm:"type:varchar(255)" json:"address"`
	Phone            string    `gorm:"type:varchar(32);not null" json:"phone"`
	Email            string    `gorm:"type:varchar(255)" json:"email"`
	MedicalHistory   string    `gorm:"type:text" json:"medicalHistory,omitempty"`
	CreatedByID      string    `gorm:"type:varchar(36);index;not null" json:"createdById"`
	AssignedDoctorID *string   `gorm:"type:varchar(36);index" json:"assignedDoctorId"`
	UserID           *string   `gorm:"type:varchar(36);index" json:"userId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	CreatedBy      *User       `gorm:"foreignKey:CreatedByID;constraint:OnDelete:RESTRICT" json:"createdBy,omitempty"`
	AssignedDoctor *User       `gorm:"foreignKey:AssignedDoctorID;constraint:OnDelete:SET NULL" json:"assignedDoctor,omitempty"`
	Treatments     []Treatment `gorm:"foreignKey:PatientID" json:"treatments,omitempty"`
}

// FullName joins first and last name the way listings display it.
func (p Patient) FullName() string { return p.FirstName + " " + p.LastName }

// BeforeCreate assigns a UUID when the caller did not.
func (p *Patient) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
