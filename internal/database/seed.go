package database

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/utils"
)

type seedUser struct {
	email, name, password, role string
}

var seedUsers = []seedUser{
	{"admin@clinic.local", "Admin User", "admin123", model.RoleAdmin},
	{"reception@clinic.local", "Reception Desk", "reception123", model.RoleReceptionist},
	{"physio1@clinic.local", "Physiotherapist One", "physio1", model.RolePhysiotherapist},
}

var weekdayWindows = [][2]string{
	{"09:00", "10:30"},
	{"10:30", "12:00"},
	{"12:00", "13:30"},
	{"14:00", "15:30"},
	{"15:30", "17:00"},
}

var defaultSettings = map[string]any{
	"clinicName":               "Physio Clinic",
	"clinicEmail":              "info@clinic.local",
	"clinicPhone":              "+1 555 0100",
	"clinicAddress":            "1 Clinic Street",
	"appointmentDuration":      60,
	"workingHoursStart":        "09:00",
	"workingHoursEnd":          "17:00",
	"workingDays":              []int{1, 2, 3, 4, 5, 6},
	"enableSMSNotifications":   false,
	"enableEmailNotifications": true,
	"allowPatientRegistration": false,
	"allowOnlineBooking":       false,
}

// Seed inserts the default accounts, weekly time slots and clinic settings.
// Existing rows are left untouched so it is safe to run repeatedly.
func Seed(ctx context.Context, db *gorm.DB, bcryptCost int) error {
	tx := db.WithContext(ctx)
	for _, su := range seedUsers {
		hash, err := utils.HashPassword(su.password, bcryptCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", su.email, err)
		}
		u := model.User{Email: su.email, Name: su.name, PasswordHash: hash, Role: su.role}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&u).Error; err != nil {
			return fmt.Errorf("seed user %s: %w", su.email, err)
		}
	}

	slots := DefaultTimeSlots()
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&slots).Error; err != nil {
		return fmt.Errorf("seed time slots: %w", err)
	}

	for key, v := range defaultSettings {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		row := model.Configuration{Key: key, Value: datatypes.JSON(raw)}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
	}
	return nil
}

// DefaultTimeSlots returns five windows Monday to Friday with capacity 5
// and the three morning windows on Saturday with capacity 3.
func DefaultTimeSlots() []model.TimeSlot {
	var out []model.TimeSlot
	for day := 1; day <= 5; day++ {
		for _, w := range weekdayWindows {
			out = append(out, model.TimeSlot{
				ID: model.SlotID(day, w[0], w[1]), DayOfWeek: day,
				StartTime: w[0], EndTime: w[1], Capacity: 5, IsActive: true,
			})
		}
	}
	for _, w := range weekdayWindows[:3] {
		out = append(out, model.TimeSlot{
			ID: model.SlotID(6, w[0], w[1]), DayOfWeek: 6,
			StartTime: w[0], EndTime: w[1], Capacity: 3, IsActive: true,
		})
	}
	return out
}
