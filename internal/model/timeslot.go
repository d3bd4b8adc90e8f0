package model

import (
	"fmt"
	"time"
)

// TimeSlot is a weekly recurring booking window. DayOfWeek follows
// time.Weekday (0 = Sunday). Capacity bounds the number of appointments
// per calendar date.
type TimeSlot struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	DayOfWeek int       `gorm:"not null;index:idx_slot_day_start,priority:1" json:"dayOfWeek"`
	StartTime string    `gorm:"type:varchar(5);not null;index:idx_slot_day_start,priority:2" json:"startTime"`
	EndTime   string    `gorm:"type:varchar(5);not null" json:"endTime"`
	Capacity  int       `gorm:"not null" json:"capacity"`
	IsActive  bool      `gorm:"not null" json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SlotID builds the seeded identifier "<day>-<start>-<end>".
func SlotID(day int, start, end string) string {
	return fmt.Sprintf("%d-%s-%s", day, start, end)
}

// Label renders "09:00 - 10:30".
func (s TimeSlot) Label() string { return s.StartTime + " - " + s.EndTime }

// Validate checks the invariants a slot must hold before it is stored.
func (s TimeSlot) Validate() error {
	if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
		return fmt.Errorf("dayOfWeek must be between 0 and 6")
	}
	start, err := time.Parse("15:04", s.StartTime)
	if err != nil {
		return fmt.Errorf("startTime must be HH:MM")
	}
	end, err := time.Parse("15:04", s.EndTime)
	if err != nil {
		return fmt.Errorf("endTime must be HH:MM")
	}
	if !start.Before(end) {
		return fmt.Errorf("startTime must be before endTime")
	}
	if s.Capacity < 0 {
		return fmt.Errorf("capacity must not be negative")
	}
	return nil
}
