// Package availability reports how much capacity a weekly time slot has
// left on a given calendar date.
package availability

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/clinic-management/internal/metrics"
	"github.com/iliyamo/clinic-management/internal/model"
	"github.com/iliyamo/clinic-management/internal/repository"
)

// ErrSlotNotFound is returned when the requested time slot does not exist.
var ErrSlotNotFound = errors.New("time slot not found")

// SlotFinder loads a time slot by id.
type SlotFinder interface {
	GetByID(ctx context.Context, id string) (model.TimeSlot, error)
}

// BookingCounter counts bookings in a slot on one calendar day,
// optionally for a single practitioner.
type BookingCounter interface {
	CountBookings(ctx context.Context, slotID string, day time.Time, doctorID string) (int64, error)
}

// Result is the availability answer returned to clients.
type Result struct {
	Available         bool `json:"available"`
	RemainingCapacity int  `json:"remainingCapacity"`
	Capacity          int  `json:"capacity"`
	Booked            int  `json:"booked"`
}

// Compute derives a Result from a capacity and a booking count.
// RemainingCapacity goes negative when a slot is already over-booked.
func Compute(capacity, booked int) Result {
	remaining := capacity - booked
	return Result{
		Available:         remaining > 0,
		RemainingCapacity: remaining,
		Capacity:          capacity,
		Booked:            booked,
	}
}

// Checker answers availability questions from the store.
type Checker struct {
	slots    SlotFinder
	bookings BookingCounter
}

func NewChecker(slots SlotFinder, bookings BookingCounter) *Checker {
	return &Checker{slots: slots, bookings: bookings}
}

// Check counts the bookings for slotID on day (and doctorID when given)
// against the slot capacity. The result is advisory: booking re-checks
// under a slot lock.
func (c *Checker) Check(ctx context.Context, day time.Time, slotID, doctorID string) (Result, error) {
	slot, err := c.slots.GetByID(ctx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{}, ErrSlotNotFound
		}
		return Result{}, err
	}
	booked, err := c.bookings.CountBookings(ctx, slot.ID, day, doctorID)
	if err != nil {
		return Result{}, err
	}
	res := Compute(slot.Capacity, int(booked))
	if res.Available {
		metrics.AvailabilityChecks.WithLabelValues("available").Inc()
	} else {
		metrics.AvailabilityChecks.WithLabelValues("full").Inc()
	}
	return res, nil
}
