// Package queue defines message payloads exchanged over the message broker
// and the consumer that logs them.
package queue

// AppointmentQueue is the durable queue carrying appointment events.
const AppointmentQueue = "appointment.events"

// Event types.
const (
	EventAppointmentCreated       = "appointment.created"
	EventAppointmentStatusChanged = "appointment.status_changed"
	EventAppointmentRescheduled   = "appointment.rescheduled"
	EventAppointmentDeleted       = "appointment.deleted"
)

// AppointmentEvent is published after an appointment is booked, moved,
// changes status or is removed. It carries enough for downstream consumers
// (notifications, analytics) without querying the primary database.
type AppointmentEvent struct {
	Type          string `json:"type"`
	AppointmentID string `json:"appointmentId"`
	PatientID     string `json:"patientId"`
	PatientName   string `json:"patientName,omitempty"`
	DoctorID      string `json:"doctorId"`
	DoctorName    string `json:"doctorName,omitempty"`
	TimeSlotID    string `json:"timeSlotId"`
	Date          string `json:"date"`
	Status        string `json:"status"`
	ActorID       string `json:"actorId"`
	OccurredAt    string `json:"occurredAt"`
}
