// Package service publishes domain events to RabbitMQ. Publishing is best
// effort: errors are logged and returned so callers can ignore them
// without interrupting the request.
package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	q "github.com/iliyamo/clinic-management/internal/queue"
)

// EventPublisher sends appointment events somewhere.
type EventPublisher interface {
	PublishAppointment(ctx context.Context, event q.AppointmentEvent) error
}

// RabbitPublisher dials the broker per publish, which keeps it free of
// connection state at the cost of a handshake per event.
type RabbitPublisher struct {
	URL string
}

func NewRabbitPublisher(url string) *RabbitPublisher { return &RabbitPublisher{URL: url} }

// PublishAppointment publishes event to the durable appointment queue as a
// persistent message.
func (p *RabbitPublisher) PublishAppointment(ctx context.Context, event q.AppointmentEvent) error {
	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(3 * time.Second)})
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(q.AppointmentQueue, true, false, false, false, nil); err != nil {
		log.Warn().Err(err).Msg("rabbitmq: queue declare failed")
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         event.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", q.AppointmentQueue, false, false, pub); err != nil {
		log.Warn().Err(err).Str("type", event.Type).Msg("rabbitmq: publish failed")
		return err
	}
	return nil
}

// NoopPublisher drops events; used when EVENTS_ENABLED is off.
type NoopPublisher struct{}

func (NoopPublisher) PublishAppointment(context.Context, q.AppointmentEvent) error { return nil }
