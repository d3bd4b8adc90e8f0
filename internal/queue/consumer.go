package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// StartAppointmentConsumer connects to url, declares the appointment queue
// (durable) and appends each event as one line to logPath. It reconnects
// with backoff until ctx is cancelled, then returns ctx.Err().
func StartAppointmentConsumer(ctx context.Context, url, logPath string) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("appointment-consumer: dial failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = consumeLoop(ctx, conn, logPath)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("appointment-consumer: consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logPath string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn().Err(err).Msg("appointment-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(AppointmentQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(AppointmentQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := HandleMessage(d.Body, logPath); err != nil {
				log.Error().Err(err).Msg("appointment-consumer: handle message failed")
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one event body and appends it to logPath.
func HandleMessage(body []byte, logPath string) error {
	var ev AppointmentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.AppointmentID == "" {
		return errors.New("event missing type or appointmentId")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders ev as a single human-friendly log line.
func FormatLine(ev AppointmentEvent) string {
	return fmt.Sprintf("[%s] %s | appointment_id=%s | patient=%q | doctor=%q | slot=%s | date=%s | status=%s | actor=%s\n",
		ev.OccurredAt, ev.Type, ev.AppointmentID, ev.PatientName, ev.DoctorName, ev.TimeSlotID, ev.Date, ev.Status, ev.ActorID)
}
