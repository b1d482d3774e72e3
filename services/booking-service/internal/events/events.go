// Package events announces booking changes on Kafka for downstream
// consumers such as reminders and analytics.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicbook/libs/kafkax"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/segmentio/kafka-go"
)

const (
	AppointmentBooked        = "booking.appointment.booked.v1"
	AppointmentCancelled     = "booking.appointment.cancelled.v1"
	AppointmentRescheduled   = "booking.appointment.rescheduled.v1"
	AppointmentStatusChanged = "booking.appointment.status_changed.v1"
	CallbackRequested        = "booking.callback.requested.v1"
)

type Event struct {
	ID         string
	Type       string
	Tenant     string
	Key        string
	OccurredAt time.Time
	Payload    any
}

type AppointmentPayload struct {
	AppointmentID int64     `json:"appointment_id"`
	Tenant        string    `json:"tenant"`
	Service       string    `json:"service"`
	Doctor        string    `json:"doctor"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method"`
	PatientEmail  string    `json:"patient_email,omitempty"`
	PreviousDate  string    `json:"previous_date,omitempty"`
	PreviousTime  string    `json:"previous_time,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type CallbackPayload struct {
	CallbackID    int64     `json:"callback_id"`
	Tenant        string    `json:"tenant"`
	PreferredTime string    `json:"preferred_time,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ForAppointment builds an appointment event. The reschedule token is never
// part of the payload.
func ForAppointment(eventType, tenant string, a model.Appointment, previous *model.Appointment, now time.Time) Event {
	p := AppointmentPayload{
		AppointmentID: a.ID,
		Tenant:        tenant,
		Service:       a.Service,
		Doctor:        a.Doctor,
		Date:          a.Date,
		Time:          a.Time,
		Status:        string(a.Status),
		PaymentMethod: string(a.PaymentMethod),
		PatientEmail:  a.PatientEmail,
		OccurredAt:    now.UTC(),
	}
	if previous != nil {
		p.PreviousDate = previous.Date
		p.PreviousTime = previous.Time
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Tenant:     tenant,
		Key:        tenant + ":" + strconv.FormatInt(a.ID, 10),
		OccurredAt: now.UTC(),
		Payload:    p,
	}
}

func ForCallback(tenant string, c model.Callback, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       CallbackRequested,
		Tenant:     tenant,
		Key:        tenant + ":callback:" + strconv.FormatInt(c.ID, 10),
		OccurredAt: now.UTC(),
		Payload: CallbackPayload{
			CallbackID:    c.ID,
			Tenant:        tenant,
			PreferredTime: c.PreferredTime,
			OccurredAt:    now.UTC(),
		},
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Nop drops events; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

type KafkaConfig struct {
	Brokers      string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaPublisher returns Nop when no brokers are configured.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) Publisher {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		logger.Warn("booking events disabled (no kafka brokers configured)")
		return Nop{}
	}
	if cfg.Topic == "" {
		cfg.Topic = "booking.events.v1"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: int(kafka.RequireOne),
	})
	return newKafkaPublisher(writer, cfg.Topic, cfg.WriteTimeout, logger)
}

func newKafkaPublisher(w messageWriter, topic string, timeout time.Duration, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, timeout: timeout, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(evt.Key),
		Value: payload,
		Time:  evt.OccurredAt,
		Headers: kafkax.EventMeta{
			EventID:   evt.ID,
			EventType: evt.Type,
			Tenant:    evt.Tenant,
		}.Headers(),
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// PublishAfterCommit sends evt and only logs failures; the booking is
// already durable by the time events go out.
func PublishAfterCommit(ctx context.Context, pub Publisher, logger *slog.Logger, evt Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, evt); err != nil {
		logger.Warn("booking event publish failed", "event_type", evt.Type, "event_id", evt.ID, "tenant", evt.Tenant, "err", err)
	}
}
