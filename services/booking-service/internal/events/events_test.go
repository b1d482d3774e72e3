package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/kafkax"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/segmentio/kafka-go"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaPublisherWritesHeadersAndPayload(t *testing.T) {
	w := &captureWriter{}
	p := newKafkaPublisher(w, "booking.events.v1", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	appt := model.Appointment{
		ID: 7, Service: "consulta", Doctor: "rosero", Date: "2025-06-10", Time: "11:00",
		Status: model.StatusPendingCash, PaymentMethod: model.PaymentCash,
		RescheduleToken: "secret-token-value-0123456789",
	}
	prev := appt
	prev.Time = "10:00"
	evt := ForAppointment(AppointmentRescheduled, "clinic-a", appt, &prev, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if msg.Topic != "booking.events.v1" || string(msg.Key) != "clinic-a:7" {
		t.Fatalf("unexpected topic/key %q %q", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, "event_type") != AppointmentRescheduled {
		t.Fatalf("missing event_type header")
	}
	if kafkax.HeaderValue(msg.Headers, "tenant") != "clinic-a" {
		t.Fatalf("missing tenant header")
	}
	if bytes.Contains(msg.Value, []byte("secret-token")) {
		t.Fatalf("reschedule token leaked into event payload")
	}
	var payload AppointmentPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.PreviousTime != "10:00" || payload.Time != "11:00" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestPublishAfterCommitOnlyLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := newKafkaPublisher(&captureWriter{err: errors.New("broker down")}, "t", time.Second, logger)

	PublishAfterCommit(context.Background(), p, logger, ForCallback("default", model.Callback{ID: 1}, time.Now()))
	if !strings.Contains(buf.String(), "booking event publish failed") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

func TestNewKafkaPublisherWithoutBrokersIsNop(t *testing.T) {
	p := NewKafkaPublisher(KafkaConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, ok := p.(Nop); !ok {
		t.Fatalf("expected Nop publisher, got %T", p)
	}
}
