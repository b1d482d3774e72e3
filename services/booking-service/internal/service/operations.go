package service

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/audit"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/payment"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/ratelimit"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/store"
)

// Book creates an appointment. Card payments are confirmed with the gateway
// before the store lock is taken, so a slow gateway never holds the lock.
func (s *Service) Book(ctx context.Context, c *Clinic, actor model.Actor, req booking.BookingRequest) (booking.Result, error) {
	if res, err := s.admit(ctx, c, actor, ratelimit.ActionBook); err != nil || !res.OK {
		return res, err
	}
	if res := s.engine.Precheck(&req); !res.OK {
		s.rejected(c, actor, "book", res)
		return res, nil
	}

	var conf *payment.Confirmation
	if model.PaymentMethod(req.PaymentMethod) == model.PaymentCard {
		got, err := s.gateway.Fetch(ctx, req.PaymentRef)
		switch {
		case errors.Is(err, payment.ErrNotFound):
			res := booking.Result{Code: booking.CodePaymentMismatch, Message: "payment reference not recognised"}
			s.rejected(c, actor, "book", res)
			return res, nil
		case err != nil:
			s.logger.Warn("payment lookup failed", "tenant", c.Tenant.ID, "err", err)
			res := booking.Result{Code: booking.CodePaymentUnavailable, Message: "payment could not be verified, try again later"}
			s.rejected(c, actor, "book", res)
			return res, nil
		}
		conf = &got
	}

	res, err := s.mutate(ctx, c, actor, func(cur model.Snapshot) booking.Result {
		return s.engine.Create(cur, req, conf)
	})
	if err != nil {
		return res, err
	}
	if !res.OK {
		s.rejected(c, actor, "book", res)
		return res, nil
	}
	details := appointmentDetails(res.Appointment)
	details["payment_method"] = string(res.Appointment.PaymentMethod)
	c.Audit.Log(actor, audit.EventBookingCreated, details)
	s.publish(ctx, events.ForAppointment(events.AppointmentBooked, c.Tenant.ID, *res.Appointment, nil, s.engine.Now()))
	return res, nil
}

func (s *Service) Reschedule(ctx context.Context, c *Clinic, actor model.Actor, token, date, label string) (booking.Result, error) {
	if res, err := s.admit(ctx, c, actor, ratelimit.ActionReschedule); err != nil || !res.OK {
		return res, err
	}
	res, err := s.mutate(ctx, c, actor, func(cur model.Snapshot) booking.Result {
		return s.engine.Reschedule(cur, token, date, label)
	})
	if err != nil {
		return res, err
	}
	if !res.OK {
		s.rejected(c, actor, "reschedule", res)
		return res, nil
	}
	if res.Changed {
		details := appointmentDetails(res.Appointment)
		details["previous_date"] = res.Previous.Date
		details["previous_time"] = res.Previous.Time
		c.Audit.Log(actor, audit.EventBookingRescheduled, details)
		s.publish(ctx, events.ForAppointment(events.AppointmentRescheduled, c.Tenant.ID, *res.Appointment, res.Previous, s.engine.Now()))
	}
	return res, nil
}

// CancelByToken is the patient-facing cancel.
func (s *Service) CancelByToken(ctx context.Context, c *Clinic, actor model.Actor, token string) (booking.Result, error) {
	if res, err := s.admit(ctx, c, actor, ratelimit.ActionCancel); err != nil || !res.OK {
		return res, err
	}
	return s.cancel(ctx, c, actor, func(cur model.Snapshot) booking.Result {
		return s.engine.CancelByToken(cur, token)
	})
}

// Cancel is the admin cancel by id.
func (s *Service) Cancel(ctx context.Context, c *Clinic, actor model.Actor, id int64) (booking.Result, error) {
	return s.cancel(ctx, c, actor, func(cur model.Snapshot) booking.Result {
		return s.engine.Cancel(cur, id)
	})
}

func (s *Service) cancel(ctx context.Context, c *Clinic, actor model.Actor, op func(model.Snapshot) booking.Result) (booking.Result, error) {
	res, err := s.mutate(ctx, c, actor, op)
	if err != nil {
		return res, err
	}
	if !res.OK {
		s.rejected(c, actor, "cancel", res)
		return res, nil
	}
	if res.Changed {
		c.Audit.Log(actor, audit.EventBookingCancelled, appointmentDetails(res.Appointment))
		s.publish(ctx, events.ForAppointment(events.AppointmentCancelled, c.Tenant.ID, *res.Appointment, nil, s.engine.Now()))
	}
	return res, nil
}

func (s *Service) SetStatus(ctx context.Context, c *Clinic, actor model.Actor, id int64, status model.Status) (booking.Result, error) {
	if status == model.StatusCancelled {
		return s.Cancel(ctx, c, actor, id)
	}
	res, err := s.mutate(ctx, c, actor, func(cur model.Snapshot) booking.Result {
		return s.engine.SetStatus(cur, id, status)
	})
	if err != nil {
		return res, err
	}
	if !res.OK {
		s.rejected(c, actor, "set_status", res)
		return res, nil
	}
	if res.Changed {
		details := appointmentDetails(res.Appointment)
		details["previous_status"] = string(res.Previous.Status)
		c.Audit.Log(actor, audit.EventStatusChanged, details)
		s.publish(ctx, events.ForAppointment(events.AppointmentStatusChanged, c.Tenant.ID, *res.Appointment, res.Previous, s.engine.Now()))
	}
	return res, nil
}

func (s *Service) AddCallback(ctx context.Context, c *Clinic, actor model.Actor, req booking.CallbackRequest) (booking.Result, error) {
	if res, err := s.admit(ctx, c, actor, ratelimit.ActionCallback); err != nil || !res.OK {
		return res, err
	}
	res, err := s.mutate(ctx, c, actor, func(cur model.Snapshot) booking.Result {
		return s.engine.AddCallback(cur, req)
	})
	if err != nil || !res.OK {
		return res, err
	}
	c.Audit.Log(actor, audit.EventCallbackCreated, map[string]any{"callback_id": res.Callback.ID})
	s.publish(ctx, events.ForCallback(c.Tenant.ID, *res.Callback, s.engine.Now()))
	return res, nil
}

func (s *Service) AddReview(ctx context.Context, c *Clinic, actor model.Actor, req booking.ReviewRequest) (booking.Result, error) {
	if res, err := s.admit(ctx, c, actor, ratelimit.ActionReview); err != nil || !res.OK {
		return res, err
	}
	res, err := s.mutate(ctx, c, actor, func(cur model.Snapshot) booking.Result {
		return s.engine.AddReview(cur, req)
	})
	if err != nil || !res.OK {
		return res, err
	}
	c.Audit.Log(actor, audit.EventReviewCreated, map[string]any{"review_id": res.Review.ID, "rating": res.Review.Rating})
	return res, nil
}

func (s *Service) SetAvailability(ctx context.Context, c *Clinic, actor model.Actor, date string, labels []string) (booking.Result, error) {
	res, err := s.mutate(ctx, c, actor, func(cur model.Snapshot) booking.Result {
		return s.engine.SetAvailability(cur, date, labels)
	})
	if err != nil || !res.OK {
		return res, err
	}
	c.Audit.Log(actor, audit.EventAvailabilitySet, map[string]any{"date": date, "labels": len(labels)})
	return res, nil
}

func (s *Service) FreeSlots(ctx context.Context, c *Clinic, date, doctor string) ([]string, error) {
	snap, err := c.Store.Read(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.FreeSlots(snap, date, doctor), nil
}

func (s *Service) CheckSlot(ctx context.Context, c *Clinic, date, label, doctor string) (booking.Result, error) {
	snap, err := c.Store.Read(ctx)
	if err != nil {
		return booking.Result{}, err
	}
	res := s.engine.CheckSlot(snap, date, label, doctor)
	res.Snapshot = model.Snapshot{}
	return res, nil
}

func (s *Service) Appointments(ctx context.Context, c *Clinic, date string) ([]model.Appointment, error) {
	snap, err := c.Store.Read(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.Appointments(snap, date), nil
}

func (s *Service) Stats(ctx context.Context, c *Clinic) (store.Stats, error) {
	return c.Store.Stats(ctx)
}
