// Package service runs booking operations against a tenant's store: rate
// limit, validate, confirm payment, then read-validate-write under one store
// lock, audit the outcome and publish the event.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/audit"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/payment"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/ratelimit"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/tenant"
)

var ErrLimiterUnavailable = errors.New("rate limiter unavailable")

// Clinic bundles the per-tenant resources. Everything lives under the
// tenant root, so tenants never share state.
type Clinic struct {
	Tenant  tenant.Tenant
	Store   *store.Store
	Limiter ratelimit.Limiter
	Audit   *audit.Log
}

type Config struct {
	Store    store.Options
	Rules    map[string]ratelimit.Rule
	FailOpen bool
	// Redis, when set, replaces the per-tenant file limiter.
	Redis *ratelimit.RedisLimiter
}

type Service struct {
	engine  *booking.Engine
	gateway payment.Gateway
	events  events.Publisher
	logger  *slog.Logger
	cfg     Config

	mu      sync.Mutex
	clinics map[string]*Clinic
}

func New(engine *booking.Engine, gateway payment.Gateway, pub events.Publisher, logger *slog.Logger, cfg Config) *Service {
	if gateway == nil {
		gateway = payment.Disabled{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Rules == nil {
		cfg.Rules = ratelimit.DefaultRules()
	}
	if cfg.Store.Logger == nil {
		cfg.Store.Logger = logger
	}
	return &Service{
		engine:  engine,
		gateway: gateway,
		events:  pub,
		logger:  logger,
		cfg:     cfg,
		clinics: map[string]*Clinic{},
	}
}

func (s *Service) Engine() *booking.Engine { return s.engine }

// Clinic returns the resources for t, opening them on first use.
func (s *Service) Clinic(t tenant.Tenant) (*Clinic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clinics[t.Root]; ok {
		return c, nil
	}
	st, err := store.New(t.Root, s.cfg.Store)
	if err != nil {
		return nil, err
	}
	var limiter ratelimit.Limiter = ratelimit.NewFileLimiter(t.Root, s.logger)
	if s.cfg.Redis != nil {
		limiter = s.cfg.Redis.ForTenant(t.ID)
	}
	c := &Clinic{
		Tenant:  t,
		Store:   st,
		Limiter: limiter,
		Audit:   audit.New(t.Root, s.logger),
	}
	s.clinics[t.Root] = c
	return c, nil
}

// CodeForError classifies an operational error for the HTTP layer.
func CodeForError(err error) booking.Code {
	switch {
	case errors.Is(err, store.ErrLockTimeout):
		return booking.CodeLockTimeout
	case errors.Is(err, store.ErrCorrupted):
		return booking.CodeCorruptedStore
	default:
		return booking.CodeInternal
	}
}

// admit consumes one unit of action for the caller. A refusal is audited
// and returned as a rate_limited result before any business logic runs.
func (s *Service) admit(ctx context.Context, c *Clinic, actor model.Actor, action string) (booking.Result, error) {
	rule, ok := s.cfg.Rules[action]
	if !ok {
		return booking.Result{OK: true}, nil
	}
	allowed, err := c.Limiter.Check(ctx, actor.IP, action, rule)
	if err != nil {
		s.logger.Warn("rate limiter error", "action", action, "tenant", c.Tenant.ID, "err", err)
		if s.cfg.FailOpen {
			return booking.Result{OK: true}, nil
		}
		return booking.Result{}, ErrLimiterUnavailable
	}
	if !allowed {
		c.Audit.Log(actor, audit.EventRateLimited, map[string]any{"action": action, "rule": rule.String()})
		return booking.Result{Code: booking.CodeRateLimited, Message: "too many requests, try again later"}, nil
	}
	return booking.Result{OK: true}, nil
}

// mutate runs op under one store lock and writes only when op changed
// something. Operational errors are audited and logged here.
func (s *Service) mutate(ctx context.Context, c *Clinic, actor model.Actor, op func(model.Snapshot) booking.Result) (booking.Result, error) {
	var res booking.Result
	err := c.Store.Update(ctx, func(cur model.Snapshot) (model.Snapshot, bool, error) {
		res = op(cur)
		return res.Snapshot, res.OK && res.Changed, nil
	})
	if err != nil {
		s.logger.Error("store update failed", "tenant", c.Tenant.ID, "path", actor.Path, "err", err)
		c.Audit.Log(actor, audit.EventStoreError, map[string]any{"error": string(CodeForError(err))})
		return booking.Result{}, err
	}
	return res, nil
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	// The request may be finishing; publishing gets its own short deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	events.PublishAfterCommit(ctx, s.events, s.logger, evt)
}

func (s *Service) rejected(c *Clinic, actor model.Actor, op string, res booking.Result) {
	c.Audit.Log(actor, audit.EventBookingRejected, map[string]any{"operation": op, "code": string(res.Code)})
}

func appointmentDetails(a *model.Appointment) map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{
		"appointment_id": a.ID,
		"service":        a.Service,
		"doctor":         a.Doctor,
		"date":           a.Date,
		"time":           a.Time,
		"status":         string(a.Status),
	}
}
