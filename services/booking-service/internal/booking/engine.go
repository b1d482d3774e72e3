// Package booking holds the clinic's booking rules. Every operation takes a
// snapshot and returns a Result carrying the next snapshot; nothing here
// touches disk, so callers run operations inside store.Update.
package booking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/payment"
)

type Engine struct {
	Catalog  *catalog.Catalog
	Now      func() time.Time
	NewToken func() (string, error)
}

func NewEngine(c *catalog.Catalog) *Engine {
	if c == nil {
		c = catalog.Default()
	}
	return &Engine{Catalog: c, Now: time.Now, NewToken: NewToken}
}

func (e *Engine) now() time.Time {
	return e.Now().In(e.Catalog.Location())
}

func (e *Engine) today() string {
	return e.now().Format(model.DateLayout)
}

// Precheck validates the payload and rejects past dates. It needs no
// snapshot, so it runs before the store lock and before any gateway call.
func (e *Engine) Precheck(req *BookingRequest) Result {
	req.normalize()
	if err := validate.Struct(req); err != nil {
		return fail(CodeValidation, validationMessage(err))
	}
	if req.Email == "" && req.Phone == "" {
		return fail(CodeValidation, "email or phone is required")
	}
	if req.Date < e.today() {
		return fail(CodePastDate, "date is in the past")
	}
	if _, ok := e.Catalog.Service(req.Service); !ok {
		return fail(CodeValidation, "unknown service")
	}
	if !e.Catalog.KnowsDoctor(req.Doctor) {
		return fail(CodeValidation, "unknown doctor")
	}
	return Result{OK: true}
}

// SlotConflict reports whether an active appointment other than excludeID
// holds date and time for an overlapping doctor. The indifferent doctor
// overlaps with everyone.
func SlotConflict(snap model.Snapshot, date, label, doctor string, excludeID int64) bool {
	for _, a := range snap.OnDate(date) {
		if a.ID == excludeID || !a.Status.Active() || a.Time != label {
			continue
		}
		if model.DoctorsOverlap(a.Doctor, doctor) {
			return true
		}
	}
	return false
}

// Create books a new appointment. conf is the gateway's confirmation for
// card payments, fetched by the caller before taking the store lock.
func (e *Engine) Create(snap model.Snapshot, req BookingRequest, conf *payment.Confirmation) Result {
	if r := e.Precheck(&req); !r.OK {
		return r
	}
	svc, _ := e.Catalog.Service(req.Service)

	if !snap.Availability.Offers(req.Date, req.Time) {
		return fail(CodeSlotUnavailable, "the requested time is not offered on that date")
	}
	if SlotConflict(snap, req.Date, req.Time, req.Doctor, 0) {
		return fail(CodeSlotTaken, "the requested time is already booked")
	}

	method := model.PaymentMethod(req.PaymentMethod)
	status, payStatus := model.StatusPendingCash, model.PaymentPending
	switch method {
	case model.PaymentTransfer:
		status = model.StatusPendingTransfer
	case model.PaymentCard:
		if conf == nil {
			return fail(CodePaymentUnavailable, "payment could not be verified")
		}
		if msg := e.verifyPayment(snap, req, svc, *conf); msg != "" {
			return fail(CodePaymentMismatch, msg)
		}
		status, payStatus = model.StatusConfirmed, model.PaymentPaid
	}

	token, err := e.NewToken()
	if err != nil {
		return fail(CodeInternal, "could not issue a reschedule token")
	}

	now := e.Now().UTC()
	next := snap.Clone()
	appt := model.Appointment{
		ID:              next.AllocateID(),
		PatientName:     req.Name,
		PatientEmail:    req.Email,
		PatientPhone:    req.Phone,
		Service:         svc.ID,
		Doctor:          req.Doctor,
		Date:            req.Date,
		Time:            req.Time,
		Status:          status,
		PaymentMethod:   method,
		PaymentStatus:   payStatus,
		AmountCents:     svc.PriceCents,
		Currency:        e.Catalog.Currency,
		RescheduleToken: token,
		Notes:           req.Notes,
		Attachments:     req.Attachments,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if method == model.PaymentCard {
		appt.PaymentRef = conf.Ref
	}
	next.Appointments = append(next.Appointments, appt)
	next.Reindex()

	res := changed(next)
	res.Appointment = &appt
	return res
}

// verifyPayment returns a non-empty reason when conf does not pay for req.
func (e *Engine) verifyPayment(snap model.Snapshot, req BookingRequest, svc catalog.Service, conf payment.Confirmation) string {
	if conf.Ref == "" || conf.Ref != req.PaymentRef {
		return "payment reference does not match"
	}
	if !conf.Succeeded() {
		return "payment has not succeeded"
	}
	if conf.AmountCents != svc.PriceCents {
		return "payment amount does not match the service price"
	}
	if !strings.EqualFold(conf.Currency, e.Catalog.Currency) {
		return "payment currency does not match"
	}
	md := conf.Metadata
	if md["service"] != svc.ID || md["date"] != req.Date || md["time"] != req.Time {
		return "payment was made for a different appointment"
	}
	if model.NormalizeDoctor(md["doctor"]) != req.Doctor {
		return "payment was made for a different doctor"
	}
	for _, a := range snap.Appointments {
		if a.PaymentRef == conf.Ref {
			return "payment reference already used"
		}
	}
	return ""
}

// Cancel is idempotent: cancelling a cancelled appointment succeeds with
// Changed=false.
func (e *Engine) Cancel(snap model.Snapshot, id int64) Result {
	i, ok := snap.Find(id)
	if !ok {
		return fail(CodeNotFound, "appointment not found")
	}
	return e.cancelAt(snap, i)
}

// CancelByToken is the patient self-service path. Malformed and unknown
// tokens are indistinguishable to the caller.
func (e *Engine) CancelByToken(snap model.Snapshot, token string) Result {
	i, ok := findByToken(snap, token)
	if !ok {
		return fail(CodeNotFound, "appointment not found")
	}
	return e.cancelAt(snap, i)
}

func (e *Engine) cancelAt(snap model.Snapshot, i int) Result {
	cur := snap.Appointments[i]
	switch cur.Status {
	case model.StatusCancelled:
		return Result{OK: true, Appointment: &cur, Snapshot: snap}
	case model.StatusCompleted, model.StatusNoShow:
		return fail(CodeInvalidTransition, fmt.Sprintf("a %s appointment cannot be cancelled", cur.Status))
	}
	now := e.Now().UTC()
	next := snap.Clone()
	a := &next.Appointments[i]
	a.Status = model.StatusCancelled
	a.UpdatedAt = now
	a.CancelledAt = &now

	res := changed(next)
	out := *a
	res.Appointment = &out
	res.Previous = &cur
	return res
}

// Reschedule moves the appointment holding token to date and label, keeping
// its id and token. Its own current slot never counts as a conflict.
func (e *Engine) Reschedule(snap model.Snapshot, token, date, label string) Result {
	date, label = strings.TrimSpace(date), strings.TrimSpace(label)
	if !model.ValidDate(date) || !model.ValidTimeLabel(label) {
		return fail(CodeValidation, "date must be YYYY-MM-DD and time HH:MM")
	}
	i, ok := findByToken(snap, token)
	if !ok {
		return fail(CodeNotFound, "appointment not found")
	}
	cur := snap.Appointments[i]
	switch cur.Status {
	case model.StatusCancelled:
		return fail(CodeAlreadyCancelled, "the appointment was cancelled")
	case model.StatusCompleted, model.StatusNoShow:
		return fail(CodeInvalidTransition, fmt.Sprintf("a %s appointment cannot be rescheduled", cur.Status))
	}
	if date < e.today() {
		return fail(CodePastDate, "date is in the past")
	}
	if cur.Date == date && cur.Time == label {
		return Result{OK: true, Appointment: &cur, Snapshot: snap}
	}
	if !snap.Availability.Offers(date, label) {
		return fail(CodeSlotUnavailable, "the requested time is not offered on that date")
	}
	if SlotConflict(snap, date, label, cur.Doctor, cur.ID) {
		return fail(CodeSlotTaken, "the requested time is already booked")
	}

	next := snap.Clone()
	a := &next.Appointments[i]
	a.RescheduledFrom = cur.Date + " " + cur.Time
	a.Date = date
	a.Time = label
	a.UpdatedAt = e.Now().UTC()
	next.Reindex()

	res := changed(next)
	out := *a
	res.Appointment = &out
	res.Previous = &cur
	return res
}

// SetStatus applies an admin transition. Terminal statuses admit none;
// confirming is only possible from a pending payment.
func (e *Engine) SetStatus(snap model.Snapshot, id int64, status model.Status) Result {
	if !status.Valid() || status == model.StatusPending {
		return fail(CodeValidation, "unknown status")
	}
	if status == model.StatusCancelled {
		return e.Cancel(snap, id)
	}
	i, ok := snap.Find(id)
	if !ok {
		return fail(CodeNotFound, "appointment not found")
	}
	cur := snap.Appointments[i]
	if cur.Status == status {
		return Result{OK: true, Appointment: &cur, Snapshot: snap}
	}
	if cur.Status.Terminal() {
		return fail(CodeInvalidTransition, fmt.Sprintf("cannot move a %s appointment to %s", cur.Status, status))
	}

	next := snap.Clone()
	a := &next.Appointments[i]
	a.Status = status
	if status == model.StatusConfirmed {
		a.PaymentStatus = model.PaymentPaid
	}
	a.UpdatedAt = e.Now().UTC()

	res := changed(next)
	out := *a
	res.Appointment = &out
	res.Previous = &cur
	return res
}

// CheckSlot answers whether a booking for date, label and doctor would be
// accepted right now, without booking.
func (e *Engine) CheckSlot(snap model.Snapshot, date, label, doctor string) Result {
	date, label = strings.TrimSpace(date), strings.TrimSpace(label)
	if !model.ValidDate(date) || !model.ValidTimeLabel(label) {
		return fail(CodeValidation, "date must be YYYY-MM-DD and time HH:MM")
	}
	if date < e.today() {
		return fail(CodePastDate, "date is in the past")
	}
	if !snap.Availability.Offers(date, label) {
		return fail(CodeSlotUnavailable, "the requested time is not offered on that date")
	}
	if SlotConflict(snap, date, label, model.NormalizeDoctor(doctor), 0) {
		return fail(CodeSlotTaken, "the requested time is already booked")
	}
	return Result{OK: true, Snapshot: snap}
}

// FreeSlots lists the offered labels on date still bookable for doctor.
// Labels already past in the clinic's time zone are left out.
func (e *Engine) FreeSlots(snap model.Snapshot, date, doctor string) []string {
	out := []string{}
	today := e.today()
	if !model.ValidDate(date) || date < today {
		return out
	}
	doctor = model.NormalizeDoctor(doctor)
	nowLabel := e.now().Format(model.TimeLayout)
	for _, label := range snap.Availability[date] {
		if date == today && label <= nowLabel {
			continue
		}
		if !SlotConflict(snap, date, label, doctor, 0) {
			out = append(out, label)
		}
	}
	return out
}

// Appointments lists appointments on date, or all of them when date is empty.
func (e *Engine) Appointments(snap model.Snapshot, date string) []model.Appointment {
	if date == "" {
		return append([]model.Appointment{}, snap.Appointments...)
	}
	return snap.OnDate(date)
}

func (e *Engine) AddCallback(snap model.Snapshot, req CallbackRequest) Result {
	req.normalize()
	if err := validate.Struct(&req); err != nil {
		return fail(CodeValidation, validationMessage(err))
	}
	next := snap.Clone()
	var id int64 = 1
	for _, c := range next.Callbacks {
		if c.ID >= id {
			id = c.ID + 1
		}
	}
	cb := model.Callback{
		ID:            id,
		Name:          req.Name,
		Phone:         req.Phone,
		PreferredTime: req.PreferredTime,
		Notes:         req.Notes,
		Status:        "new",
		CreatedAt:     e.Now().UTC(),
	}
	next.Callbacks = append(next.Callbacks, cb)
	res := changed(next)
	res.Callback = &cb
	return res
}

// AddReview stores a review for moderation; it starts unapproved.
func (e *Engine) AddReview(snap model.Snapshot, req ReviewRequest) Result {
	req.normalize()
	if err := validate.Struct(&req); err != nil {
		return fail(CodeValidation, validationMessage(err))
	}
	next := snap.Clone()
	var id int64 = 1
	for _, r := range next.Reviews {
		if r.ID >= id {
			id = r.ID + 1
		}
	}
	rv := model.Review{
		ID:        id,
		Name:      req.Name,
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: e.Now().UTC(),
	}
	next.Reviews = append(next.Reviews, rv)
	res := changed(next)
	res.Review = &rv
	return res
}

// SetAvailability replaces the labels offered on date. Existing appointments
// are kept even if their label is withdrawn.
func (e *Engine) SetAvailability(snap model.Snapshot, date string, labels []string) Result {
	if !model.ValidDate(date) {
		return fail(CodeValidation, "date must be YYYY-MM-DD")
	}
	for _, l := range labels {
		if !model.ValidTimeLabel(l) {
			return fail(CodeValidation, "invalid time label "+strconv.Quote(l))
		}
	}
	next := snap.Clone()
	next.Availability.Set(date, labels)
	return changed(next)
}

// findByToken scans every appointment so the time taken does not depend on
// where, or whether, the token matches.
func findByToken(snap model.Snapshot, token string) (int, bool) {
	token = strings.TrimSpace(token)
	if !plausibleToken(token, model.MinTokenLength) {
		return -1, false
	}
	found := -1
	for i, a := range snap.Appointments {
		if len(a.RescheduleToken) == len(token) && tokenEqual(a.RescheduleToken, token) {
			found = i
		}
	}
	return found, found >= 0
}
