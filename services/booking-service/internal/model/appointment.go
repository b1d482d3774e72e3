package model

import (
	"strings"
	"time"
)

type Status string

const (
	StatusConfirmed       Status = "confirmed"
	StatusPending         Status = "pending"
	StatusPendingCash     Status = "pending_cash"
	StatusPendingTransfer Status = "pending_transfer"
	StatusCancelled       Status = "cancelled"
	StatusCompleted       Status = "completed"
	StatusNoShow          Status = "no_show"
)

func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusPending, StatusPendingCash, StatusPendingTransfer,
		StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Active appointments hold their slot.
func (s Status) Active() bool {
	return s != StatusCancelled && s.Valid()
}

// Terminal statuses admit no further transition.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

type PaymentMethod string

const (
	PaymentCard     PaymentMethod = "card"
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
)

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
)

// DoctorIndifferent means "any available practitioner". It blocks, and is
// blocked by, every doctor at the same date and time.
const DoctorIndifferent = "indifferent"

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Appointment struct {
	ID              int64         `json:"id"`
	PatientName     string        `json:"patient_name"`
	PatientEmail    string        `json:"patient_email"`
	PatientPhone    string        `json:"patient_phone"`
	Service         string        `json:"service"`
	Doctor          string        `json:"doctor"`
	Date            string        `json:"date"`
	Time            string        `json:"time"`
	Status          Status        `json:"status"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	PaymentRef      string        `json:"payment_ref,omitempty"`
	AmountCents     int64         `json:"amount_cents,omitempty"`
	Currency        string        `json:"currency,omitempty"`
	RescheduleToken string        `json:"reschedule_token"`
	Notes           string        `json:"notes,omitempty"`
	Attachments     []string      `json:"attachments,omitempty"`
	RescheduledFrom string        `json:"rescheduled_from,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
}

// NormalizeDoctor lowercases a doctor id and folds every spelling of the
// "anyone" choice into DoctorIndifferent.
func NormalizeDoctor(doctor string) string {
	d := strings.ToLower(strings.TrimSpace(doctor))
	switch d {
	case "", DoctorIndifferent, "indiferente", "any":
		return DoctorIndifferent
	}
	return d
}

// DoctorsOverlap reports whether two doctor assignments compete for the same slot.
func DoctorsOverlap(a, b string) bool {
	a, b = NormalizeDoctor(a), NormalizeDoctor(b)
	return a == DoctorIndifferent || b == DoctorIndifferent || a == b
}

func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

func ValidTimeLabel(s string) bool {
	if len(s) != len(TimeLayout) {
		return false
	}
	_, err := time.Parse(TimeLayout, s)
	return err == nil
}
