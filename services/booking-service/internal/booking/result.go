package booking

import (
	"net/http"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
)

// Code classifies an outcome. Expected business outcomes travel as codes in
// a Result; only lock, corruption and I/O failures are Go errors.
type Code string

const (
	CodeValidation         Code = "validation_error"
	CodePastDate           Code = "past_date"
	CodeSlotUnavailable    Code = "slot_unavailable"
	CodeSlotTaken          Code = "slot_taken"
	CodePaymentMismatch    Code = "payment_mismatch"
	CodePaymentUnavailable Code = "payment_unavailable"
	CodeNotFound           Code = "not_found"
	CodeAlreadyCancelled   Code = "already_cancelled"
	CodeInvalidTransition  Code = "invalid_transition"
	CodeLockTimeout        Code = "lock_timeout"
	CodeCorruptedStore     Code = "corrupted_store"
	CodeRateLimited        Code = "rate_limited"
	CodeInvalidTenant      Code = "invalid_tenant"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeInternal           Code = "internal_error"
)

// HTTPStatus maps a code to the status the HTTP layer answers with.
func HTTPStatus(c Code) int {
	switch c {
	case "":
		return http.StatusOK
	case CodeValidation, CodePastDate, CodeInvalidTenant:
		return http.StatusBadRequest
	case CodeSlotUnavailable, CodeNotFound:
		return http.StatusNotFound
	case CodeSlotTaken, CodeAlreadyCancelled, CodeInvalidTransition:
		return http.StatusConflict
	case CodePaymentMismatch:
		return http.StatusPaymentRequired
	case CodePaymentUnavailable:
		return http.StatusBadGateway
	case CodeLockTimeout:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type Result struct {
	OK      bool
	Code    Code
	Message string
	// Changed is false when the operation succeeded without altering the
	// snapshot, e.g. cancelling twice. Nothing needs writing then.
	Changed bool

	Appointment *model.Appointment
	// Previous holds the appointment as it was before a reschedule or status change.
	Previous *model.Appointment
	Callback *model.Callback
	Review   *model.Review
	Snapshot model.Snapshot
}

func fail(code Code, msg string) Result {
	return Result{Code: code, Message: msg}
}

func changed(next model.Snapshot) Result {
	return Result{OK: true, Changed: true, Snapshot: next}
}
