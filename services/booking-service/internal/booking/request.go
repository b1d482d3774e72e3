package booking

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
)

type BookingRequest struct {
	Name          string   `json:"name" validate:"required,max=120"`
	Email         string   `json:"email" validate:"omitempty,email,max=254"`
	Phone         string   `json:"phone" validate:"omitempty,phone"`
	Service       string   `json:"service" validate:"required,max=64"`
	Doctor        string   `json:"doctor" validate:"max=64"`
	Date          string   `json:"date" validate:"required,datetime=2006-01-02"`
	Time          string   `json:"time" validate:"required,slot_label"`
	PaymentMethod string   `json:"payment_method" validate:"required,oneof=card cash transfer"`
	PaymentRef    string   `json:"payment_ref" validate:"required_if=PaymentMethod card,max=255"`
	Notes         string   `json:"notes" validate:"max=2000"`
	Attachments   []string `json:"attachments" validate:"max=5,dive,max=255"`
	Consent       bool     `json:"consent" validate:"eq=true"`
}

type CallbackRequest struct {
	Name          string `json:"name" validate:"required,max=120"`
	Phone         string `json:"phone" validate:"required,phone"`
	PreferredTime string `json:"preferred_time" validate:"max=64"`
	Notes         string `json:"notes" validate:"max=1000"`
}

type ReviewRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Rating  int    `json:"rating" validate:"min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})
	_ = v.RegisterValidation("slot_label", func(fl validator.FieldLevel) bool {
		return model.ValidTimeLabel(fl.Field().String())
	})
	return v
}

// ValidPhone accepts 7 to 15 digits once spaces, dashes, dots, parentheses
// and a leading plus are removed.
func ValidPhone(s string) bool {
	digits := 0
	for i, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		case r == '+' && i == 0:
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}

func validationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.Tag() {
		case "required", "required_if":
			msgs = append(msgs, e.Field()+" is required")
		case "eq":
			msgs = append(msgs, e.Field()+" must be accepted")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param()))
		case "max", "min":
			msgs = append(msgs, fmt.Sprintf("%s is out of range (%s %s)", e.Field(), e.Tag(), e.Param()))
		default:
			msgs = append(msgs, e.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, ", ")
}

func (r *BookingRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = strings.TrimSpace(r.Phone)
	r.Service = strings.ToLower(strings.TrimSpace(r.Service))
	r.Doctor = model.NormalizeDoctor(r.Doctor)
	r.Date = strings.TrimSpace(r.Date)
	r.Time = strings.TrimSpace(r.Time)
	r.PaymentMethod = strings.ToLower(strings.TrimSpace(r.PaymentMethod))
	r.PaymentRef = strings.TrimSpace(r.PaymentRef)
	r.Notes = strings.TrimSpace(r.Notes)
}

func (r *CallbackRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
	r.PreferredTime = strings.TrimSpace(r.PreferredTime)
	r.Notes = strings.TrimSpace(r.Notes)
}

func (r *ReviewRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Comment = strings.TrimSpace(r.Comment)
}
