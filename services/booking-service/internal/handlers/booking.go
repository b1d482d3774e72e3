package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/service"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/tenant"
)

type BookingHandler struct {
	svc         *service.Service
	tenants     tenant.Resolver
	logger      *slog.Logger
	adminSecret string
}

func NewBookingHandler(svc *service.Service, tenants tenant.Resolver, logger *slog.Logger, adminSecret string) *BookingHandler {
	return &BookingHandler{
		svc:         svc,
		tenants:     tenants,
		logger:      logger,
		adminSecret: adminSecret,
	}
}

func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/book", h.Create)
	mux.HandleFunc("/api/v1/public/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/public/cancel", h.CancelByToken)
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/check-slot", h.CheckSlot)
	mux.HandleFunc("/api/v1/public/callbacks", h.Callback)
	mux.HandleFunc("/api/v1/public/reviews", h.Review)
	mux.HandleFunc("/api/v1/admin/appointments", h.List)
	mux.HandleFunc("/api/v1/admin/appointments/cancel", h.AdminCancel)
	mux.HandleFunc("/api/v1/admin/appointments/status", h.SetStatus)
	mux.HandleFunc("/api/v1/admin/availability", h.SetAvailability)
	mux.HandleFunc("/api/v1/admin/audit", h.Audit)
	mux.HandleFunc("/api/v1/admin/store", h.StoreStats)
}

// appointmentView is the appointment as shown over HTTP. The reschedule
// token is never part of it.
type appointmentView struct {
	ID            int64  `json:"id"`
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"patient_email,omitempty"`
	PatientPhone  string `json:"patient_phone,omitempty"`
	Service       string `json:"service"`
	Doctor        string `json:"doctor"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status"`
	AmountCents   int64  `json:"amount_cents,omitempty"`
	Currency      string `json:"currency,omitempty"`
	CreatedAt     string `json:"created_at"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
}

func viewOf(a model.Appointment) appointmentView {
	v := appointmentView{
		ID:            a.ID,
		PatientName:   a.PatientName,
		PatientEmail:  a.PatientEmail,
		PatientPhone:  a.PatientPhone,
		Service:       a.Service,
		Doctor:        a.Doctor,
		Date:          a.Date,
		Time:          a.Time,
		Status:        string(a.Status),
		PaymentMethod: string(a.PaymentMethod),
		PaymentStatus: string(a.PaymentStatus),
		AmountCents:   a.AmountCents,
		Currency:      a.Currency,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		v.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return v
}

type createBookingResponse struct {
	Appointment     appointmentView `json:"appointment"`
	RescheduleToken string          `json:"reschedule_token"`
}

type appointmentResponse struct {
	Appointment appointmentView `json:"appointment"`
}

type rescheduleRequest struct {
	Token string `json:"token"`
	Date  string `json:"date"`
	Time  string `json:"time"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type slotsResponse struct {
	Date   string   `json:"date"`
	Doctor string   `json:"doctor"`
	Slots  []string `json:"slots"`
}

type checkSlotResponse struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Create books an appointment. The reschedule token is returned once, here.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	clinic, actor, ok := h.public(w, r)
	if !ok {
		return
	}
	var req booking.BookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Book(r.Context(), clinic, actor, req)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	if !res.OK {
		writeResult(w, res)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createBookingResponse{
		Appointment:     viewOf(*res.Appointment),
		RescheduleToken: res.Appointment.RescheduleToken,
	})
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	clinic, actor, ok := h.public(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Reschedule(r.Context(), clinic, actor, req.Token, req.Date, req.Time)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	writeAppointment(w, res)
}

func (h *BookingHandler) CancelByToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	clinic, actor, ok := h.public(w, r)
	if !ok {
		return
	}
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.CancelByToken(r.Context(), clinic, actor, req.Token)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	writeAppointment(w, res)
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	clinic, _, ok := h.public(w, r)
	if !ok {
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if !model.ValidDate(date) {
		writeError(w, booking.CodeValidation, "date must be YYYY-MM-DD")
		return
	}
	doctor := model.NormalizeDoctor(r.URL.Query().Get("doctor"))
	slots, err := h.svc.FreeSlots(r.Context(), clinic, date, doctor)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slotsResponse{Date: date, Doctor: doctor, Slots: slots})
}

// CheckSlot answers 200 for both outcomes of an availability question;
// only malformed queries are errors.
func (h *BookingHandler) CheckSlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	clinic, _, ok := h.public(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	res, err := h.svc.CheckSlot(r.Context(), clinic, q.Get("date"), q.Get("time"), q.Get("doctor"))
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	switch res.Code {
	case "":
		httpx.WriteJSON(w, http.StatusOK, checkSlotResponse{Available: true})
	case booking.CodeSlotTaken, booking.CodeSlotUnavailable, booking.CodePastDate:
		httpx.WriteJSON(w, http.StatusOK, checkSlotResponse{Available: false, Reason: string(res.Code)})
	default:
		writeResult(w, res)
	}
}

func (h *BookingHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	clinic, actor, ok := h.public(w, r)
	if !ok {
		return
	}
	var req booking.CallbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.AddCallback(r.Context(), clinic, actor, req)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	if !res.OK {
		writeResult(w, res)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"callback_id": res.Callback.ID})
}

func (h *BookingHandler) Review(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	clinic, actor, ok := h.public(w, r)
	if !ok {
		return
	}
	var req booking.ReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.AddReview(r.Context(), clinic, actor, req)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	if !res.OK {
		writeResult(w, res)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"review_id": res.Review.ID, "approved": res.Review.Approved})
}

// public resolves the tenant and the anonymous actor for a request.
func (h *BookingHandler) public(w http.ResponseWriter, r *http.Request) (*service.Clinic, model.Actor, bool) {
	actor := model.Actor{
		Class:     model.ActorPublic,
		IP:        httpx.ClientIP(r),
		Path:      r.URL.Path,
		RequestID: httpx.RequestIDFromContext(r.Context()),
	}
	t, err := h.tenants.Resolve(r)
	if err != nil {
		if errors.Is(err, tenant.ErrInvalidTenant) {
			writeError(w, booking.CodeInvalidTenant, "unknown or malformed tenant")
			return nil, actor, false
		}
		h.logger.Error("tenant resolution failed", "err", err)
		writeError(w, booking.CodeInternal, "internal error")
		return nil, actor, false
	}
	clinic, err := h.svc.Clinic(t)
	if err != nil {
		h.logger.Error("open clinic failed", "tenant", t.ID, "err", err)
		writeError(w, booking.CodeInternal, "internal error")
		return nil, actor, false
	}
	return clinic, actor, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: string(booking.CodeValidation), Message: "request body too large"})
			return false
		}
		writeError(w, booking.CodeValidation, "invalid json body")
		return false
	}
	return true
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code booking.Code, msg string) {
	httpx.WriteJSON(w, booking.HTTPStatus(code), errorBody{Error: string(code), Message: msg})
}

func writeResult(w http.ResponseWriter, res booking.Result) {
	writeError(w, res.Code, res.Message)
}

func writeAppointment(w http.ResponseWriter, res booking.Result) {
	if !res.OK {
		writeResult(w, res)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentResponse{Appointment: viewOf(*res.Appointment)})
}

func methodNotAllowed(w http.ResponseWriter) {
	httpx.WriteJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method_not_allowed", Message: "method not allowed"})
}

// writeOpError answers operational failures with a generic message; the
// detail is already in the logs and the audit trail.
func (h *BookingHandler) writeOpError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrLimiterUnavailable) {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, errorBody{Error: "rate_limiter_unavailable", Message: "please retry shortly"})
		return
	}
	code := service.CodeForError(err)
	h.logger.Error("booking operation failed", "path", r.URL.Path, "code", code, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
	switch code {
	case booking.CodeLockTimeout:
		w.Header().Set("Retry-After", "1")
		writeError(w, code, "the booking system is busy, please retry")
	default:
		writeError(w, code, "internal error")
	}
}
