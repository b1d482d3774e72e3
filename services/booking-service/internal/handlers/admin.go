package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
	"github.com/md-rashed-zaman/clinicbook/libs/httpx"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/audit"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/service"
)

type adminCancelRequest struct {
	ID int64 `json:"id"`
}

type setStatusRequest struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type availabilityRequest struct {
	Date   string   `json:"date"`
	Labels []string `json:"labels"`
}

type listResponse struct {
	Appointments []appointmentView `json:"appointments"`
}

// admin authenticates a staff bearer token scoped to the resolved tenant.
func (h *BookingHandler) admin(w http.ResponseWriter, r *http.Request) (*service.Clinic, model.Actor, bool) {
	clinic, actor, ok := h.public(w, r)
	if !ok {
		return nil, actor, false
	}
	claims, ok := auth.AdminFromRequest(r, h.adminSecret, clinic.Tenant.ID)
	if !ok {
		reason := "invalid token"
		if auth.BearerToken(r) == "" {
			reason = "missing token"
		}
		clinic.Audit.Log(actor, audit.EventAdminDenied, map[string]any{"reason": reason})
		writeError(w, booking.CodeUnauthorized, "admin authentication required")
		return nil, actor, false
	}
	actor.Class = model.ActorAdmin
	actor.Subject = claims.Subject
	return clinic, actor, true
}

func (h *BookingHandler) AdminCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	clinic, actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req adminCancelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID <= 0 {
		writeError(w, booking.CodeValidation, "id is required")
		return
	}
	res, err := h.svc.Cancel(r.Context(), clinic, actor, req.ID)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	writeAppointment(w, res)
}

func (h *BookingHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	clinic, actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req setStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID <= 0 {
		writeError(w, booking.CodeValidation, "id is required")
		return
	}
	status := model.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	res, err := h.svc.SetStatus(r.Context(), clinic, actor, req.ID, status)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	writeAppointment(w, res)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	clinic, _, ok := h.admin(w, r)
	if !ok {
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date != "" && !model.ValidDate(date) {
		writeError(w, booking.CodeValidation, "date must be YYYY-MM-DD")
		return
	}
	appts, err := h.svc.Appointments(r.Context(), clinic, date)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	out := listResponse{Appointments: make([]appointmentView, 0, len(appts))}
	for _, a := range appts {
		out.Appointments = append(out.Appointments, viewOf(a))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *BookingHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	clinic, actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req availabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	date := strings.TrimSpace(req.Date)
	res, err := h.svc.SetAvailability(r.Context(), clinic, actor, date, req.Labels)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	if !res.OK {
		writeResult(w, res)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"date": date, "labels": res.Snapshot.Availability[date]})
}

func (h *BookingHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	clinic, _, ok := h.admin(w, r)
	if !ok {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, booking.CodeValidation, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := clinic.Audit.ListRecent(limit)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *BookingHandler) StoreStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	clinic, _, ok := h.admin(w, r)
	if !ok {
		return
	}
	stats, err := h.svc.Stats(r.Context(), clinic)
	if err != nil {
		h.writeOpError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tenant": clinic.Tenant.ID, "store": stats})
}
