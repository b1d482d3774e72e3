package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicbook/libs/auth"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/payment"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/ratelimit"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/service"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/store"
	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/tenant"
)

const testSecret = "handler-test-secret"

func newTestMux(t *testing.T, rules map[string]ratelimit.Rule) *http.ServeMux {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := booking.NewEngine(catalog.Default())
	engine.Now = func() time.Time { return time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC) }
	if rules == nil {
		rules = map[string]ratelimit.Rule{}
	}
	svc := service.New(engine, payment.Disabled{}, events.Nop{}, logger, service.Config{
		Store: store.Options{LockTimeout: 10 * time.Second},
		Rules: rules,
	})
	h := NewBookingHandler(svc, tenant.Resolver{DataDir: t.TempDir()}, logger, testSecret)
	mux := http.NewServeMux()
	h.Register(mux)

	rw := do(t, mux, http.MethodPut, "/api/v1/admin/availability", adminToken(t, "clinic-a"), "clinic-a",
		availabilityRequest{Date: "2025-06-10", Labels: []string{"10:00", "11:00"}})
	if rw.Code != http.StatusOK {
		t.Fatalf("seed availability: %d %s", rw.Code, rw.Body.String())
	}
	return mux
}

func adminToken(t *testing.T, tenantID string) string {
	t.Helper()
	tok, err := auth.SignHS256("staff-1", auth.RoleAdmin, tenantID, time.Hour, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func do(t *testing.T, mux http.Handler, method, path, token, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, "http://clinic.test"+path, r)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(tenant.DefaultHeader, tenantID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	return rw
}

func bookBody(doctor, label string) map[string]any {
	return map[string]any{
		"name":           "Ana Paz",
		"email":          "ana@example.com",
		"service":        "consulta",
		"doctor":         doctor,
		"date":           "2025-06-10",
		"time":           label,
		"payment_method": "cash",
		"consent":        true,
	}
}

func decodeBody[T any](t *testing.T, rw *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rw.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rw.Body.String(), err)
	}
	return out
}

func TestBookCancelRebook(t *testing.T) {
	mux := newTestMux(t, nil)

	rw := do(t, mux, http.MethodPost, "/api/v1/public/book", "", "clinic-a", bookBody("rosero", "10:00"))
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rw.Code, rw.Body.String())
	}
	created := decodeBody[createBookingResponse](t, rw)
	if created.Appointment.Status != "pending_cash" || created.RescheduleToken == "" {
		t.Fatalf("unexpected booking %+v", created)
	}

	rw = do(t, mux, http.MethodPost, "/api/v1/public/book", "", "clinic-a", bookBody("rosero", "10:00"))
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
	if got := decodeBody[errorBody](t, rw); got.Error != string(booking.CodeSlotTaken) {
		t.Fatalf("expected slot_taken, got %+v", got)
	}

	rw = do(t, mux, http.MethodPost, "/api/v1/admin/appointments/cancel", adminToken(t, "clinic-a"), "clinic-a",
		adminCancelRequest{ID: created.Appointment.ID})
	if rw.Code != http.StatusOK {
		t.Fatalf("admin cancel: %d %s", rw.Code, rw.Body.String())
	}

	rw = do(t, mux, http.MethodPost, "/api/v1/public/book", "", "clinic-a", bookBody("rosero", "10:00"))
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected rebooking to succeed, got %d %s", rw.Code, rw.Body.String())
	}
}

func TestIndifferentDoctorBlocksSlot(t *testing.T) {
	mux := newTestMux(t, nil)

	rw := do(t, mux, http.MethodPost, "/api/v1/public/book", "", "clinic-a", bookBody("indiferente", "11:00"))
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rw.Code, rw.Body.String())
	}
	rw = do(t, mux, http.MethodPost, "/api/v1/public/book", "", "clinic-a", bookBody("vera", "11:00"))
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a named doctor, got %d", rw.Code)
	}

	rw = do(t, mux, http.MethodGet, "/api/v1/public/check-slot?date=2025-06-10&time=11:00&doctor=rosero", "", "clinic-a", nil)
	check := decodeBody[checkSlotResponse](t, rw)
	if rw.Code != http.StatusOK || check.Available || check.Reason != string(booking.CodeSlotTaken) {
		t.Fatalf("unexpected check-slot %d %+v", rw.Code, check)
	}

	rw = do(t, mux, http.MethodGet, "/api/v1/public/slots?date=2025-06-10&doctor=rosero", "", "clinic-a", nil)
	slots := decodeBody[slotsResponse](t, rw)
	if len(slots.Slots) != 1 || slots.Slots[0] != "10:00" {
		t.Fatalf("expected only 10:00 free, got %+v", slots)
	}
}

func TestRescheduleAndCancelByToken(t *testing.T) {
	mux := newTestMux(t, nil)

	rw := do(t, mux, http.MethodPost, "/api/v1/public/book", "", "clinic-a", bookBody("rosero", "10:00"))
	created := decodeBody[createBookingResponse](t, rw)

	rw = do(t, mux, http.MethodPost, "/api/v1/public/reschedule", "", "clinic-a",
		rescheduleRequest{Token: created.RescheduleToken, Date: "2025-06-10", Time: "11:00"})
	if rw.Code != http.StatusOK {
		t.Fatalf("reschedule: %d %s", rw.Code, rw.Body.String())
	}
	moved := decodeBody[appointmentResponse](t, rw)
	if moved.Appointment.Time != "11:00" {
		t.Fatalf("expected 11:00, got %+v", moved.Appointment)
	}

	rw = do(t, mux, http.MethodPost, "/api/v1/public/cancel", "", "clinic-a", tokenRequest{Token: "not-a-real-token-value"})
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", rw.Code)
	}
	rw = do(t, mux, http.MethodPost, "/api/v1/public/cancel", "", "clinic-a", tokenRequest{Token: created.RescheduleToken})
	if rw.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rw.Code, rw.Body.String())
	}
	rw = do(t, mux, http.MethodPost, "/api/v1/public/cancel", "", "clinic-a", tokenRequest{Token: created.RescheduleToken})
	again := decodeBody[appointmentResponse](t, rw)
	if rw.Code != http.StatusOK || again.Appointment.Status != "cancelled" {
		t.Fatalf("expected repeated cancel to be a no-op, got %d %+v", rw.Code, again)
	}
}

func TestConcurrentHTTPBookingsSingleWinner(t *testing.T) {
	mux := newTestMux(t, nil)

	const callers = 8
	var wg sync.WaitGroup
	codes := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rw := do(t, mux, http.MethodPost, "/api/v1/public/book", "", "clinic-a", bookBody("vera", "10:00"))
			codes <- rw.Code
		}()
	}
	wg.Wait()
	close(codes)

	created := 0
	for c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}
	if created != 1 {
		t.Fatalf("expected one 201, got %d", created)
	}
}

func TestAdminRoutesRequireTenantToken(t *testing.T) {
	mux := newTestMux(t, nil)

	rw := do(t, mux, http.MethodGet, "/api/v1/admin/appointments", "", "clinic-a", nil)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rw.Code)
	}
	rw = do(t, mux, http.MethodGet, "/api/v1/admin/appointments", adminToken(t, "clinic-b"), "clinic-a", nil)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for another tenant's token, got %d", rw.Code)
	}
	rw = do(t, mux, http.MethodGet, "/api/v1/admin/appointments?date=2025-06-10", adminToken(t, "clinic-a"), "clinic-a", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	rw = do(t, mux, http.MethodGet, "/api/v1/admin/audit?limit=5", adminToken(t, "clinic-a"), "clinic-a", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected audit listing, got %d", rw.Code)
	}
	rw = do(t, mux, http.MethodGet, "/api/v1/admin/store", adminToken(t, "clinic-a"), "clinic-a", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected store stats, got %d", rw.Code)
	}
}

func TestTenantAndMethodErrors(t *testing.T) {
	mux := newTestMux(t, nil)

	rw := do(t, mux, http.MethodPost, "/api/v1/public/book", "", "../etc", bookBody("rosero", "10:00"))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed tenant, got %d", rw.Code)
	}
	if got := decodeBody[errorBody](t, rw); got.Error != string(booking.CodeInvalidTenant) {
		t.Fatalf("expected invalid_tenant, got %+v", got)
	}
	rw = do(t, mux, http.MethodGet, "/api/v1/public/book", "", "clinic-a", nil)
	if rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rw.Code)
	}

	// Tenants do not see each other's bookings.
	rw = do(t, mux, http.MethodPost, "/api/v1/public/book", "", "clinic-b", bookBody("rosero", "10:00"))
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on a tenant without availability, got %d", rw.Code)
	}
}

func TestRateLimitedBooking(t *testing.T) {
	mux := newTestMux(t, map[string]ratelimit.Rule{
		ratelimit.ActionBook: {Limit: 1, Window: time.Hour},
	})

	for i, want := range []int{http.StatusCreated, http.StatusTooManyRequests} {
		label := fmt.Sprintf("1%d:00", i)
		rw := do(t, mux, http.MethodPost, "/api/v1/public/book", "", "clinic-a", bookBody("rosero", label))
		if rw.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rw.Code)
		}
	}
}

func TestUnknownTenantRejectedWhenAllowListSet(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(booking.NewEngine(catalog.Default()), payment.Disabled{}, events.Nop{}, logger, service.Config{})
	dir := t.TempDir()
	h := NewBookingHandler(svc, tenant.Resolver{DataDir: dir, Allowed: []string{"clinic-a"}}, logger, testSecret)
	mux := http.NewServeMux()
	h.Register(mux)

	rw := do(t, mux, http.MethodGet, "/api/v1/public/slots?date=2025-06-10", "", "clinic-z", nil)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a tenant outside the allow-list, got %d", rw.Code)
	}
	if got := decodeBody[errorBody](t, rw); got.Error != string(booking.CodeInvalidTenant) {
		t.Fatalf("expected invalid_tenant, got %+v", got)
	}
	rw = do(t, mux, http.MethodGet, "/api/v1/public/slots?date=2025-06-10", "", "clinic-a", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 for an allowed tenant, got %d %s", rw.Code, rw.Body.String())
	}
}
