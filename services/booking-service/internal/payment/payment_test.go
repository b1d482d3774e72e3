package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStripeGatewayFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test_123" {
			t.Errorf("expected bearer key, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/v1/payment_intents/pi_ok"):
			_, _ = w.Write([]byte(`{"id":"pi_ok","object":"payment_intent","amount":4000,"currency":"usd","status":"succeeded","metadata":{"service":"consulta"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent"}}`))
		}
	}))
	defer srv.Close()

	g := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", Timeout: 2 * time.Second, URL: srv.URL})

	conf, err := g.Fetch(context.Background(), "pi_ok")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !conf.Succeeded() || conf.AmountCents != 4000 || conf.Currency != "usd" || conf.Metadata["service"] != "consulta" {
		t.Fatalf("unexpected confirmation %+v", conf)
	}

	if _, err := g.Fetch(context.Background(), "pi_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStripeGatewayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	g := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", Timeout: time.Second, URL: url})
	if _, err := g.Fetch(context.Background(), "pi_ok"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDisabledGateway(t *testing.T) {
	if _, err := (Disabled{}).Fetch(context.Background(), "pi_ok"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
