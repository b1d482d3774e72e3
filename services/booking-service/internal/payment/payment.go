// Package payment looks up card payments made by patients before booking.
package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
)

var (
	// ErrUnavailable means the gateway could not be asked; the booking may be retried.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrNotFound means the gateway has no payment under the reference.
	ErrNotFound = errors.New("payment not found")
)

const StatusSucceeded = "succeeded"

// Confirmation is the gateway's view of one payment.
type Confirmation struct {
	Ref         string
	Status      string
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

func (c Confirmation) Succeeded() bool { return c.Status == StatusSucceeded }

type Gateway interface {
	Fetch(ctx context.Context, ref string) (Confirmation, error)
}

// Disabled is used when no gateway key is configured; card bookings are refused.
type Disabled struct{}

func (Disabled) Fetch(context.Context, string) (Confirmation, error) {
	return Confirmation{}, ErrUnavailable
}

type StripeConfig struct {
	SecretKey string
	Timeout   time.Duration
	// URL overrides the API endpoint, for tests.
	URL string
}

type StripeGateway struct {
	client  *paymentintent.Client
	timeout time.Duration
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	retries := int64(0)
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: &retries,
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.URL != "" {
		backendCfg.URL = stripe.String(cfg.URL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	return &StripeGateway{
		client:  &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		timeout: cfg.Timeout,
	}
}

// Fetch retrieves the PaymentIntent named by ref.
func (g *StripeGateway) Fetch(ctx context.Context, ref string) (Confirmation, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Confirmation{}, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.client.Get(ref, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && (serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing) {
			return Confirmation{}, ErrNotFound
		}
		return Confirmation{}, errors.Join(ErrUnavailable, err)
	}
	return Confirmation{
		Ref:         pi.ID,
		Status:      string(pi.Status),
		AmountCents: pi.Amount,
		Currency:    strings.ToLower(string(pi.Currency)),
		Metadata:    pi.Metadata,
	}, nil
}
