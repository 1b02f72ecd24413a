package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/safar/storefront/internal/config"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe is a gateway bound to one account. The secret key lives on the
// instance, never in the stripe package globals.
type Stripe struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

type StripeOption func(*stripe.BackendConfig, *Stripe)

// WithAPIURL points the client at another API host, e.g. stripe-mock.
func WithAPIURL(url string) StripeOption {
	return func(bc *stripe.BackendConfig, _ *Stripe) {
		bc.URL = stripe.String(strings.TrimRight(url, "/"))
	}
}

func WithMaxNetworkRetries(n int64) StripeOption {
	return func(bc *stripe.BackendConfig, _ *Stripe) {
		bc.MaxNetworkRetries = stripe.Int64(n)
	}
}

// WithSignatureTolerance bounds how old a signed webhook timestamp may be.
func WithSignatureTolerance(d time.Duration) StripeOption {
	return func(_ *stripe.BackendConfig, s *Stripe) {
		s.tolerance = d
	}
}

func NewStripe(cfg config.StripeConfig, logger *slog.Logger, opts ...StripeOption) *Stripe {
	s := &Stripe{
		webhookSecret: cfg.WebhookSecret,
		tolerance:     webhook.DefaultTolerance,
	}

	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 30 * time.Second},
		LeveledLogger:     &slogLeveledLogger{logger: logger.With("component", "stripe")},
		MaxNetworkRetries: stripe.Int64(2),
	}
	for _, opt := range opts {
		opt(bc, s)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, bc),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, bc),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, bc),
	}

	s.api = &client.API{}
	s.api.Init(cfg.SecretKey, backends)
	return s
}

// CreateCheckoutSession opens a hosted single-payment session for one line item.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.UnitAmount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
				},
				Quantity: stripe.Int64(quantity),
			},
		},
		CustomerEmail:     stripe.String(req.CustomerEmail),
		ClientReferenceID: stripe.String(strconv.FormatInt(req.OrderID, 10)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("order_id", strconv.FormatInt(req.OrderID, 10))

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", ErrGateway, err)
	}

	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// CheckoutSessionStatus asks Stripe for the current state of a session.
func (s *Stripe) CheckoutSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return "", fmt.Errorf("%w: get checkout session %s: %v", ErrGateway, sessionID, err)
	}
	return SessionStatus(session.Status), nil
}

// ParseWebhookEvent authenticates payload against the Stripe-Signature header
// value and decodes it.
func (s *Stripe) ParseWebhookEvent(payload []byte, signatureHeader string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.webhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                s.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}

	if strings.HasPrefix(out.Type, "checkout.session.") {
		if event.Data == nil {
			return nil, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, event.ID)
		}
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: decode checkout session: %v", ErrMalformedEvent, err)
		}
		if session.ID == "" {
			return nil, fmt.Errorf("%w: event %s carries no session id", ErrMalformedEvent, event.ID)
		}
		out.SessionID = session.ID
		out.PaymentStatus = string(session.PaymentStatus)
	}

	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

// slogLeveledLogger routes the stripe client's logging into slog.
type slogLeveledLogger struct {
	logger *slog.Logger
}

func (l *slogLeveledLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *slogLeveledLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l *slogLeveledLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l *slogLeveledLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
