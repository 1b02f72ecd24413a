package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/safar/storefront/internal/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		price string
		want  int64
	}{
		{"19.99", 1999},
		{"0.01", 1},
		{"10", 1000},
		{"4.355", 435},
		{"0.009", 0},
		{"12345678.90", 1234567890},
	}

	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			assert.Equal(t, tt.want, MinorUnits(decimal.RequireFromString(tt.price)))
		})
	}
}

func TestCreateCheckoutSessionSendsLineItem(t *testing.T) {
	var form url.Values
	var authHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		authHeader = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_test_123","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_123"}`)
	}))
	defer srv.Close()

	gw := NewStripe(config.StripeConfig{SecretKey: "sk_test_abc", WebhookSecret: testWebhookSecret},
		discardLogger(), WithAPIURL(srv.URL), WithMaxNetworkRetries(0))

	session, err := gw.CreateCheckoutSession(context.Background(), CheckoutRequest{
		OrderID:       42,
		ProductName:   "Mug",
		Currency:      "usd",
		UnitAmount:    1999,
		Quantity:      1,
		CustomerEmail: "buyer@example.com",
		SuccessURL:    "https://shop.example.com/success/",
		CancelURL:     "https://shop.example.com/cancel/",
	})
	require.NoError(t, err)

	assert.Equal(t, "cs_test_123", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_123", session.URL)

	assert.Equal(t, "Bearer sk_test_abc", authHeader)
	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "usd", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "1999", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "Mug", form.Get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "1", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "buyer@example.com", form.Get("customer_email"))
	assert.Equal(t, "https://shop.example.com/success/", form.Get("success_url"))
	assert.Equal(t, "https://shop.example.com/cancel/", form.Get("cancel_url"))
	assert.Equal(t, "42", form.Get("client_reference_id"))
	assert.Equal(t, "42", form.Get("metadata[order_id]"))
}

func TestCreateCheckoutSessionProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"Invalid currency"}}`)
	}))
	defer srv.Close()

	gw := NewStripe(config.StripeConfig{SecretKey: "sk_test_abc"}, discardLogger(),
		WithAPIURL(srv.URL), WithMaxNetworkRetries(0))

	_, err := gw.CreateCheckoutSession(context.Background(), CheckoutRequest{OrderID: 1, Currency: "zzz", UnitAmount: 100})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGateway))
}

func TestCheckoutSessionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/checkout/sessions/cs_test_expired":
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = io.WriteString(w, `{"id":"cs_test_expired","object":"checkout.session","status":"expired"}`)
		case "/v1/checkout/sessions/cs_test_paid":
			_, _ = io.WriteString(w, `{"id":"cs_test_paid","object":"checkout.session","status":"complete","payment_status":"paid"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`)
		}
	}))
	defer srv.Close()

	gw := NewStripe(config.StripeConfig{SecretKey: "sk_test_abc"}, discardLogger(),
		WithAPIURL(srv.URL), WithMaxNetworkRetries(0))
	ctx := context.Background()

	status, err := gw.CheckoutSessionStatus(ctx, "cs_test_expired")
	require.NoError(t, err)
	assert.Equal(t, SessionExpired, status)

	status, err = gw.CheckoutSessionStatus(ctx, "cs_test_paid")
	require.NoError(t, err)
	assert.Equal(t, SessionComplete, status)

	_, err = gw.CheckoutSessionStatus(ctx, "cs_test_missing")
	assert.ErrorIs(t, err, ErrGateway)
}

func signedPayload(t *testing.T, body, secret string, at time.Time) string {
	t.Helper()
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    secret,
		Timestamp: at,
	}).Header
}

const completedEvent = `{
  "id": "evt_test_1",
  "object": "event",
  "api_version": "2020-08-27",
  "type": "checkout.session.completed",
  "data": {"object": {"id": "cs_test_123", "object": "checkout.session", "payment_status": "paid"}}
}`

func TestParseWebhookEvent(t *testing.T) {
	gw := NewStripe(config.StripeConfig{SecretKey: "sk_test_abc", WebhookSecret: testWebhookSecret}, discardLogger())

	t.Run("completed session", func(t *testing.T) {
		header := signedPayload(t, completedEvent, testWebhookSecret, time.Now())

		event, err := gw.ParseWebhookEvent([]byte(completedEvent), header)
		require.NoError(t, err)
		assert.Equal(t, "evt_test_1", event.ID)
		assert.Equal(t, EventCheckoutSessionCompleted, event.Type)
		assert.Equal(t, "cs_test_123", event.SessionID)
		assert.Equal(t, "paid", event.PaymentStatus)
	})

	t.Run("other event type", func(t *testing.T) {
		body := `{"id":"evt_test_2","object":"event","type":"payment_intent.created","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`
		header := signedPayload(t, body, testWebhookSecret, time.Now())

		event, err := gw.ParseWebhookEvent([]byte(body), header)
		require.NoError(t, err)
		assert.Equal(t, "payment_intent.created", event.Type)
		assert.Empty(t, event.SessionID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := signedPayload(t, completedEvent, "whsec_someone_else", time.Now())

		_, err := gw.ParseWebhookEvent([]byte(completedEvent), header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := gw.ParseWebhookEvent([]byte(completedEvent), "")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		header := signedPayload(t, completedEvent, testWebhookSecret, time.Now().Add(-time.Hour))

		_, err := gw.ParseWebhookEvent([]byte(completedEvent), header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		header := signedPayload(t, completedEvent, testWebhookSecret, time.Now())

		_, err := gw.ParseWebhookEvent([]byte(completedEvent+" "), header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("signed garbage", func(t *testing.T) {
		body := `not json`
		header := signedPayload(t, body, testWebhookSecret, time.Now())

		_, err := gw.ParseWebhookEvent([]byte(body), header)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("completed session without id", func(t *testing.T) {
		body := `{"id":"evt_test_3","object":"event","type":"checkout.session.completed","data":{"object":{"object":"checkout.session"}}}`
		header := signedPayload(t, body, testWebhookSecret, time.Now())

		_, err := gw.ParseWebhookEvent([]byte(body), header)
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})
}
