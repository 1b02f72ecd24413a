// Package payments talks to the hosted-checkout payment provider: it opens
// checkout sessions and authenticates the provider's webhook notifications.
package payments

import (
	"errors"

	"github.com/shopspring/decimal"
)

const EventCheckoutSessionCompleted = "checkout.session.completed"

var (
	// ErrInvalidSignature means the webhook payload was not signed with our secret,
	// or the signature is too old.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent means the payload was authentic but could not be decoded.
	ErrMalformedEvent = errors.New("malformed webhook event")
	// ErrGateway wraps every failure returned by the provider's API.
	ErrGateway = errors.New("payment provider error")
)

type CheckoutRequest struct {
	OrderID       int64
	ProductName   string
	Currency      string
	UnitAmount    int64
	Quantity      int64
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// SessionStatus is the provider-side state of a checkout session.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

// Event is the provider-agnostic view of a verified webhook notification.
type Event struct {
	ID   string
	Type string
	// SessionID is set for checkout.session.* events.
	SessionID     string
	PaymentStatus string
}

// MinorUnits converts a price to the integer amount of the currency's minor
// unit, multiplying by 100 and truncating any remaining fraction.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Mul(decimal.NewFromInt(100)).IntPart()
}
