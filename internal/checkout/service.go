// Package checkout drives the order/payment lifecycle: an order is created
// unpaid when a hosted payment session is requested and becomes paid exactly
// once, when the provider reports the session completed.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/events"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/payments"
)

var ErrUnauthenticated = errors.New("checkout requires an authenticated user")

type Store interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	CreateOrder(ctx context.Context, order models.Order) (*models.Order, error)
	AttachCheckoutSession(ctx context.Context, orderID int64, sessionID string) error
	FulfillCheckoutSession(ctx context.Context, sessionID string) (*models.Fulfillment, error)
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error)
	ParseWebhookEvent(payload []byte, signatureHeader string) (*payments.Event, error)
}

// EventLog short-circuits provider events that were already applied.
type EventLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type Options struct {
	Currency   string
	SuccessURL string
	CancelURL  string
	// Producer names this service in published event envelopes.
	Producer string
}

type Service struct {
	store     Store
	gateway   Gateway
	publisher events.Publisher
	eventLog  EventLog
	opts      Options
	logger    *slog.Logger
}

func NewService(store Store, gateway Gateway, publisher events.Publisher, eventLog EventLog, opts Options, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if eventLog == nil {
		eventLog = noEventLog{}
	}
	if opts.Producer == "" {
		opts.Producer = "storefront"
	}
	return &Service{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		eventLog:  eventLog,
		opts:      opts,
		logger:    logger,
	}
}

type StartedCheckout struct {
	Order   *models.Order
	Session *payments.CheckoutSession
}

// StartCheckout creates an unpaid order for the product, opens a hosted
// payment session for it and records the session on the order. If the
// provider call fails the unpaid order is left for the reconciliation sweep.
func (s *Service) StartCheckout(ctx context.Context, user *models.User, productID int64) (*StartedCheckout, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.ForSale() {
		return nil, database.ErrProductNotForSale
	}

	order, err := s.store.CreateOrder(ctx, models.NewOrder(user, product))
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		OrderID:       order.ID,
		ProductName:   product.Name,
		Currency:      s.opts.Currency,
		UnitAmount:    payments.MinorUnits(order.Amount),
		Quantity:      1,
		CustomerEmail: user.Email,
		SuccessURL:    s.opts.SuccessURL,
		CancelURL:     s.opts.CancelURL,
	})
	if err != nil {
		s.logger.Warn("checkout session creation failed, order left unpaid",
			"order_id", order.ID, "product_id", product.ID, "error", err)
		return nil, err
	}

	if err := s.store.AttachCheckoutSession(ctx, order.ID, session.ID); err != nil {
		return nil, fmt.Errorf("order %d: %w", order.ID, err)
	}
	order.CheckoutSessionID = session.ID

	s.logger.Info("checkout session created",
		"order_id", order.ID, "product_id", product.ID, "session_id", session.ID)

	return &StartedCheckout{Order: order, Session: session}, nil
}

type Outcome string

const (
	OutcomeFulfilled      Outcome = "fulfilled"
	OutcomeAlreadyPaid    Outcome = "already_paid"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeUnknownSession Outcome = "unknown_session"
	OutcomeUnhandled      Outcome = "unhandled"
)

// HandleWebhook verifies and applies one provider notification. Signature and
// decoding failures come back as payments.ErrInvalidSignature or
// payments.ErrMalformedEvent; any other error means the event should be
// redelivered.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	event, err := s.gateway.ParseWebhookEvent(payload, signatureHeader)
	if err != nil {
		return "", err
	}

	logger := s.logger.With("event_id", event.ID, "event_type", event.Type)

	if event.Type != payments.EventCheckoutSessionCompleted {
		logger.Debug("ignoring webhook event")
		return OutcomeUnhandled, nil
	}

	if seen, err := s.eventLog.Seen(ctx, event.ID); err != nil {
		logger.Warn("processed-event lookup failed", "error", err)
	} else if seen {
		logger.Info("webhook event already processed")
		return OutcomeDuplicate, nil
	}

	outcome, err := s.fulfil(ctx, logger.With("session_id", event.SessionID), event.SessionID, event.ID)
	if err != nil {
		return "", err
	}

	s.markProcessed(ctx, logger, event.ID)
	return outcome, nil
}

// FulfillSession marks the order behind a completed session paid without a
// provider notification. causationID ends up in the published event.
func (s *Service) FulfillSession(ctx context.Context, sessionID, causationID string) (Outcome, error) {
	return s.fulfil(ctx, s.logger.With("session_id", sessionID, "causation_id", causationID), sessionID, causationID)
}

func (s *Service) fulfil(ctx context.Context, logger *slog.Logger, sessionID, causationID string) (Outcome, error) {
	result, err := s.store.FulfillCheckoutSession(ctx, sessionID)
	switch {
	case errors.Is(err, database.ErrOrderNotFound):
		logger.Warn("no order for completed checkout session")
		return OutcomeUnknownSession, nil
	case err != nil:
		return "", fmt.Errorf("fulfil session %s: %w", sessionID, err)
	}

	logger = logger.With("order_id", result.Order.ID)

	if result.AlreadyPaid {
		logger.Info("order already paid, nothing to apply")
		return OutcomeAlreadyPaid, nil
	}

	if result.StockAfter != nil && *result.StockAfter < 0 {
		logger.Warn("product stock is negative", "product_id", result.Order.ProductID, "stock", *result.StockAfter)
	}
	logger.Info("order paid", "product_id", result.Order.ProductID, "amount", result.Order.Amount.String())

	env, err := events.NewOrderPaid(s.opts.Producer, causationID, *result)
	if err == nil {
		err = s.publisher.Publish(ctx, env)
	}
	if err != nil {
		logger.Error("publish order paid event failed", "error", err)
	}

	return OutcomeFulfilled, nil
}

func (s *Service) markProcessed(ctx context.Context, logger *slog.Logger, eventID string) {
	if err := s.eventLog.MarkProcessed(ctx, eventID); err != nil {
		logger.Warn("remember processed event failed", "error", err)
	}
}

type noEventLog struct{}

func (noEventLog) Seen(context.Context, string) (bool, error) { return false, nil }

func (noEventLog) MarkProcessed(context.Context, string) error { return nil }
