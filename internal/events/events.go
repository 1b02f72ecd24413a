// Package events publishes storefront domain events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkax "github.com/safar/storefront/internal/kafka"
	"github.com/safar/storefront/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const EventOrderPaid = "OrderPaid"

type Envelope struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventVersion int       `json:"event_version"`
	OccurredAt   time.Time `json:"occurred_at"`
	Producer     string    `json:"producer"`
	// CorrelationID is the order id; it is also the partition key.
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderPaidPayload struct {
	OrderID           int64           `json:"order_id"`
	UserID            int64           `json:"user_id"`
	ProductID         int64           `json:"product_id"`
	Amount            decimal.Decimal `json:"amount"`
	CheckoutSessionID string          `json:"checkout_session_id"`
	StockAfter        *int            `json:"stock_after,omitempty"`
	PaidAt            time.Time       `json:"paid_at"`
}

// NewOrderPaid builds the event announcing a fulfilled order. causationID is
// the provider event, or the reconciliation sweep, that triggered it.
func NewOrderPaid(producer, causationID string, f models.Fulfillment) (Envelope, error) {
	paidAt := time.Now().UTC()
	if f.Order.PaidAt != nil {
		paidAt = f.Order.PaidAt.UTC()
	}

	payload, err := json.Marshal(OrderPaidPayload{
		OrderID:           f.Order.ID,
		UserID:            f.Order.UserID,
		ProductID:         f.Order.ProductID,
		Amount:            f.Order.Amount,
		CheckoutSessionID: f.Order.CheckoutSessionID,
		StockAfter:        f.StockAfter,
		PaidAt:            paidAt,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal order paid payload: %w", err)
	}

	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventOrderPaid,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: strconv.FormatInt(f.Order.ID, 10),
		CausationID:   causationID,
		Payload:       payload,
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type KafkaPublisher struct {
	producer *kafkax.Producer
}

func NewKafkaPublisher(p *kafkax.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: p}
}

func (k *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return k.producer.Publish(ctx, []byte(env.CorrelationID), value,
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Envelope) error { return nil }
