package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/safar/storefront/internal/events"
	"github.com/safar/storefront/internal/payments"
)

// FakeGateway records checkout requests and hands out sequential session ids.
// Webhook parsing returns Event (or ParseErr) regardless of the payload.
// Session lookups answer from Statuses and default to open.
type FakeGateway struct {
	mu       sync.Mutex
	Requests []payments.CheckoutRequest
	Statuses map[string]payments.SessionStatus

	CreateErr error
	Event     *payments.Event
	ParseErr  error
	StatusErr error
}

func (g *FakeGateway) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Requests = append(g.Requests, req)
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}

	id := fmt.Sprintf("cs_test_%d", len(g.Requests))
	return &payments.CheckoutSession{
		ID:  id,
		URL: "https://checkout.stripe.test/c/pay/" + id,
	}, nil
}

// SetStatus records the provider-side state of a session.
func (g *FakeGateway) SetStatus(sessionID string, status payments.SessionStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Statuses == nil {
		g.Statuses = make(map[string]payments.SessionStatus)
	}
	g.Statuses[sessionID] = status
}

func (g *FakeGateway) CheckoutSessionStatus(_ context.Context, sessionID string) (payments.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.StatusErr != nil {
		return "", g.StatusErr
	}
	if status, ok := g.Statuses[sessionID]; ok {
		return status, nil
	}
	return payments.SessionOpen, nil
}

func (g *FakeGateway) ParseWebhookEvent([]byte, string) (*payments.Event, error) {
	if g.ParseErr != nil {
		return nil, g.ParseErr
	}
	if g.Event == nil {
		return nil, payments.ErrMalformedEvent
	}
	ev := *g.Event
	return &ev, nil
}

// MemEventLog is an in-memory processed-event log.
type MemEventLog struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemEventLog() *MemEventLog {
	return &MemEventLog{seen: make(map[string]bool)}
}

func (l *MemEventLog) Seen(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[eventID], nil
}

func (l *MemEventLog) MarkProcessed(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[eventID] = true
	return nil
}

func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RecordingPublisher keeps every published envelope.
type RecordingPublisher struct {
	mu        sync.Mutex
	Envelopes []events.Envelope
	Err       error
}

func (p *RecordingPublisher) Publish(_ context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Envelopes = append(p.Envelopes, env)
	return nil
}

func (p *RecordingPublisher) Published() []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Envelope(nil), p.Envelopes...)
}
