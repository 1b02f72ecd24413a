package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/payments"
)

// MinSessionExpiry is the shortest age at which an unpaid session is worth
// asking the provider about. Hosted sessions stay payable for up to 24 hours.
const MinSessionExpiry = 24 * time.Hour

const sessionBatch = 100

type ReconcileStore interface {
	DeleteOrphanedOrders(ctx context.Context, createdBefore time.Time) ([]int64, error)
	ListUnpaidSessionOrders(ctx context.Context, sessionBefore time.Time, limit int) ([]models.Order, error)
	DeleteUnpaidOrder(ctx context.Context, id int64) (bool, error)
}

type SessionLookup interface {
	CheckoutSessionStatus(ctx context.Context, sessionID string) (payments.SessionStatus, error)
}

type Fulfiller interface {
	FulfillSession(ctx context.Context, sessionID, causationID string) (Outcome, error)
}

// ValidateSessionExpiry rejects ages at which a session may still be payable.
func ValidateSessionExpiry(d time.Duration) error {
	if d < MinSessionExpiry {
		return fmt.Errorf("session expiry %s is below the minimum %s", d, MinSessionExpiry)
	}
	return nil
}

// Reconciler removes unpaid orders that can no longer be paid. Orders that
// never got a session are removed by age. Orders with a session are removed
// only once the provider reports the session expired; sessions the provider
// reports complete are fulfilled instead.
type Reconciler struct {
	store         ReconcileStore
	sessions      SessionLookup
	fulfiller     Fulfiller
	orphanAfter   time.Duration
	sessionExpiry time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

func NewReconciler(store ReconcileStore, sessions SessionLookup, fulfiller Fulfiller, orphanAfter, sessionExpiry time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:         store,
		sessions:      sessions,
		fulfiller:     fulfiller,
		orphanAfter:   orphanAfter,
		sessionExpiry: max(sessionExpiry, MinSessionExpiry),
		logger:        logger,
		now:           time.Now,
	}
}

type SweepResult struct {
	Orphans   int
	Expired   int
	Recovered int
	// Pending counts sessions left alone: still open or not resolvable now.
	Pending int
}

func (r SweepResult) Removed() int {
	return r.Orphans + r.Expired
}

// RunOnce performs a single sweep.
func (r *Reconciler) RunOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := r.now()

	ids, err := r.store.DeleteOrphanedOrders(ctx, now.Add(-r.orphanAfter))
	if err != nil {
		return result, err
	}
	result.Orphans = len(ids)
	if len(ids) > 0 {
		r.logger.Info("removed orders without a checkout session", "count", len(ids), "order_ids", ids)
	}

	orders, err := r.store.ListUnpaidSessionOrders(ctx, now.Add(-r.sessionExpiry), sessionBatch)
	if err != nil {
		return result, err
	}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r.settle(ctx, order, &result)
	}

	return result, nil
}

func (r *Reconciler) settle(ctx context.Context, order models.Order, result *SweepResult) {
	logger := r.logger.With("order_id", order.ID, "session_id", order.CheckoutSessionID)

	status, err := r.sessions.CheckoutSessionStatus(ctx, order.CheckoutSessionID)
	if err != nil {
		logger.Warn("checkout session lookup failed, order kept", "error", err)
		result.Pending++
		return
	}

	switch status {
	case payments.SessionExpired:
		deleted, err := r.store.DeleteUnpaidOrder(ctx, order.ID)
		if err != nil {
			logger.Error("delete expired order failed", "error", err)
			result.Pending++
			return
		}
		if deleted {
			logger.Info("removed order with expired checkout session")
			result.Expired++
		}
	case payments.SessionComplete:
		outcome, err := r.fulfiller.FulfillSession(ctx, order.CheckoutSessionID, "reconcile:"+order.CheckoutSessionID)
		if err != nil {
			logger.Error("fulfil completed session failed", "error", err)
			result.Pending++
			return
		}
		if outcome == OutcomeFulfilled {
			logger.Warn("fulfilled completed session without a webhook")
			result.Recovered++
		}
	default:
		logger.Debug("checkout session still open", "status", status)
		result.Pending++
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}
