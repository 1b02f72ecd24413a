package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const orderColumns = `id, user_id, product_id, amount, is_paid, checkout_session_id, session_created_at, paid_at, created_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		order     models.Order
		sessionID sql.NullString
		sessionAt sql.NullTime
		paidAt    sql.NullTime
	)
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.ProductID,
		&order.Amount,
		&order.Paid,
		&sessionID,
		&sessionAt,
		&paidAt,
		&order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.CheckoutSessionID = sessionID.String
	if sessionAt.Valid {
		order.SessionCreatedAt = &sessionAt.Time
	}
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	return &order, nil
}

// CreateOrder inserts an unpaid order. The paid flag of the input is ignored.
func (s *Store) CreateOrder(ctx context.Context, order models.Order) (*models.Order, error) {
	query := `
		INSERT INTO orders (user_id, product_id, amount, is_paid, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
		RETURNING ` + orderColumns

	created, err := scanOrder(s.db.QueryRowContext(ctx, query, order.UserID, order.ProductID, order.Amount))
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return created, nil
}

// AttachCheckoutSession records the provider session created for the order.
// A session is attached once; a second attach fails with ErrSessionAttached.
func (s *Store) AttachCheckoutSession(ctx context.Context, orderID int64, sessionID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders
		 SET checkout_session_id = $1,
		     session_created_at = NOW()
		 WHERE id = $2
		   AND checkout_session_id IS NULL`,
		sessionID, orderID)
	if err != nil {
		return fmt.Errorf("attach checkout session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := s.GetOrder(ctx, orderID); err != nil {
			return err
		}
		return database.ErrSessionAttached
	}

	return nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return order, nil
}

func (s *Store) GetOrderBySession(ctx context.Context, sessionID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE checkout_session_id = $1`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by session: %w", err)
	}

	return order, nil
}

// FulfillCheckoutSession marks the order holding sessionID as paid and takes
// one unit off its product's stock, both in one transaction. The order row is
// locked first and an already-paid order is returned untouched, so redelivered
// or concurrent notifications for the same session apply exactly once.
func (s *Store) FulfillCheckoutSession(ctx context.Context, sessionID string) (*models.Fulfillment, error) {
	var result *models.Fulfillment

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		result = nil

		order, err := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+`
			 FROM orders
			 WHERE checkout_session_id = $1
			 FOR UPDATE`,
			sessionID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if order.Paid {
			result = &models.Fulfillment{Order: *order, AlreadyPaid: true}
			return nil
		}

		var paidAt time.Time
		err = tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET is_paid = TRUE,
			     paid_at = NOW()
			 WHERE id = $1
			 RETURNING paid_at`,
			order.ID).Scan(&paidAt)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		order.Paid = true
		order.PaidAt = &paidAt

		stock, err := DecrementStock(ctx, tx, order.ProductID)
		if err != nil {
			return err
		}

		result = &models.Fulfillment{Order: *order, StockAfter: stock}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

type OrderFilter struct {
	UserID int64
	// Paid nil lists both paid and unpaid orders.
	Paid *bool
	// Search matches the buyer's email or the product name, case-insensitively.
	Search string
	// CreatedFrom is inclusive, CreatedTo exclusive.
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// ListOrdersCursor pages through orders newest first using keyset pagination.
func (s *Store) ListOrdersCursor(ctx context.Context, filter OrderFilter, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT o.id, o.user_id, o.product_id, o.amount, o.is_paid, o.checkout_session_id,
		       o.session_created_at, o.paid_at, o.created_at
		FROM orders o
		JOIN users u ON u.id = o.user_id
		JOIN products p ON p.id = o.product_id
		WHERE ($1 = 0 OR o.user_id = $1)
		  AND ($2::boolean IS NULL OR o.is_paid = $2)
		  AND ($3 = '' OR u.email ILIKE $4 OR COALESCE(p.name, '') ILIKE $4)
		  AND ($5::timestamptz IS NULL OR o.created_at >= $5)
		  AND ($6::timestamptz IS NULL OR o.created_at < $6)
		  AND (o.created_at, o.id) < ($7, $8)
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $9`

	var paid sql.NullBool
	if filter.Paid != nil {
		paid = sql.NullBool{Bool: *filter.Paid, Valid: true}
	}
	search := strings.TrimSpace(filter.Search)
	pattern := "%" + escapeLike(search) + "%"

	rows, err := s.db.QueryContext(ctx, query,
		filter.UserID, paid, search, pattern,
		nullTime(filter.CreatedFrom), nullTime(filter.CreatedTo),
		cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// DeleteOrphanedOrders removes unpaid orders that never got a checkout
// session and were created before createdBefore. It returns the deleted ids.
func (s *Store) DeleteOrphanedOrders(ctx context.Context, createdBefore time.Time) ([]int64, error) {
	var ids []int64

	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`DELETE FROM orders
			 WHERE id IN (
			     SELECT id FROM orders
			     WHERE NOT is_paid
			       AND checkout_session_id IS NULL
			       AND created_at < $1
			     FOR UPDATE SKIP LOCKED
			 )
			 RETURNING id`,
			createdBefore)
		if err != nil {
			return fmt.Errorf("delete orphaned orders: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan deleted order id: %w", err)
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// ListUnpaidSessionOrders returns up to limit unpaid orders whose checkout
// session was created before sessionBefore, oldest session first.
func (s *Store) ListUnpaidSessionOrders(ctx context.Context, sessionBefore time.Time, limit int) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE NOT is_paid
		   AND checkout_session_id IS NOT NULL
		   AND session_created_at < $1
		 ORDER BY session_created_at, id
		 LIMIT $2`,
		sessionBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpaid session orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// DeleteUnpaidOrder removes the order only while it is still unpaid. It
// reports whether a row was deleted.
func (s *Store) DeleteUnpaidOrder(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM orders WHERE id = $1 AND NOT is_paid`, id)
	if err != nil {
		return false, fmt.Errorf("delete order %d: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete order %d: %w", id, err)
	}
	return n == 1, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
