package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Product mirrors the catalog row. Every descriptive column is nullable, so
// Name and Description are empty when unset and Price/Stock carry validity.
type Product struct {
	ID          int64               `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Price       decimal.NullDecimal `json:"price"`
	// Image is relative to the media root, e.g. "product_image/mug.png".
	Image     string    `json:"image,omitempty"`
	Stock     *int      `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ForSale reports whether the product can be put in a checkout session.
func (p *Product) ForSale() bool {
	return p.Price.Valid && p.Price.Decimal.IsPositive()
}

// TracksStock reports whether the product has a stock count at all.
func (p *Product) TracksStock() bool {
	return p.Stock != nil
}

// StockLeft is the displayable stock. Oversold products report zero.
func (p *Product) StockLeft() int {
	if p.Stock == nil || *p.Stock < 0 {
		return 0
	}
	return *p.Stock
}

type Order struct {
	ID                int64           `json:"id"`
	UserID            int64           `json:"user_id"`
	ProductID         int64           `json:"product_id"`
	Amount            decimal.Decimal `json:"amount"`
	Paid              bool            `json:"is_paid"`
	CheckoutSessionID string          `json:"checkout_session_id,omitempty"`
	SessionCreatedAt  *time.Time      `json:"session_created_at,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// NewOrder snapshots the product's current price into an unpaid order.
func NewOrder(user *User, product *Product) Order {
	return Order{
		UserID:    user.ID,
		ProductID: product.ID,
		Amount:    product.Price.Decimal,
	}
}

// Fulfillment is the outcome of applying a completed checkout session.
type Fulfillment struct {
	Order Order
	// AlreadyPaid is set when the session had been applied before; nothing changed.
	AlreadyPaid bool
	// StockAfter is nil when the product tracks no stock.
	StockAfter *int
}
