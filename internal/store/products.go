package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

type ProductInput struct {
	Name        string
	Description string
	Price       decimal.NullDecimal
	Image       string
	Stock       *int
}

const productColumns = `id, name, description, price, image, stock, created_at, updated_at`

func scanProduct(row rowScanner) (*models.Product, error) {
	var (
		product                  models.Product
		name, description, image sql.NullString
		stock                    sql.NullInt64
	)
	err := row.Scan(
		&product.ID,
		&name,
		&description,
		&product.Price,
		&image,
		&stock,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	product.Name = name.String
	product.Description = description.String
	product.Image = image.String
	if stock.Valid {
		v := int(stock.Int64)
		product.Stock = &v
	}
	return &product, nil
}

func (s *Store) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	query := `
		INSERT INTO products (name, description, price, image, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING ` + productColumns

	var stock sql.NullInt64
	if in.Stock != nil {
		stock = sql.NullInt64{Int64: int64(*in.Stock), Valid: true}
	}

	product, err := scanProduct(s.db.QueryRowContext(ctx, query,
		nullString(in.Name), nullString(in.Description), in.Price, nullString(in.Image), stock))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// ListProducts returns the whole catalog.
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// SearchProducts pages through products whose name contains search, case-insensitively.
// An empty search matches everything.
func (s *Store) SearchProducts(ctx context.Context, search string, page, pageSize int) (*OffsetPage, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(search)) + "%"

	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE COALESCE(name, '') ILIKE $1`, pattern).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE COALESCE(name, '') ILIKE $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, pattern, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}

// DecrementStock takes one unit off the product's stock without a floor and
// returns the new level, or nil when the product does not track stock.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64) (*int, error) {
	var stock sql.NullInt64
	err := tx.QueryRowContext(ctx,
		`UPDATE products
		 SET stock = stock - 1,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING stock`,
		productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	if !stock.Valid {
		return nil, nil
	}
	v := int(stock.Int64)
	return &v, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
