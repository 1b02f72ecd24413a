package store

import (
	"context"
	"errors"
	"testing"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

func TestListProductsMatchesPersistedSet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := New(db)

	empty, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("List empty catalog: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected empty catalog, got %d products", len(empty))
	}

	created := map[int64]string{}
	for _, name := range []string{"Mug", "Poster", "Sticker"} {
		p, err := s.CreateProduct(ctx, ProductInput{Name: name, Price: price("5.00"), Stock: intPtr(3)})
		if err != nil {
			t.Fatalf("Create product %s: %v", name, err)
		}
		created[p.ID] = name
	}

	listed, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("List products: %v", err)
	}

	if len(listed) != len(created) {
		t.Fatalf("Expected %d products, got %d", len(created), len(listed))
	}
	for _, p := range listed {
		if created[p.ID] != p.Name {
			t.Errorf("Unexpected product %d %q in listing", p.ID, p.Name)
		}
	}
}

func TestProductNullableColumns(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := New(db)

	bare, err := s.CreateProduct(ctx, ProductInput{})
	if err != nil {
		t.Fatalf("Create bare product: %v", err)
	}

	got, err := s.GetProduct(ctx, bare.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if got.Price.Valid || got.Stock != nil || got.Name != "" {
		t.Errorf("Expected unset columns to stay unset, got %+v", got)
	}
	if got.ForSale() {
		t.Error("A product without price must not be for sale")
	}

	full, err := s.CreateProduct(ctx, ProductInput{
		Name:        "Mug",
		Description: "Ceramic",
		Price:       price("19.99"),
		Image:       "product_image/mug.png",
		Stock:       intPtr(4),
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	if !full.Price.Decimal.Equal(decimal.RequireFromString("19.99")) {
		t.Errorf("Expected price 19.99, got %s", full.Price.Decimal)
	}
	if full.Stock == nil || *full.Stock != 4 {
		t.Errorf("Expected stock 4, got %v", full.Stock)
	}
}

func TestGetProductNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := New(db).GetProduct(context.Background(), 424242)
	if !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found, got: %v", err)
	}
}

func TestSearchProducts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := New(db)

	for _, name := range []string{"Blue Mug", "Red mug", "Poster", "100% cotton tee"} {
		if _, err := s.CreateProduct(ctx, ProductInput{Name: name, Price: price("1.00")}); err != nil {
			t.Fatalf("Create product %s: %v", name, err)
		}
	}

	page, err := s.SearchProducts(ctx, "MUG", 1, 1)
	if err != nil {
		t.Fatalf("Search products: %v", err)
	}
	if page.Total != 2 || page.TotalPages != 2 {
		t.Errorf("Expected 2 matches over 2 pages, got total=%d pages=%d", page.Total, page.TotalPages)
	}
	if items := page.Items.([]models.Product); len(items) != 1 {
		t.Errorf("Expected 1 item on the page, got %d", len(items))
	}

	literal, err := s.SearchProducts(ctx, "100%", 1, 10)
	if err != nil {
		t.Fatalf("Search products: %v", err)
	}
	if literal.Total != 1 {
		t.Errorf("Expected %% to match literally, got %d results", literal.Total)
	}

	all, err := s.SearchProducts(ctx, "", 1, 10)
	if err != nil {
		t.Fatalf("Search products: %v", err)
	}
	if all.Total != 4 {
		t.Errorf("Expected empty search to match all 4 products, got %d", all.Total)
	}
}
