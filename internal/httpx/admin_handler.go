package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
)

const (
	maxUploadSize   = 10 << 20
	productImageDir = "product_image"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

type AdminStore interface {
	SearchProducts(ctx context.Context, search string, page, pageSize int) (*store.OffsetPage, error)
	CreateProduct(ctx context.Context, in store.ProductInput) (*models.Product, error)
	ListOrdersCursor(ctx context.Context, filter store.OrderFilter, cursor string, limit int) (*store.CursorPage, error)
}

type AdminHandler struct {
	Store     AdminStore
	MediaRoot string
	User      string
	Password  string
	Logger    *slog.Logger
}

// Register mounts the admin API behind basic auth. Without a password the
// admin surface is not exposed at all.
func (h *AdminHandler) Register(r chi.Router) {
	if h.Password == "" {
		h.Logger.Info("admin password not set, admin API disabled")
		return
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.BasicAuth("storefront-admin", map[string]string{h.User: h.Password}))
		r.Get("/products", h.listProducts)
		r.Post("/products", h.createProduct)
		r.Get("/orders", h.listOrders)
	})
}

// RegisterMedia serves uploaded product images. Directory listings are not served.
func RegisterMedia(r chi.Router, mediaRoot string) {
	files := http.StripPrefix("/media/", http.FileServer(http.Dir(mediaRoot)))
	r.Get("/media/*", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			httpError(w, http.StatusNotFound)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	result, err := h.Store.SearchProducts(r.Context(), r.URL.Query().Get("q"), page, pageSize)
	if err != nil {
		h.Logger.Error("search products", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list products")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	in, err := productInput(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		respondError(w, http.StatusBadRequest, "Invalid image upload")
		return
	default:
		defer file.Close()
		in.Image, err = h.saveImage(file, header)
		if err != nil {
			if errors.Is(err, errUnsupportedImage) {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.Logger.Error("save product image", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to store image")
			return
		}
	}

	product, err := h.Store.CreateProduct(r.Context(), in)
	if err != nil {
		h.Logger.Error("create product", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create product")
		return
	}

	h.Logger.Info("product created", "product_id", product.ID)
	respondJSON(w, http.StatusCreated, product)
}

func productInput(r *http.Request) (store.ProductInput, error) {
	in := store.ProductInput{
		Name:        strings.TrimSpace(r.FormValue("name")),
		Description: strings.TrimSpace(r.FormValue("description")),
	}

	if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil || price.IsNegative() {
			return in, errors.New("invalid price")
		}
		in.Price = decimal.NullDecimal{Decimal: price.Round(2), Valid: true}
	}

	if raw := strings.TrimSpace(r.FormValue("stock")); raw != "" {
		stock, err := strconv.Atoi(raw)
		if err != nil {
			return in, errors.New("invalid stock")
		}
		in.Stock = &stock
	}

	return in, nil
}

var errUnsupportedImage = errors.New("unsupported image type")

// saveImage stores the upload under a random name and returns its path
// relative to the media root.
func (h *AdminHandler) saveImage(file multipart.File, header *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !imageExtensions[ext] {
		return "", errUnsupportedImage
	}

	dir := filepath.Join(h.MediaRoot, productImageDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	name := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", fmt.Errorf("write image file: %w", err)
	}
	return path.Join(productImageDir, name), nil
}

func (h *AdminHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	var filter store.OrderFilter

	if raw := r.URL.Query().Get("paid"); raw != "" {
		paid, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid paid filter")
			return
		}
		filter.Paid = &paid
	}

	filter.Search = strings.TrimSpace(r.URL.Query().Get("q"))

	from, err := parseDateParam(r.URL.Query().Get("created_from"), false)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid created_from")
		return
	}
	to, err := parseDateParam(r.URL.Query().Get("created_to"), true)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid created_to")
		return
	}
	filter.CreatedFrom, filter.CreatedTo = from, to

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	result, err := h.Store.ListOrdersCursor(r.Context(), filter, r.URL.Query().Get("cursor"), limit)
	if errors.Is(err, store.ErrInvalidCursor) {
		respondError(w, http.StatusBadRequest, "Invalid cursor")
		return
	}
	if err != nil {
		h.Logger.Error("list orders", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// parseDateParam accepts RFC 3339 timestamps or plain dates. A plain date used
// as an exclusive upper bound covers the whole day.
func parseDateParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}

	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}
