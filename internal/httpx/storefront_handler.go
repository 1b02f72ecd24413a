package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/payments"
)

// maxWebhookBody caps provider notifications; real payloads are a few KiB.
const maxWebhookBody = 64 << 10

type Catalog interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

type CheckoutService interface {
	StartCheckout(ctx context.Context, user *models.User, productID int64) (*checkout.StartedCheckout, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (checkout.Outcome, error)
}

type StorefrontHandler struct {
	Catalog  Catalog
	Checkout CheckoutService
	Identity *Identity
	Logger   *slog.Logger
}

// Register mounts the shopper pages. Only payment creation resolves the
// shopper, so browsing never creates user rows.
func (h *StorefrontHandler) Register(r chi.Router) {
	r.Get("/", h.listProducts)
	r.Get("/checkout/{product_id}/", h.checkoutPage)
	r.With(h.Identity.Middleware).Get("/create-payment/{product_id}/", h.createPayment)
	r.Get("/success/", h.success)
	r.Get("/cancel/", h.cancel)
	r.Post("/stripe-webhook/", h.webhook)
}

func (h *StorefrontHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.ListProducts(r.Context())
	if err != nil {
		h.Logger.Error("list products", "error", err)
		httpError(w, http.StatusInternalServerError)
		return
	}

	render(w, h.Logger, "products.html", struct{ Products []models.Product }{products})
}

func (h *StorefrontHandler) checkoutPage(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		httpError(w, http.StatusNotFound)
		return
	}

	product, err := h.Catalog.GetProduct(r.Context(), id)
	if errors.Is(err, database.ErrProductNotFound) {
		httpError(w, http.StatusNotFound)
		return
	}
	if err != nil {
		h.Logger.Error("get product", "product_id", id, "error", err)
		httpError(w, http.StatusInternalServerError)
		return
	}

	render(w, h.Logger, "checkout.html", struct{ Product *models.Product }{product})
}

func (h *StorefrontHandler) createPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(r)
	if !ok {
		httpError(w, http.StatusNotFound)
		return
	}

	started, err := h.Checkout.StartCheckout(r.Context(), UserFromContext(r.Context()), id)
	switch {
	case err == nil:
		http.Redirect(w, r, started.Session.URL, http.StatusSeeOther)
	case errors.Is(err, checkout.ErrUnauthenticated):
		httpError(w, http.StatusUnauthorized)
	case errors.Is(err, database.ErrProductNotFound):
		httpError(w, http.StatusNotFound)
	case errors.Is(err, database.ErrProductNotForSale):
		httpError(w, http.StatusConflict)
	case errors.Is(err, payments.ErrGateway):
		h.Logger.Error("create checkout session", "product_id", id, "error", err)
		httpError(w, http.StatusBadGateway)
	default:
		h.Logger.Error("start checkout", "product_id", id, "error", err)
		httpError(w, http.StatusInternalServerError)
	}
}

func (h *StorefrontHandler) success(w http.ResponseWriter, r *http.Request) {
	render(w, h.Logger, "success.html", nil)
}

func (h *StorefrontHandler) cancel(w http.ResponseWriter, r *http.Request) {
	render(w, h.Logger, "cancel.html", nil)
}

func (h *StorefrontHandler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	outcome, err := h.Checkout.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		h.Logger.Warn("rejected webhook", "error", err)
		respondError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, payments.ErrMalformedEvent):
		h.Logger.Warn("rejected webhook", "error", err)
		respondError(w, http.StatusBadRequest, "invalid payload")
	case err != nil:
		h.Logger.Error("process webhook", "error", err)
		respondError(w, http.StatusInternalServerError, "processing failed")
	case outcome == checkout.OutcomeUnhandled:
		respondJSON(w, http.StatusOK, map[string]string{"status": "unhandled"})
	default:
		respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

func productID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	return id, err == nil && id > 0
}
