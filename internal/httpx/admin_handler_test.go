package httpx_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/safar/storefront/internal/httpx"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adminApp struct {
	store     *testutil.MemStore
	mediaRoot string
	router    http.Handler
}

func newAdminApp(t *testing.T, password string) *adminApp {
	t.Helper()

	logger := testutil.DiscardLogger()
	a := &adminApp{store: testutil.NewMemStore(), mediaRoot: t.TempDir()}

	router := httpx.NewRouter(logger, 5*time.Second)
	h := &httpx.AdminHandler{
		Store:     a.store,
		MediaRoot: a.mediaRoot,
		User:      "admin",
		Password:  password,
		Logger:    logger,
	}
	h.Register(router)
	httpx.RegisterMedia(router, a.mediaRoot)
	a.router = router
	return a
}

func (a *adminApp) do(req *http.Request, authed bool) *httptest.ResponseRecorder {
	if authed {
		req.SetBasicAuth("admin", "s3cret")
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func multipartProduct(t *testing.T, fields map[string]string, imageName string, image []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if imageName != "" {
		fw, err := mw.CreateFormFile("image", imageName)
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin/products", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	a := newAdminApp(t, "s3cret")

	rec := a.do(httptest.NewRequest(http.MethodGet, "/admin/products", nil), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(httptest.NewRequest(http.MethodGet, "/admin/products", nil), true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	a := newAdminApp(t, "")

	rec := a.do(httptest.NewRequest(http.MethodGet, "/admin/products", nil), true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminCreateProduct(t *testing.T) {
	a := newAdminApp(t, "s3cret")

	png := []byte("\x89PNG\r\n\x1a\nfake")
	req := multipartProduct(t, map[string]string{
		"name":        "Blue Mug",
		"description": "Holds coffee",
		"price":       "19.99",
		"stock":       "10",
	}, "mug.PNG", png)

	rec := a.do(req, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var product models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))
	assert.Equal(t, "Blue Mug", product.Name)
	assert.Equal(t, "19.99", product.Price.Decimal.StringFixed(2))
	assert.Equal(t, 10, *product.Stock)
	assert.Regexp(t, `^product_image/[0-9a-f-]{36}\.png$`, product.Image)

	stored, err := os.ReadFile(filepath.Join(a.mediaRoot, filepath.FromSlash(product.Image)))
	require.NoError(t, err)
	assert.Equal(t, png, stored)

	media := a.do(httptest.NewRequest(http.MethodGet, "/media/"+product.Image, nil), false)
	require.Equal(t, http.StatusOK, media.Code)
	assert.Equal(t, png, media.Body.Bytes())

	listing := a.do(httptest.NewRequest(http.MethodGet, "/media/product_image/", nil), false)
	assert.Equal(t, http.StatusNotFound, listing.Code)
}

func TestAdminCreateProductWithoutOptionalFields(t *testing.T) {
	a := newAdminApp(t, "s3cret")

	rec := a.do(multipartProduct(t, map[string]string{"name": "Sample"}, "", nil), true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var product models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))
	assert.False(t, product.Price.Valid)
	assert.Nil(t, product.Stock)
	assert.Empty(t, product.Image)
}

func TestAdminCreateProductValidation(t *testing.T) {
	tests := []struct {
		name      string
		fields    map[string]string
		imageName string
	}{
		{name: "bad price", fields: map[string]string{"name": "Mug", "price": "cheap"}},
		{name: "negative price", fields: map[string]string{"name": "Mug", "price": "-1"}},
		{name: "bad stock", fields: map[string]string{"name": "Mug", "stock": "many"}},
		{name: "not an image", fields: map[string]string{"name": "Mug"}, imageName: "payload.exe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdminApp(t, "s3cret")

			rec := a.do(multipartProduct(t, tt.fields, tt.imageName, []byte("data")), true)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			products, err := a.store.ListProducts(t.Context())
			require.NoError(t, err)
			assert.Empty(t, products)
		})
	}
}

func TestAdminSearchProducts(t *testing.T) {
	a := newAdminApp(t, "s3cret")
	a.store.AddProduct("Blue Mug", "10.00", nil)
	a.store.AddProduct("Red Mug", "11.00", nil)
	a.store.AddProduct("Poster", "5.00", nil)

	rec := a.do(httptest.NewRequest(http.MethodGet, "/admin/products?q=MUG&page=1&page_size=1", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Items      []models.Product `json:"items"`
		Total      int64            `json:"total"`
		TotalPages int              `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Blue Mug", page.Items[0].Name)
}

func TestAdminListOrders(t *testing.T) {
	a := newAdminApp(t, "s3cret")
	ctx := t.Context()

	user := a.store.AddUser("buyer@example.com")
	product := a.store.AddProduct("Blue Mug", "10.00", nil)
	for i, session := range []string{"cs_1", "cs_2", "cs_3"} {
		order, err := a.store.CreateOrder(ctx, models.NewOrder(user, product))
		require.NoError(t, err)
		require.NoError(t, a.store.AttachCheckoutSession(ctx, order.ID, session))
		if i == 0 {
			_, err := a.store.FulfillCheckoutSession(ctx, session)
			require.NoError(t, err)
		}
	}

	type page struct {
		Items   []models.Order `json:"items"`
		HasMore bool           `json:"has_more"`
	}

	rec := a.do(httptest.NewRequest(http.MethodGet, "/admin/orders?paid=false", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)
	var unpaid page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unpaid))
	require.Len(t, unpaid.Items, 2)
	for _, o := range unpaid.Items {
		assert.False(t, o.Paid)
	}

	rec = a.do(httptest.NewRequest(http.MethodGet, "/admin/orders?limit=1", nil), true)
	require.Equal(t, http.StatusOK, rec.Code)
	var limited page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &limited))
	assert.Len(t, limited.Items, 1)
	assert.True(t, limited.HasMore)

	rec = a.do(httptest.NewRequest(http.MethodGet, "/admin/orders?paid=maybe", nil), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(httptest.NewRequest(http.MethodGet, "/admin/orders?cursor=%25%25", nil), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminListOrdersSearchAndDateRange(t *testing.T) {
	a := newAdminApp(t, "s3cret")
	ctx := t.Context()

	alice := a.store.AddUser("alice@example.com")
	bob := a.store.AddUser("bob@example.com")
	mug := a.store.AddProduct("Blue Mug", "10.00", nil)
	poster := a.store.AddProduct("Poster", "5.00", nil)

	a.store.SetClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	march, err := a.store.CreateOrder(ctx, models.NewOrder(alice, mug))
	require.NoError(t, err)
	a.store.SetClock(func() time.Time { return time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC) })
	april, err := a.store.CreateOrder(ctx, models.NewOrder(bob, poster))
	require.NoError(t, err)

	list := func(query string) []int64 {
		t.Helper()
		rec := a.do(httptest.NewRequest(http.MethodGet, "/admin/orders?"+query, nil), true)
		require.Equal(t, http.StatusOK, rec.Code, query)

		var page struct {
			Items []models.Order `json:"items"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		var ids []int64
		for _, o := range page.Items {
			ids = append(ids, o.ID)
		}
		return ids
	}

	assert.Equal(t, []int64{march.ID}, list("q=ALICE"))
	assert.Equal(t, []int64{april.ID}, list("q=poster"))
	assert.Empty(t, list("q=nobody"))
	assert.Equal(t, []int64{april.ID}, list("created_from=2026-04-01"))
	assert.Equal(t, []int64{march.ID}, list("created_to=2026-03-01"))
	assert.Equal(t, []int64{march.ID}, list("created_from=2026-03-01T00:00:00Z&created_to=2026-03-31"))
	assert.Equal(t, []int64{april.ID, march.ID}, list("created_from=2026-01-01&created_to=2026-12-31"))

	for _, query := range []string{"created_from=yesterday", "created_to=2026-13-01"} {
		rec := a.do(httptest.NewRequest(http.MethodGet, "/admin/orders?"+query, nil), true)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}
