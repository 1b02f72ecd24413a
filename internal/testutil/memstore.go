// Package testutil holds in-memory stand-ins for the Postgres store and the
// payment gateway, for handler and service tests that do not need a database.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
)

// MemStore mirrors the behaviour of store.Store closely enough for the
// checkout flow: orders snapshot prices, fulfilment is idempotent per session.
type MemStore struct {
	mu       sync.Mutex
	now      func() time.Time
	users    map[int64]*models.User
	products map[int64]*models.Product
	orders   map[int64]*models.Order
	nextID   int64

	// Fail, when set, is returned by every call.
	Fail error
}

func NewMemStore() *MemStore {
	return &MemStore{
		now:      time.Now,
		users:    make(map[int64]*models.User),
		products: make(map[int64]*models.Product),
		orders:   make(map[int64]*models.Order),
	}
}

// SetClock replaces the time source used for created_at columns.
func (m *MemStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemStore) AddProduct(name string, price string, stock *int) *models.Product {
	p, _ := m.CreateProduct(context.Background(), store.ProductInput{
		Name:  name,
		Price: Price(price),
		Stock: stock,
	})
	return p
}

func (m *MemStore) AddUser(email string) *models.User {
	u, _ := m.EnsureUser(context.Background(), email, "")
	return u
}

func (m *MemStore) EnsureUser(_ context.Context, email, name string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}

	now := m.now()
	u := &models.User{ID: m.id(), Email: email, Name: name, CreatedAt: now, UpdatedAt: now}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *MemStore) CreateProduct(_ context.Context, in store.ProductInput) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	now := m.now()
	p := &models.Product{
		ID:          m.id(),
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Image:       in.Image,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Stock != nil {
		v := *in.Stock
		p.Stock = &v
	}
	m.products[p.ID] = p
	return copyProduct(p), nil
}

func (m *MemStore) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	p, ok := m.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	return copyProduct(p), nil
}

func (m *MemStore) ListProducts(_ context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	products := []models.Product{}
	for _, p := range m.products {
		products = append(products, *copyProduct(p))
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (m *MemStore) SearchProducts(ctx context.Context, search string, page, pageSize int) (*store.OffsetPage, error) {
	all, err := m.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	matched := []models.Product{}
	for _, p := range all {
		if search == "" || strings.Contains(strings.ToLower(p.Name), strings.ToLower(search)) {
			matched = append(matched, p)
		}
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	items := []models.Product{}
	if start < len(matched) {
		items = matched[start:min(end, len(matched))]
	}

	totalPages := (len(matched) + pageSize - 1) / pageSize
	return &store.OffsetPage{
		Items:      items,
		Total:      int64(len(matched)),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// Stock returns the current stock of a product, nil when untracked.
func (m *MemStore) Stock(productID int64) *int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.Stock == nil {
		return nil
	}
	v := *p.Stock
	return &v
}

func (m *MemStore) CreateOrder(_ context.Context, order models.Order) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	if _, ok := m.users[order.UserID]; !ok {
		return nil, database.ErrUserNotFound
	}
	if _, ok := m.products[order.ProductID]; !ok {
		return nil, database.ErrProductNotFound
	}

	order.ID = m.id()
	order.Paid = false
	order.CheckoutSessionID = ""
	order.CreatedAt = m.now()
	stored := order
	m.orders[order.ID] = &stored
	return &order, nil
}

func (m *MemStore) AttachCheckoutSession(_ context.Context, orderID int64, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}

	o, ok := m.orders[orderID]
	if !ok {
		return database.ErrOrderNotFound
	}
	if o.CheckoutSessionID != "" {
		return database.ErrSessionAttached
	}
	now := m.now()
	o.CheckoutSessionID = sessionID
	o.SessionCreatedAt = &now
	return nil
}

func (m *MemStore) FulfillCheckoutSession(_ context.Context, sessionID string) (*models.Fulfillment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	o := m.orderBySession(sessionID)
	if o == nil {
		return nil, database.ErrOrderNotFound
	}
	if o.Paid {
		return &models.Fulfillment{Order: *o, AlreadyPaid: true}, nil
	}

	now := m.now()
	o.Paid = true
	o.PaidAt = &now

	result := &models.Fulfillment{Order: *o}
	if p, ok := m.products[o.ProductID]; ok && p.Stock != nil {
		*p.Stock--
		v := *p.Stock
		result.StockAfter = &v
	}
	return result, nil
}

func (m *MemStore) orderBySession(sessionID string) *models.Order {
	if sessionID == "" {
		return nil
	}
	for _, o := range m.orders {
		if o.CheckoutSessionID == sessionID {
			return o
		}
	}
	return nil
}

// Orders returns every stored order ordered by id.
func (m *MemStore) Orders() []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}

// ListOrdersCursor ignores the cursor position beyond validating it and
// returns at most limit matching orders, newest first.
func (m *MemStore) ListOrdersCursor(_ context.Context, filter store.OrderFilter, cursor string, limit int) (*store.CursorPage, error) {
	if _, err := store.DecodeCursor(cursor); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	orders := []models.Order{}
	for _, o := range m.orders {
		if filter.UserID != 0 && o.UserID != filter.UserID {
			continue
		}
		if filter.Paid != nil && o.Paid != *filter.Paid {
			continue
		}
		if filter.CreatedFrom != nil && o.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && !o.CreatedAt.Before(*filter.CreatedTo) {
			continue
		}
		if !m.matchesSearch(o, filter.Search) {
			continue
		}
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}
	return &store.CursorPage{Items: orders, HasMore: hasMore}, nil
}

func (m *MemStore) DeleteOrphanedOrders(_ context.Context, createdBefore time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	var ids []int64
	for id, o := range m.orders {
		if !o.Paid && o.CheckoutSessionID == "" && o.CreatedAt.Before(createdBefore) {
			ids = append(ids, id)
			delete(m.orders, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemStore) ListUnpaidSessionOrders(_ context.Context, sessionBefore time.Time, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}

	orders := []models.Order{}
	for _, o := range m.orders {
		if !o.Paid && o.SessionCreatedAt != nil && o.SessionCreatedAt.Before(sessionBefore) {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (m *MemStore) DeleteUnpaidOrder(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return false, m.Fail
	}

	o, ok := m.orders[id]
	if !ok || o.Paid {
		return false, nil
	}
	delete(m.orders, id)
	return true, nil
}

// UserCount returns how many users have been created.
func (m *MemStore) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *MemStore) matchesSearch(o *models.Order, search string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	if u, ok := m.users[o.UserID]; ok && strings.Contains(u.Email, search) {
		return true
	}
	p, ok := m.products[o.ProductID]
	return ok && strings.Contains(strings.ToLower(p.Name), search)
}

func copyProduct(p *models.Product) *models.Product {
	cp := *p
	if p.Stock != nil {
		v := *p.Stock
		cp.Stock = &v
	}
	return &cp
}

func Price(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func IntPtr(v int) *int { return &v }
