package database

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/apperr"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
)

// MemStore is an in-memory Store used by tests and local runs
// (DB_DRIVER=memory). A single mutex serializes transactions, and WithinTx
// snapshots the whole state up front so a failed unit of work rolls back
// completely, matching the Postgres semantics.
type MemStore struct {
	mu           sync.Mutex
	items        map[string]models.ListedItem
	orders       map[string]models.Order
	lineItems    map[string][]models.OrderLineItem
	reservations map[string]models.Reservation

	failRestore bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		items:        make(map[string]models.ListedItem),
		orders:       make(map[string]models.Order),
		lineItems:    make(map[string][]models.OrderLineItem),
		reservations: make(map[string]models.Reservation),
	}
}

// PutListedItem seeds or replaces a catalog entry.
func (m *MemStore) PutListedItem(item models.ListedItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

// FailRestores makes every RestoreStock call fail until switched off again.
// Tests use it to exercise the retryable-reconciliation path.
func (m *MemStore) FailRestores(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRestore = fail
}

func (m *MemStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapItems, snapOrders, snapLines, snapRes := m.snapshot()
	if err := fn(&memTx{s: m}); err != nil {
		m.items, m.orders, m.lineItems, m.reservations = snapItems, snapOrders, snapLines, snapRes
		return err
	}
	return nil
}

func (m *MemStore) snapshot() (map[string]models.ListedItem, map[string]models.Order, map[string][]models.OrderLineItem, map[string]models.Reservation) {
	items := make(map[string]models.ListedItem, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	orders := make(map[string]models.Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	lines := make(map[string][]models.OrderLineItem, len(m.lineItems))
	for k, v := range m.lineItems {
		cp := make([]models.OrderLineItem, len(v))
		copy(cp, v)
		lines[k] = cp
	}
	res := make(map[string]models.Reservation, len(m.reservations))
	for k, v := range m.reservations {
		res[k] = v
	}
	return items, orders, lines, res
}

func (m *MemStore) GetListedItem(ctx context.Context, id string) (models.ListedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getListedItem(id)
}

func (m *MemStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrder(id)
}

func (m *MemStore) GetOrderLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLineItems(orderID), nil
}

func (m *MemStore) Close() {}

func (m *MemStore) getListedItem(id string) (models.ListedItem, error) {
	item, ok := m.items[id]
	if !ok {
		return models.ListedItem{}, apperr.ErrItemNotFound
	}
	return item, nil
}

func (m *MemStore) getOrder(id string) (models.Order, error) {
	order, ok := m.orders[id]
	if !ok {
		return models.Order{}, apperr.ErrOrderNotFound
	}
	return order, nil
}

func (m *MemStore) getLineItems(orderID string) []models.OrderLineItem {
	src := m.lineItems[orderID]
	out := make([]models.OrderLineItem, len(src))
	copy(out, src)
	return out
}

// memTx operates directly on the locked store; WithinTx owns rollback.
type memTx struct {
	s *MemStore
}

func (t *memTx) GetListedItem(ctx context.Context, id string) (models.ListedItem, error) {
	return t.s.getListedItem(id)
}

func (t *memTx) ReserveStock(ctx context.Context, itemID string, qty int) error {
	item, ok := t.s.items[itemID]
	if !ok {
		return apperr.ErrItemNotFound
	}
	if item.Status != models.ListedItemAvailable {
		return apperr.ErrItemUnavailable
	}
	if item.QuantityAvailable < qty {
		return apperr.ErrInsufficientStock
	}
	item.QuantityAvailable -= qty
	t.s.items[itemID] = item
	return nil
}

func (t *memTx) RestoreStock(ctx context.Context, itemID string, qty int) error {
	if t.s.failRestore {
		return errors.New("simulated restore failure")
	}
	item, ok := t.s.items[itemID]
	if !ok {
		return apperr.ErrItemNotFound
	}
	item.QuantityAvailable += qty
	t.s.items[itemID] = item
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if _, exists := t.s.orders[order.ID]; exists {
		return errors.New("duplicate order id")
	}
	t.s.orders[order.ID] = *order
	return nil
}

// InsertLineItems enforces the same (order, item) uniqueness as the Postgres
// composite primary key.
func (t *memTx) InsertLineItems(ctx context.Context, items []models.OrderLineItem) error {
	for _, item := range items {
		for _, existing := range t.s.lineItems[item.OrderID] {
			if existing.ListedItemID == item.ListedItemID {
				return errors.New("duplicate line item for order " + item.OrderID)
			}
		}
		t.s.lineItems[item.OrderID] = append(t.s.lineItems[item.OrderID], item)
	}
	return nil
}

func (t *memTx) GetOrder(ctx context.Context, id string) (models.Order, error) {
	return t.s.getOrder(id)
}

func (t *memTx) GetOrderLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error) {
	return t.s.getLineItems(orderID), nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	order, ok := t.s.orders[id]
	if !ok {
		return apperr.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	t.s.orders[id] = order
	return nil
}

func (t *memTx) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	order, ok := t.s.orders[id]
	if !ok {
		return apperr.ErrOrderNotFound
	}
	order.PaymentStatus = status
	order.UpdatedAt = time.Now()
	t.s.orders[id] = order
	return nil
}

func (t *memTx) UpsertReservation(ctx context.Context, orderID string, expiresAt time.Time) error {
	t.s.reservations[orderID] = models.Reservation{OrderID: orderID, ExpiresAt: expiresAt, Released: false}
	return nil
}

func (t *memTx) ReleaseReservation(ctx context.Context, orderID string) (bool, error) {
	res, ok := t.s.reservations[orderID]
	if !ok {
		return false, apperr.ErrReservationNotFound
	}
	if res.Released {
		return false, nil
	}
	res.Released = true
	t.s.reservations[orderID] = res
	return true, nil
}

func (t *memTx) GetReservation(ctx context.Context, orderID string) (models.Reservation, error) {
	res, ok := t.s.reservations[orderID]
	if !ok {
		return models.Reservation{}, apperr.ErrReservationNotFound
	}
	return res, nil
}

func (t *memTx) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var out []models.Reservation
	for _, res := range t.s.reservations {
		if !res.Released && res.ExpiresAt.Before(now) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
