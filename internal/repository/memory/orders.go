package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/repository"
	"github.com/shopspring/decimal"
)

type OrderStore struct {
	db *DB
}

func (s *OrderStore) Insert(ctx context.Context, o *models.Order) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	for _, existing := range s.db.orders {
		if existing.OrderNumber == o.OrderNumber {
			return repository.ErrDuplicate
		}
	}
	now := s.db.now()
	o.ID = uuid.New()
	o.Version = 1
	o.CreatedAt = now
	o.UpdatedAt = now

	row := *o
	row.Items = nil
	s.db.orders[o.ID] = row
	s.db.mark(o.ID)
	return nil
}

func (s *OrderStore) InsertItem(ctx context.Context, item *models.OrderItem) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := s.db.orders[item.OrderID]; !ok {
		return repository.ErrNotFound
	}
	now := s.db.now()
	item.ID = uuid.New()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.db.items[item.ID] = *item
	s.db.mark(item.ID)
	return nil
}

func (s *OrderStore) SetTotals(ctx context.Context, tenantID, orderID uuid.UUID, subtotal, total decimal.Decimal) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	o, ok := s.owned(tenantID, orderID)
	if !ok {
		return repository.ErrNotFound
	}
	o.Subtotal = subtotal
	o.TotalAmount = total
	s.db.orders[orderID] = o
	return nil
}

// owned returns the stored row only when it belongs to tenantID. Caller holds mu.
func (s *OrderStore) owned(tenantID, orderID uuid.UUID) (models.Order, bool) {
	o, ok := s.db.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return models.Order{}, false
	}
	return o, true
}

// itemsOf returns the items of orderID in insertion order. Caller holds mu.
func (s *OrderStore) itemsOf(orderID uuid.UUID) []models.OrderItem {
	out := []models.OrderItem{}
	for _, it := range s.db.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.db.seq[out[i].ID] < s.db.seq[out[j].ID] })
	return out
}

func (s *OrderStore) GetByID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, ok := s.owned(tenantID, orderID)
	if !ok {
		return nil, nil
	}
	o.Items = s.itemsOf(orderID)
	return &o, nil
}

// Lock is GetByID without items. Transactions are already exclusive here.
func (s *OrderStore) Lock(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	o, ok := s.owned(tenantID, orderID)
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *OrderStore) List(ctx context.Context, tenantID uuid.UUID, status *models.OrderStatus) ([]models.Order, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := []models.Order{}
	for _, o := range s.db.orders {
		if o.TenantID != tenantID {
			continue
		}
		if status != nil && o.Status != *status {
			continue
		}
		o.Items = s.itemsOf(o.ID)
		out = append(out, o)
	}
	s.db.sortNewestFirst(out)
	return out, nil
}

func (s *OrderStore) Update(ctx context.Context, o *models.Order) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	stored, ok := s.owned(o.TenantID, o.ID)
	if !ok {
		return repository.ErrNotFound
	}
	o.Version = stored.Version + 1
	o.UpdatedAt = s.db.now()
	o.OrderNumber = stored.OrderNumber
	o.UserID = stored.UserID
	o.CreatedAt = stored.CreatedAt

	row := *o
	row.Items = nil
	s.db.orders[o.ID] = row
	return nil
}

func (s *OrderStore) UpdateStatus(ctx context.Context, tenantID, orderID uuid.UUID, status models.OrderStatus, readVersion int64) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	o, ok := s.owned(tenantID, orderID)
	if !ok || o.Version != readVersion {
		return repository.ErrStaleVersion
	}
	o.Status = status
	o.Version++
	o.UpdatedAt = s.db.now()
	s.db.orders[orderID] = o
	return nil
}

func (s *OrderStore) DeleteItems(ctx context.Context, orderID uuid.UUID) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	for id, it := range s.db.items {
		if it.OrderID == orderID {
			delete(s.db.items, id)
			delete(s.db.seq, id)
		}
	}
	return nil
}

func (s *OrderStore) Delete(ctx context.Context, tenantID, orderID uuid.UUID) error {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := s.owned(tenantID, orderID); !ok {
		return repository.ErrNotFound
	}
	delete(s.db.orders, orderID)
	delete(s.db.seq, orderID)
	for id, it := range s.db.items {
		if it.OrderID == orderID {
			delete(s.db.items, id)
			delete(s.db.seq, id)
		}
	}
	return nil
}

// CountItems counts item rows for orderID across all tenants, including rows
// whose order no longer exists.
func (s *OrderStore) CountItems(ctx context.Context, orderID uuid.UUID) (int, error) {
	unlock, err := s.db.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	n := 0
	for _, it := range s.db.items {
		if it.OrderID == orderID {
			n++
		}
	}
	return n, nil
}
