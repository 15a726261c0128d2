package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/ordersvc/internal/db"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/repository"
	"github.com/shopspring/decimal"
)

// OrderStore persists orders and their items. Every query that touches the
// orders table filters on tenant_id; item queries go through an order id the
// caller already resolved inside the tenant.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore queries through pool unless ctx carries a transaction.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `id, order_number, status, order_date, expected_delivery_date,
	shipping_address, billing_address, notes, payment_method, payment_status, tracking_number,
	subtotal, tax_amount, shipping_cost, total_amount, tenant_id, user_id, version, created_at, updated_at`

const itemColumns = `id, order_id, product_id, quantity, unit_price, total_price, notes, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.Status,
		&o.OrderDate,
		&o.ExpectedDeliveryDate,
		&o.ShippingAddress,
		&o.BillingAddress,
		&o.Notes,
		&o.PaymentMethod,
		&o.PaymentStatus,
		&o.TrackingNumber,
		&o.Subtotal,
		&o.TaxAmount,
		&o.ShippingCost,
		&o.TotalAmount,
		&o.TenantID,
		&o.UserID,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanItem(row pgx.Row) (*models.OrderItem, error) {
	var it models.OrderItem
	err := row.Scan(
		&it.ID,
		&it.OrderID,
		&it.ProductID,
		&it.Quantity,
		&it.UnitPrice,
		&it.TotalPrice,
		&it.Notes,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *OrderStore) Insert(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (order_number, status, order_date, expected_delivery_date,
			shipping_address, billing_address, notes, payment_method, payment_status, tracking_number,
			subtotal, tax_amount, shipping_cost, total_amount, tenant_id, user_id, version,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, now(), now())
		RETURNING id, version, created_at, updated_at`

	err := db.Conn(ctx, s.pool).QueryRow(ctx, query,
		o.OrderNumber, o.Status, o.OrderDate, o.ExpectedDeliveryDate,
		o.ShippingAddress, o.BillingAddress, o.Notes, o.PaymentMethod, o.PaymentStatus, o.TrackingNumber,
		o.Subtotal, o.TaxAmount, o.ShippingCost, o.TotalAmount, o.TenantID, o.UserID,
	).Scan(&o.ID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return mapWriteErr("insert order", err)
	}
	return nil
}

// InsertItem stamps created_at with clock_timestamp(): now() is fixed for
// the whole transaction, and items are listed in created_at order.
func (s *OrderStore) InsertItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, clock_timestamp(), clock_timestamp())
		RETURNING id, created_at, updated_at`

	err := db.Conn(ctx, s.pool).QueryRow(ctx, query,
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice, item.Notes,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (s *OrderStore) SetTotals(ctx context.Context, tenantID, orderID uuid.UUID, subtotal, total decimal.Decimal) error {
	query := `
		UPDATE orders SET subtotal = $3, total_amount = $4
		WHERE id = $1 AND tenant_id = $2`

	tag, err := db.Conn(ctx, s.pool).Exec(ctx, query, orderID, tenantID, subtotal, total)
	if err != nil {
		return fmt.Errorf("set order totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND tenant_id = $2`

	o, err := scanOrder(db.Conn(ctx, s.pool).QueryRow(ctx, query, orderID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := s.itemsFor(ctx, `order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	if o.Items == nil {
		o.Items = []models.OrderItem{}
	}
	return o, nil
}

// Lock takes a row lock with SELECT ... FOR UPDATE. Only meaningful inside
// RunInTx; outside a transaction the lock is released immediately.
func (s *OrderStore) Lock(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND tenant_id = $2 FOR UPDATE`

	o, err := scanOrder(db.Conn(ctx, s.pool).QueryRow(ctx, query, orderID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return o, nil
}

func (s *OrderStore) List(ctx context.Context, tenantID uuid.UUID, status *models.OrderStatus) ([]models.Order, error) {
	// One query for the orders and one for all their items, instead of one
	// item query per order.
	query := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1`
	itemFilter := `order_id IN (SELECT id FROM orders WHERE tenant_id = $1)`
	args := []any{tenantID}
	if status != nil {
		query += ` AND status = $2`
		itemFilter = `order_id IN (SELECT id FROM orders WHERE tenant_id = $1 AND status = $2)`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	items, err := s.itemsFor(ctx, itemFilter, args...)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []models.OrderItem{}
		}
	}
	return orders, nil
}

func (s *OrderStore) itemsFor(ctx context.Context, where string, args ...any) (map[uuid.UUID][]models.OrderItem, error) {
	query := `SELECT ` + itemColumns + ` FROM order_items WHERE ` + where + ` ORDER BY created_at, id`

	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	byOrder := make(map[uuid.UUID][]models.OrderItem)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		byOrder[it.OrderID] = append(byOrder[it.OrderID], *it)
	}
	return byOrder, rows.Err()
}

func (s *OrderStore) Update(ctx context.Context, o *models.Order) error {
	query := `
		UPDATE orders
		SET status = $3, order_date = $4, expected_delivery_date = $5,
		    shipping_address = $6, billing_address = $7, notes = $8,
		    payment_method = $9, payment_status = $10, tracking_number = $11,
		    subtotal = $12, tax_amount = $13, shipping_cost = $14, total_amount = $15,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING version, updated_at`

	err := db.Conn(ctx, s.pool).QueryRow(ctx, query,
		o.ID, o.TenantID, o.Status, o.OrderDate, o.ExpectedDeliveryDate,
		o.ShippingAddress, o.BillingAddress, o.Notes,
		o.PaymentMethod, o.PaymentStatus, o.TrackingNumber,
		o.Subtotal, o.TaxAmount, o.ShippingCost, o.TotalAmount,
	).Scan(&o.Version, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// UpdateStatus is a compare-and-set on version. It returns
// repository.ErrStaleVersion when no row matched, whether the version moved
// or the order is gone.
func (s *OrderStore) UpdateStatus(ctx context.Context, tenantID, orderID uuid.UUID, status models.OrderStatus, readVersion int64) error {
	query := `
		UPDATE orders
		SET status = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND version = $4`

	tag, err := db.Conn(ctx, s.pool).Exec(ctx, query, orderID, tenantID, status, readVersion)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrStaleVersion
	}
	return nil
}

func (s *OrderStore) DeleteItems(ctx context.Context, orderID uuid.UUID) error {
	if _, err := db.Conn(ctx, s.pool).Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	return nil
}

func (s *OrderStore) Delete(ctx context.Context, tenantID, orderID uuid.UUID) error {
	// order_items cascade.
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `DELETE FROM orders WHERE id = $1 AND tenant_id = $2`, orderID, tenantID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
