// Package orders is the order aggregate engine. Every operation is scoped to
// the caller's tenant, and every multi-row write runs in one transaction.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/auth"
	"github.com/lalith-99/ordersvc/internal/events"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/observ"
	"github.com/lalith-99/ordersvc/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const producerName = "ordersvc"

// maxNumberAttempts bounds how many order numbers Create tries before
// giving up on a unique-constraint collision.
const maxNumberAttempts = 3

// Service owns the order lifecycle: creation with computed totals, patching,
// status transitions and removal, each followed by an event.
//
// Why publish after commit instead of inside the transaction?
// A subscriber that reacts to OrderCreated must be able to read the order.
// Publishing inside the transaction would race the commit, and a rollback
// would leave an event for an order that never existed.
type Service struct {
	orders    repository.OrderRepository
	tx        repository.TxManager
	numbers   NumberGenerator
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observ.Metrics
	now       func() time.Time
}

// NewService wires the engine. A nil publisher drops events; a nil metrics
// records nothing.
func NewService(
	orders repository.OrderRepository,
	tx repository.TxManager,
	numbers NumberGenerator,
	publisher events.Publisher,
	logger *zap.Logger,
	metrics *observ.Metrics,
) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		orders:    orders,
		tx:        tx,
		numbers:   numbers,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts the order with zeroed totals, inserts each item, then
// writes subtotal and total, all in one transaction. Any storage failure
// rolls everything back and surfaces as OrderCreateFailed. A collision on
// the order number is retried with a fresh number a few times first.
func (s *Service) Create(ctx context.Context, p *auth.Principal, draft OrderDraft) (order *models.Order, err error) {
	done := s.metrics.TrackOrderOp("create")
	defer func() { done(err) }()

	if err := draft.validate(); err != nil {
		return nil, err
	}

	status := models.OrderStatusDraft
	if draft.Status != nil {
		status = *draft.Status
	}
	orderDate := draft.OrderDate
	if orderDate.IsZero() {
		orderDate = s.now()
	}
	tax := draft.TaxAmount.Round(2)
	shipping := draft.ShippingCost.Round(2)

	subtotal := subtotalOf(draft.Items)
	if err := checkTotals(subtotal, subtotal.Add(tax).Add(shipping)); err != nil {
		return nil, err
	}

	base := models.Order{
		Status:               status,
		OrderDate:            orderDate,
		ExpectedDeliveryDate: draft.ExpectedDeliveryDate,
		ShippingAddress:      draft.ShippingAddress,
		BillingAddress:       draft.BillingAddress,
		Notes:                draft.Notes,
		PaymentMethod:        draft.PaymentMethod,
		PaymentStatus:        draft.PaymentStatus,
		TrackingNumber:       draft.TrackingNumber,
		Subtotal:             decimal.Zero,
		TaxAmount:            tax,
		ShippingCost:         shipping,
		TotalAmount:          tax.Add(shipping),
		TenantID:             p.TenantID,
		UserID:               p.SubjectID,
	}

	var orderID uuid.UUID
	for attempt := 1; ; attempt++ {
		o := base
		o.OrderNumber = s.numbers.Next()
		orderID, err = s.insertOrder(ctx, &o, draft.Items)
		if !errors.Is(err, repository.ErrDuplicate) || attempt == maxNumberAttempts {
			break
		}
		s.logger.Warn("order number taken, retrying with a fresh one",
			zap.String("order_number", o.OrderNumber),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		s.logger.Error("create order",
			zap.String("tenant_id", p.TenantID.String()),
			zap.Error(err),
		)
		return nil, apperr.Wrap(apperr.KindOrderCreateFailed, "failed to create order", err)
	}

	order, err = s.reload(ctx, p.TenantID, orderID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.OrderCreated, order)
	return order, nil
}

// insertOrder writes o and its items in one transaction. A taken order
// number comes back as repository.ErrDuplicate with nothing written, so the
// caller can try again with another number.
func (s *Service) insertOrder(ctx context.Context, o *models.Order, items []ItemDraft) (uuid.UUID, error) {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Insert(ctx, o); err != nil {
			return err
		}
		subtotal, err := s.insertItems(ctx, o.ID, items)
		if err != nil {
			return err
		}
		return s.orders.SetTotals(ctx, o.TenantID, o.ID, subtotal, subtotal.Add(o.TaxAmount).Add(o.ShippingCost))
	})
	if err != nil {
		return uuid.Nil, err
	}
	return o.ID, nil
}

// insertItems writes each line and returns their summed total.
func (s *Service) insertItems(ctx context.Context, orderID uuid.UUID, items []ItemDraft) (decimal.Decimal, error) {
	subtotal := decimal.Zero
	for _, it := range items {
		unit, total := lineTotal(it)
		item := &models.OrderItem{
			OrderID:    orderID,
			ProductID:  it.ProductID,
			Quantity:   it.Quantity,
			UnitPrice:  unit,
			TotalPrice: total,
			Notes:      it.Notes,
		}
		if err := s.orders.InsertItem(ctx, item); err != nil {
			return decimal.Zero, err
		}
		subtotal = subtotal.Add(total)
	}
	return subtotal, nil
}

// reload reads a just-written order back, items included.
func (s *Service) reload(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error) {
	o, err := s.orders.GetByID(ctx, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}
	if o == nil {
		return nil, apperr.ErrOrderNotFound
	}
	return o, nil
}

// FindAll lists the caller's orders, newest first. A nil status lists all.
func (s *Service) FindAll(ctx context.Context, p *auth.Principal, status *models.OrderStatus) (orders []models.Order, err error) {
	done := s.metrics.TrackOrderOp("find_all")
	defer func() { done(err) }()

	orders, err = s.orders.List(ctx, p.TenantID, status)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// FindOne fails with OrderNotFound both for a missing id and for an order
// owned by another tenant.
func (s *Service) FindOne(ctx context.Context, p *auth.Principal, orderID uuid.UUID) (order *models.Order, err error) {
	done := s.metrics.TrackOrderOp("find_one")
	defer func() { done(err) }()

	order, err = s.orders.GetByID(ctx, p.TenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, apperr.ErrOrderNotFound
	}
	return order, nil
}

// Update locks the order row, merges the patch, replaces items when the
// patch carries them, and recomputes totals, in one transaction.
func (s *Service) Update(ctx context.Context, p *auth.Principal, orderID uuid.UUID, patch OrderPatch) (order *models.Order, err error) {
	done := s.metrics.TrackOrderOp("update")
	defer func() { done(err) }()

	if err := patch.validate(); err != nil {
		return nil, err
	}

	var previous models.OrderStatus
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		cur, err := s.orders.Lock(ctx, p.TenantID, orderID)
		if err != nil {
			return err
		}
		if cur == nil {
			return apperr.ErrOrderNotFound
		}
		if patch.ExpectedVersion != nil && *patch.ExpectedVersion != cur.Version {
			return staleVersion(*patch.ExpectedVersion, cur.Version)
		}
		if patch.Status != nil && !CanTransition(cur.Status, *patch.Status) {
			return invalidTransition(cur.Status, *patch.Status)
		}
		previous = cur.Status

		patch.apply(cur)

		subtotal := cur.Subtotal
		if patch.Items != nil {
			if err := s.orders.DeleteItems(ctx, cur.ID); err != nil {
				return err
			}
			if subtotal, err = s.insertItems(ctx, cur.ID, *patch.Items); err != nil {
				return err
			}
		}
		cur.Subtotal = subtotal
		cur.TotalAmount = subtotal.Add(cur.TaxAmount).Add(cur.ShippingCost)
		if err := checkTotals(cur.Subtotal, cur.TotalAmount); err != nil {
			return err
		}

		return s.orders.Update(ctx, cur)
	})
	if err != nil {
		if isDomainError(err) {
			return nil, err
		}
		s.logger.Error("update order",
			zap.String("tenant_id", p.TenantID.String()),
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		return nil, apperr.Wrap(apperr.KindOrderUpdateFailed, "failed to update order", err)
	}

	order, err = s.reload(ctx, p.TenantID, orderID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.OrderUpdated, order)
	if order.Status != previous {
		s.emit(ctx, events.OrderStatusChanged, order)
	}
	return order, nil
}

// UpdateStatus changes only the status. It is a single compare-and-set on
// the version read here, so a concurrent write in between yields Conflict
// instead of being overwritten. An order deleted in between yields
// OrderNotFound. Totals are not touched.
func (s *Service) UpdateStatus(ctx context.Context, p *auth.Principal, orderID uuid.UUID, status models.OrderStatus, expectedVersion *int64) (order *models.Order, err error) {
	done := s.metrics.TrackOrderOp("update_status")
	defer func() { done(err) }()

	parsed, ok := models.ParseOrderStatus(string(status))
	if !ok {
		return nil, validationf("unknown status %q", status)
	}
	status = parsed

	cur, err := s.orders.GetByID(ctx, p.TenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if cur == nil {
		return nil, apperr.ErrOrderNotFound
	}
	if expectedVersion != nil && *expectedVersion != cur.Version {
		return nil, staleVersion(*expectedVersion, cur.Version)
	}
	if cur.Status == status {
		return cur, nil
	}
	if !CanTransition(cur.Status, status) {
		return nil, invalidTransition(cur.Status, status)
	}

	err = s.orders.UpdateStatus(ctx, p.TenantID, orderID, status, cur.Version)
	if errors.Is(err, repository.ErrStaleVersion) {
		// The row either moved on or went away since it was read.
		gone, lookupErr := s.orders.GetByID(ctx, p.TenantID, orderID)
		if lookupErr == nil && gone == nil {
			return nil, apperr.ErrOrderNotFound
		}
		return nil, apperr.New(apperr.KindConflict, "order was modified concurrently, retry")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindOrderUpdateFailed, "failed to update order status", err)
	}

	order, err = s.reload(ctx, p.TenantID, orderID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.OrderStatusChanged, order)
	return order, nil
}

// Remove deletes the items, then the order, in one transaction.
func (s *Service) Remove(ctx context.Context, p *auth.Principal, orderID uuid.UUID) (err error) {
	done := s.metrics.TrackOrderOp("remove")
	defer func() { done(err) }()

	var removed *models.Order
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		cur, err := s.orders.Lock(ctx, p.TenantID, orderID)
		if err != nil {
			return err
		}
		if cur == nil {
			return apperr.ErrOrderNotFound
		}
		if err := s.orders.DeleteItems(ctx, cur.ID); err != nil {
			return err
		}
		if err := s.orders.Delete(ctx, p.TenantID, cur.ID); err != nil {
			return err
		}
		removed = cur
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return err
		}
		return fmt.Errorf("remove order: %w", err)
	}

	s.emit(ctx, events.OrderDeleted, removed)
	return nil
}

func isDomainError(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e)
}

func staleVersion(expected, actual int64) error {
	return apperr.New(apperr.KindConflict,
		fmt.Sprintf("order version is %d, expected %d", actual, expected))
}

func invalidTransition(from, to models.OrderStatus) error {
	return apperr.New(apperr.KindInvalidTransition,
		fmt.Sprintf("cannot move order from %s to %s", from, to))
}

// emit publishes after commit. Delivery failures are logged and never
// reach the caller.
func (s *Service) emit(ctx context.Context, eventType string, o *models.Order) {
	env, err := events.NewEnvelope(producerName, eventType, o.TenantID, o.ID, o)
	if err == nil {
		err = s.publisher.Publish(context.WithoutCancel(ctx), env)
	}
	if err != nil {
		s.logger.Warn("order event not published",
			zap.String("event_type", eventType),
			zap.String("order_id", o.ID.String()),
			zap.Error(err),
		)
	}
}
