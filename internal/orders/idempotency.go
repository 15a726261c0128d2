package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/auth"
	"github.com/lalith-99/ordersvc/internal/models"
	"go.uber.org/zap"
)

// Reservation is the outcome of claiming an idempotency key. The zero value
// means the key is now held by the caller.
type Reservation struct {
	// OrderID is set when an earlier request with the key already finished.
	OrderID uuid.UUID
	// InFlight is set when an earlier request holds the key and has not
	// finished yet.
	InFlight bool
}

// IdempotencyStore remembers which order a (tenant, key) pair produced.
type IdempotencyStore interface {
	Reserve(ctx context.Context, tenantID uuid.UUID, key string) (Reservation, error)
	Complete(ctx context.Context, tenantID uuid.UUID, key string, orderID uuid.UUID) error
	Release(ctx context.Context, tenantID uuid.UUID, key string) error
}

// CreateIdempotent is Create guarded by an Idempotency-Key. A retry of a
// finished request returns the original order with replayed=true. A retry
// while the first attempt is still running fails with Conflict. If the
// store itself is unreachable the order is created without the guard.
func (s *Service) CreateIdempotent(ctx context.Context, store IdempotencyStore, p *auth.Principal, key string, draft OrderDraft) (order *models.Order, replayed bool, err error) {
	if store == nil || key == "" {
		order, err = s.Create(ctx, p, draft)
		return order, false, err
	}

	res, err := store.Reserve(ctx, p.TenantID, key)
	if err != nil {
		s.logger.Warn("idempotency store unavailable, creating without it", zap.Error(err))
		order, err = s.Create(ctx, p, draft)
		return order, false, err
	}
	switch {
	case res.OrderID != uuid.Nil:
		order, err = s.FindOne(ctx, p, res.OrderID)
		return order, true, err
	case res.InFlight:
		return nil, false, apperr.New(apperr.KindConflict, "a request with this Idempotency-Key is still in progress")
	}

	order, err = s.Create(ctx, p, draft)
	// The key outlives the request either way, so use a context that the
	// client hanging up cannot cancel.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if relErr := store.Release(bg, p.TenantID, key); relErr != nil {
			s.logger.Warn("release idempotency key", zap.Error(relErr))
		}
		return nil, false, err
	}
	if cErr := store.Complete(bg, p.TenantID, key, order.ID); cErr != nil {
		s.logger.Warn("complete idempotency key", zap.Error(cErr))
	}
	return order, false, nil
}
