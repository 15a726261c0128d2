package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/shopspring/decimal"
)

// Every method takes ctx first: requests carry deadlines, and inside a
// transaction the ctx also carries the tx handle (see TxManager).
//
// Get-style methods return nil, nil when the row does not exist. Write
// methods that target an existing row return ErrNotFound instead.
//
// Order methods take tenantID and always filter on it. A row owned by another
// tenant is indistinguishable from a missing row.

var (
	ErrNotFound     = errors.New("row not found")
	ErrDuplicate    = errors.New("duplicate key")
	ErrStaleVersion = errors.New("stale row version")
)

// TxManager runs fn inside one database transaction. Repository calls made
// with the ctx passed to fn join that transaction. fn returning an error (or
// panicking) rolls everything back.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TenantUpdate carries the fields to change. Nil fields are left alone.
type TenantUpdate struct {
	Name     *string
	Slug     *string
	IsActive *bool
}

// TenantRepository is the tenant half of the credential store.
type TenantRepository interface {
	Create(ctx context.Context, name, slug string, isActive bool) (*models.Tenant, error)
	GetByID(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	// List is cross-tenant and only reachable from the admin surface.
	List(ctx context.Context) ([]models.Tenant, error)
	Update(ctx context.Context, tenantID uuid.UUID, upd TenantUpdate) (*models.Tenant, error)
}

// UserUpdate carries the fields to change. Nil fields are left alone.
type UserUpdate struct {
	Name     *string
	Role     *models.Role
	IsActive *bool
}

// UserRepository is the user half of the credential store.
type UserRepository interface {
	// Create returns ErrDuplicate when the email is taken.
	Create(ctx context.Context, u models.User) (*models.User, error)
	// GetByID is global: token validation only knows the subject id.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	// GetByEmail matches the email exactly as stored.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, userID uuid.UUID, upd UserUpdate) (*models.User, error)
}

// OrderRepository holds row-level primitives. The orders service composes
// them into aggregate operations under a TxManager.
type OrderRepository interface {
	// Insert stores the order row only (no items) and fills ID, Version and timestamps.
	Insert(ctx context.Context, o *models.Order) error
	InsertItem(ctx context.Context, item *models.OrderItem) error
	// SetTotals writes subtotal and total without bumping the version.
	SetTotals(ctx context.Context, tenantID, orderID uuid.UUID, subtotal, total decimal.Decimal) error

	// GetByID returns the order with its items.
	GetByID(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	// Lock returns the order row (without items) and holds a row lock for the
	// rest of the surrounding transaction.
	Lock(ctx context.Context, tenantID, orderID uuid.UUID) (*models.Order, error)
	// List returns orders with items, newest first. A nil status means all.
	List(ctx context.Context, tenantID uuid.UUID, status *models.OrderStatus) ([]models.Order, error)

	// Update writes all scalar and total fields and bumps the version. It
	// updates o.Version and o.UpdatedAt in place.
	Update(ctx context.Context, o *models.Order) error
	// UpdateStatus is a compare-and-set on version; ErrStaleVersion when the
	// row moved on since it was read.
	UpdateStatus(ctx context.Context, tenantID, orderID uuid.UUID, status models.OrderStatus, readVersion int64) error

	DeleteItems(ctx context.Context, orderID uuid.UUID) error
	Delete(ctx context.Context, tenantID, orderID uuid.UUID) error
}
