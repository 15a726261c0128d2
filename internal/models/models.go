package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tenant is the top-level isolation boundary (one customer organization).
// Every user and order belongs to exactly one tenant, and every tenant-scoped
// query filters on TenantID.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is the closed set of permission levels a user can hold.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleStaff      Role = "STAFF"
)

var roles = []Role{RoleSuperAdmin, RoleAdmin, RoleManager, RoleStaff}

// ParseRole accepts any casing ("staff", "Staff", "STAFF").
func ParseRole(s string) (Role, bool) {
	up := Role(strings.ToUpper(strings.TrimSpace(s)))
	for _, r := range roles {
		if r == up {
			return r, true
		}
	}
	return "", false
}

// User is a person within a tenant.
//
// PasswordHash is tagged json:"-" so it never leaves the process, even if a
// handler serializes the full struct by mistake.
type User struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OrderStatus is where an order sits in its lifecycle. The allowed moves
// between statuses live in the orders package.
type OrderStatus string

const (
	OrderStatusDraft      OrderStatus = "DRAFT"
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// ParseOrderStatus accepts any casing and surrounding space, and returns
// the canonical upper-case status.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case OrderStatusDraft, OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return st, true
	}
	return "", false
}

// Order is the aggregate root. Monetary fields are decimals with two
// fractional digits; they are never computed with float64.
//
// Invariants kept by the orders service:
//
//	Subtotal    = Σ Items[i].TotalPrice
//	TotalAmount = Subtotal + TaxAmount + ShippingCost
//
// Version increments on every write and backs optimistic concurrency checks.
type Order struct {
	ID                   uuid.UUID       `json:"id"`
	OrderNumber          string          `json:"order_number"`
	Status               OrderStatus     `json:"status"`
	OrderDate            time.Time       `json:"order_date"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date,omitempty"`
	ShippingAddress      string          `json:"shipping_address,omitempty"`
	BillingAddress       string          `json:"billing_address,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	PaymentMethod        string          `json:"payment_method,omitempty"`
	PaymentStatus        string          `json:"payment_status,omitempty"`
	TrackingNumber       string          `json:"tracking_number,omitempty"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	ShippingCost         decimal.Decimal `json:"shipping_cost"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	TenantID             uuid.UUID       `json:"tenant_id"`
	UserID               uuid.UUID       `json:"user_id"`
	Version              int64           `json:"version"`
	Items                []OrderItem     `json:"items"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// OrderItem has no lifecycle of its own; it is deleted with its order.
type OrderItem struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	ProductID  uuid.UUID       `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Notes      string          `json:"notes,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
