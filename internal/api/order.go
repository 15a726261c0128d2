package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/middleware"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/lalith-99/ordersvc/internal/orders"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader names the optional header that makes POST
// /v1/orders safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

// OrderHandler serves /v1/orders. Every handler scopes to the token's
// tenant; nothing in the request body or URL can name another tenant.
type OrderHandler struct {
	svc    *orders.Service
	idem   orders.IdempotencyStore
	logger *zap.Logger
}

// NewOrderHandler builds the handler. idem may be nil, in which case the
// Idempotency-Key header is ignored.
func NewOrderHandler(svc *orders.Service, idem orders.IdempotencyStore, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, idem: idem, logger: logger}
}

type itemRequest struct {
	ProductID uuid.UUID        `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	Notes     string           `json:"notes"`
}

func (r itemRequest) draft() orders.ItemDraft {
	return orders.ItemDraft{
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		UnitPrice: r.UnitPrice,
		Notes:     r.Notes,
	}
}

type createOrderRequest struct {
	Status               string          `json:"status"`
	OrderDate            *time.Time      `json:"order_date"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date"`
	ShippingAddress      string          `json:"shipping_address"`
	BillingAddress       string          `json:"billing_address"`
	Notes                string          `json:"notes"`
	PaymentMethod        string          `json:"payment_method"`
	PaymentStatus        string          `json:"payment_status"`
	TrackingNumber       string          `json:"tracking_number"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	ShippingCost         decimal.Decimal `json:"shipping_cost"`
	Items                []itemRequest   `json:"items"`
}

func (r createOrderRequest) draft() (orders.OrderDraft, error) {
	d := orders.OrderDraft{
		ExpectedDeliveryDate: r.ExpectedDeliveryDate,
		ShippingAddress:      r.ShippingAddress,
		BillingAddress:       r.BillingAddress,
		Notes:                r.Notes,
		PaymentMethod:        r.PaymentMethod,
		PaymentStatus:        r.PaymentStatus,
		TrackingNumber:       r.TrackingNumber,
		TaxAmount:            r.TaxAmount,
		ShippingCost:         r.ShippingCost,
		Items:                make([]orders.ItemDraft, 0, len(r.Items)),
	}
	if r.OrderDate != nil {
		d.OrderDate = *r.OrderDate
	}
	if r.Status != "" {
		st, err := parseStatus(r.Status)
		if err != nil {
			return d, err
		}
		d.Status = &st
	}
	for _, it := range r.Items {
		d.Items = append(d.Items, it.draft())
	}
	return d, nil
}

type updateOrderRequest struct {
	Status               *string          `json:"status"`
	OrderDate            *time.Time       `json:"order_date"`
	ExpectedDeliveryDate *time.Time       `json:"expected_delivery_date"`
	ShippingAddress      *string          `json:"shipping_address"`
	BillingAddress       *string          `json:"billing_address"`
	Notes                *string          `json:"notes"`
	PaymentMethod        *string          `json:"payment_method"`
	PaymentStatus        *string          `json:"payment_status"`
	TrackingNumber       *string          `json:"tracking_number"`
	TaxAmount            *decimal.Decimal `json:"tax_amount"`
	ShippingCost         *decimal.Decimal `json:"shipping_cost"`
	Items                *[]itemRequest   `json:"items"`
	ExpectedVersion      *int64           `json:"expected_version"`
}

func (r updateOrderRequest) patch() (orders.OrderPatch, error) {
	p := orders.OrderPatch{
		OrderDate:            r.OrderDate,
		ExpectedDeliveryDate: r.ExpectedDeliveryDate,
		ShippingAddress:      r.ShippingAddress,
		BillingAddress:       r.BillingAddress,
		Notes:                r.Notes,
		PaymentMethod:        r.PaymentMethod,
		PaymentStatus:        r.PaymentStatus,
		TrackingNumber:       r.TrackingNumber,
		TaxAmount:            r.TaxAmount,
		ShippingCost:         r.ShippingCost,
		ExpectedVersion:      r.ExpectedVersion,
	}
	if r.Status != nil {
		st, err := parseStatus(*r.Status)
		if err != nil {
			return p, err
		}
		p.Status = &st
	}
	if r.Items != nil {
		items := make([]orders.ItemDraft, 0, len(*r.Items))
		for _, it := range *r.Items {
			items = append(items, it.draft())
		}
		p.Items = &items
	}
	return p, nil
}

type updateStatusRequest struct {
	Status          string `json:"status" binding:"required"`
	ExpectedVersion *int64 `json:"expected_version"`
}

func parseStatus(s string) (models.OrderStatus, error) {
	st, ok := models.ParseOrderStatus(s)
	if !ok {
		return "", apperr.New(apperr.KindValidation, "unknown order status "+strings.ToUpper(strings.TrimSpace(s)))
	}
	return st, nil
}

// orderID parses :id. A malformed id is reported exactly like a missing
// order.
func orderID(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.ErrOrderNotFound
	}
	return id, nil
}

// Create handles POST /v1/orders
//
// With an Idempotency-Key header a retried request returns the order the
// first attempt created, with 200 instead of 201.
func (h *OrderHandler) Create(c *gin.Context) {
	p, ok := middleware.MustPrincipal(c)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	draft, err := req.draft()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if len(key) > 255 {
		respondError(c, h.logger, apperr.New(apperr.KindValidation, "Idempotency-Key must be at most 255 characters"))
		return
	}

	order, replayed, err := h.svc.CreateIdempotent(c.Request.Context(), h.idem, p, key, draft)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if replayed {
		c.Header("Idempotent-Replayed", "true")
		c.JSON(http.StatusOK, order)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// List handles GET /v1/orders?status=PENDING
func (h *OrderHandler) List(c *gin.Context) {
	p, ok := middleware.MustPrincipal(c)
	if !ok {
		return
	}

	var status *models.OrderStatus
	if s := c.Query("status"); s != "" {
		st, err := parseStatus(s)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		status = &st
	}

	list, err := h.svc.FindAll(c.Request.Context(), p, status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Get handles GET /v1/orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	p, ok := middleware.MustPrincipal(c)
	if !ok {
		return
	}
	id, err := orderID(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	order, err := h.svc.FindOne(c.Request.Context(), p, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Update handles PATCH /v1/orders/:id
//
// "items": [...] replaces every item. Omitting items (or sending null)
// keeps the current ones.
func (h *OrderHandler) Update(c *gin.Context) {
	p, ok := middleware.MustPrincipal(c)
	if !ok {
		return
	}
	id, err := orderID(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var req updateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	order, err := h.svc.Update(c.Request.Context(), p, id, patch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// UpdateStatus handles PATCH /v1/orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	p, ok := middleware.MustPrincipal(c)
	if !ok {
		return
	}
	id, err := orderID(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, err)
		return
	}
	st, err := parseStatus(req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	order, err := h.svc.UpdateStatus(c.Request.Context(), p, id, st, req.ExpectedVersion)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Delete handles DELETE /v1/orders/:id
func (h *OrderHandler) Delete(c *gin.Context) {
	p, ok := middleware.MustPrincipal(c)
	if !ok {
		return
	}
	id, err := orderID(c)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if err := h.svc.Remove(c.Request.Context(), p, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
