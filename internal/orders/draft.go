package orders

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/models"
	"github.com/shopspring/decimal"
)

// ItemDraft is one requested line. A nil UnitPrice prices the line at zero.
type ItemDraft struct {
	ProductID uuid.UUID
	Quantity  int
	UnitPrice *decimal.Decimal
	Notes     string
}

// OrderDraft is the input to Create. Zero OrderDate means now; nil Status
// means DRAFT.
type OrderDraft struct {
	Status               *models.OrderStatus
	OrderDate            time.Time
	ExpectedDeliveryDate *time.Time
	ShippingAddress      string
	BillingAddress       string
	Notes                string
	PaymentMethod        string
	PaymentStatus        string
	TrackingNumber       string
	TaxAmount            decimal.Decimal
	ShippingCost         decimal.Decimal
	Items                []ItemDraft
}

// OrderPatch is the input to Update. Nil fields keep their stored value.
// A non-nil Items replaces every existing item, even when it points at an
// empty slice. ExpectedVersion, when set, must match the stored version.
type OrderPatch struct {
	Status               *models.OrderStatus
	OrderDate            *time.Time
	ExpectedDeliveryDate *time.Time
	ShippingAddress      *string
	BillingAddress       *string
	Notes                *string
	PaymentMethod        *string
	PaymentStatus        *string
	TrackingNumber       *string
	TaxAmount            *decimal.Decimal
	ShippingCost         *decimal.Decimal
	Items                *[]ItemDraft
	ExpectedVersion      *int64
}

// maxMoney is the first amount numeric(14,2) cannot hold.
var maxMoney = decimal.New(1, 12)

func validationf(format string, args ...any) error {
	return apperr.New(apperr.KindValidation, fmt.Sprintf(format, args...))
}

func validateMoney(name string, d decimal.Decimal) error {
	if d.IsNegative() {
		return validationf("%s must not be negative", name)
	}
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		return validationf("%s has more than 2 decimal places", name)
	}
	return checkMoneyRange(name, d)
}

func checkMoneyRange(name string, d decimal.Decimal) error {
	if d.Round(2).Abs().GreaterThanOrEqual(maxMoney) {
		return validationf("%s must be less than %s", name, maxMoney)
	}
	return nil
}

func validateItems(items []ItemDraft) error {
	for i, it := range items {
		if it.ProductID == uuid.Nil {
			return validationf("items[%d].product_id is required", i)
		}
		if it.Quantity <= 0 {
			return validationf("items[%d].quantity must be positive", i)
		}
		if it.Quantity > math.MaxInt32 {
			return validationf("items[%d].quantity must be at most %d", i, math.MaxInt32)
		}
		if it.UnitPrice != nil {
			if err := validateMoney(fmt.Sprintf("items[%d].unit_price", i), *it.UnitPrice); err != nil {
				return err
			}
		}
		if _, total := lineTotal(it); total.GreaterThanOrEqual(maxMoney) {
			return validationf("items[%d] line total must be less than %s", i, maxMoney)
		}
	}
	return nil
}

// subtotalOf sums the line totals the items will be stored with.
func subtotalOf(items []ItemDraft) decimal.Decimal {
	subtotal := decimal.Zero
	for _, it := range items {
		_, total := lineTotal(it)
		subtotal = subtotal.Add(total)
	}
	return subtotal
}

// checkTotals rejects an order whose subtotal or total would not fit the
// stored precision.
func checkTotals(subtotal, total decimal.Decimal) error {
	if err := checkMoneyRange("subtotal", subtotal); err != nil {
		return err
	}
	return checkMoneyRange("total_amount", total)
}

func (d OrderDraft) validate() error {
	if d.Status != nil {
		if _, ok := models.ParseOrderStatus(string(*d.Status)); !ok {
			return validationf("unknown status %q", *d.Status)
		}
	}
	if err := validateMoney("tax_amount", d.TaxAmount); err != nil {
		return err
	}
	if err := validateMoney("shipping_cost", d.ShippingCost); err != nil {
		return err
	}
	return validateItems(d.Items)
}

func (p OrderPatch) validate() error {
	if p.Status != nil {
		if _, ok := models.ParseOrderStatus(string(*p.Status)); !ok {
			return validationf("unknown status %q", *p.Status)
		}
	}
	if p.TaxAmount != nil {
		if err := validateMoney("tax_amount", *p.TaxAmount); err != nil {
			return err
		}
	}
	if p.ShippingCost != nil {
		if err := validateMoney("shipping_cost", *p.ShippingCost); err != nil {
			return err
		}
	}
	if p.Items != nil {
		return validateItems(*p.Items)
	}
	return nil
}

// apply merges the patch's scalar fields into o. Items and totals are left
// to the caller.
func (p OrderPatch) apply(o *models.Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.OrderDate != nil {
		o.OrderDate = *p.OrderDate
	}
	if p.ExpectedDeliveryDate != nil {
		o.ExpectedDeliveryDate = p.ExpectedDeliveryDate
	}
	setString(&o.ShippingAddress, p.ShippingAddress)
	setString(&o.BillingAddress, p.BillingAddress)
	setString(&o.Notes, p.Notes)
	setString(&o.PaymentMethod, p.PaymentMethod)
	setString(&o.PaymentStatus, p.PaymentStatus)
	setString(&o.TrackingNumber, p.TrackingNumber)
	if p.TaxAmount != nil {
		o.TaxAmount = p.TaxAmount.Round(2)
	}
	if p.ShippingCost != nil {
		o.ShippingCost = p.ShippingCost.Round(2)
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// lineTotal is quantity × unit price, exact at 2 decimal places.
func lineTotal(it ItemDraft) (unit, total decimal.Decimal) {
	unit = decimal.Zero
	if it.UnitPrice != nil {
		unit = it.UnitPrice.Round(2)
	}
	return unit, unit.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
}
