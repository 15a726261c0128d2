package orders

import "github.com/lalith-99/ordersvc/internal/models"

// Position along the forward path. CANCELLED sits off the path.
var statusRank = map[models.OrderStatus]int{
	models.OrderStatusDraft:      0,
	models.OrderStatusPending:    1,
	models.OrderStatusConfirmed:  2,
	models.OrderStatusProcessing: 3,
	models.OrderStatusShipped:    4,
	models.OrderStatusDelivered:  5,
}

// IsTerminal reports whether no further transition is possible from s.
func IsTerminal(s models.OrderStatus) bool {
	return s == models.OrderStatusDelivered || s == models.OrderStatusCancelled
}

// CanTransition reports whether an order may move from -> to.
//
//	DRAFT → PENDING → CONFIRMED → PROCESSING → SHIPPED → DELIVERED
//
// Moves go forward only, skipping steps is allowed. CANCELLED is reachable
// from any non-terminal status. DELIVERED and CANCELLED are terminal.
// Staying put is always allowed.
func CanTransition(from, to models.OrderStatus) bool {
	if from == to {
		return true
	}
	if IsTerminal(from) {
		return false
	}
	if to == models.OrderStatusCancelled {
		return true
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	return okFrom && okTo && toRank > fromRank
}
