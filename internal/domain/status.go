package domain

import "strings"

// OrderLineStatus enumerates the customer-visible lifecycle states of an order line.
type OrderLineStatus string

const (
	OrderLineStatusPending                 OrderLineStatus = "Pending"
	OrderLineStatusPickupError             OrderLineStatus = "PickupError"
	OrderLineStatusPickupException         OrderLineStatus = "PickupException"
	OrderLineStatusPickupRescheduled       OrderLineStatus = "PickupRescheduled"
	OrderLineStatusOutForPickup            OrderLineStatus = "OutForPickup"
	OrderLineStatusPickedUp                OrderLineStatus = "PickedUp"
	OrderLineStatusShipped                 OrderLineStatus = "Shipped"
	OrderLineStatusInTransit               OrderLineStatus = "InTransit"
	OrderLineStatusReachedDestination      OrderLineStatus = "ReachedDestination"
	OrderLineStatusOutForDelivery          OrderLineStatus = "OutForDelivery"
	OrderLineStatusDelivered               OrderLineStatus = "Delivered"
	OrderLineStatusUndelivered             OrderLineStatus = "Undelivered"
	OrderLineStatusDelayed                 OrderLineStatus = "Delayed"
	OrderLineStatusLost                    OrderLineStatus = "Lost"
	OrderLineStatusDamaged                 OrderLineStatus = "Damaged"
	OrderLineStatusDestroyed               OrderLineStatus = "Destroyed"
	OrderLineStatusMisrouted               OrderLineStatus = "Misrouted"
	OrderLineStatusCancellationRequested   OrderLineStatus = "CancellationRequested"
	OrderLineStatusCancelledBeforeDispatch OrderLineStatus = "CancelledBeforeDispatch"
	OrderLineStatusCancelled               OrderLineStatus = "Cancelled"
	OrderLineStatusReturn                  OrderLineStatus = "Return"
	OrderLineStatusFailed                  OrderLineStatus = "Failed"
)

var knownOrderLineStatuses = []OrderLineStatus{
	OrderLineStatusPending,
	OrderLineStatusPickupError,
	OrderLineStatusPickupException,
	OrderLineStatusPickupRescheduled,
	OrderLineStatusOutForPickup,
	OrderLineStatusPickedUp,
	OrderLineStatusShipped,
	OrderLineStatusInTransit,
	OrderLineStatusReachedDestination,
	OrderLineStatusOutForDelivery,
	OrderLineStatusDelivered,
	OrderLineStatusUndelivered,
	OrderLineStatusDelayed,
	OrderLineStatusLost,
	OrderLineStatusDamaged,
	OrderLineStatusDestroyed,
	OrderLineStatusMisrouted,
	OrderLineStatusCancellationRequested,
	OrderLineStatusCancelledBeforeDispatch,
	OrderLineStatusCancelled,
	OrderLineStatusReturn,
	OrderLineStatusFailed,
}

// TerminalProtectedStatuses can only be left through a manual override.
var TerminalProtectedStatuses = []OrderLineStatus{
	OrderLineStatusCancelled,
	OrderLineStatusReturn,
	OrderLineStatusFailed,
}

// IsTerminalProtected reports whether carrier-driven updates must leave the status untouched.
func (s OrderLineStatus) IsTerminalProtected() bool {
	switch s {
	case OrderLineStatusCancelled, OrderLineStatusReturn, OrderLineStatusFailed:
		return true
	default:
		return false
	}
}

// ParseOrderLineStatus matches the raw value case-insensitively against the known statuses.
func ParseOrderLineStatus(raw string) (OrderLineStatus, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	for _, status := range knownOrderLineStatuses {
		if strings.EqualFold(string(status), trimmed) {
			return status, true
		}
	}
	return "", false
}

// TerminalProtectedStatusValues returns the string form of the protected statuses, for query filters.
func TerminalProtectedStatusValues() []string {
	out := make([]string, 0, len(TerminalProtectedStatuses))
	for _, status := range TerminalProtectedStatuses {
		out = append(out, string(status))
	}
	return out
}
