package services

import (
	"context"
	"time"

	domain "github.com/weave/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CartLine             = domain.CartLine
	DiscountPolicy       = domain.DiscountPolicy
	PricedLine           = domain.PricedLine
	CheckoutSummary      = domain.CheckoutSummary
	ShippingDetails      = domain.ShippingDetails
	Order                = domain.Order
	OrderLine            = domain.OrderLine
	OrderLineStatus      = domain.OrderLineStatus
	TrackingSnapshot     = domain.TrackingSnapshot
	TrackingEvent        = domain.TrackingEvent
	TrackingHistoryEntry = domain.TrackingHistoryEntry
	StatusOverride       = domain.StatusOverride
)

// CheckoutService prices carts for display and turns them into persisted orders.
type CheckoutService interface {
	ComputeCheckoutSummary(ctx context.Context, cmd CheckoutSummaryCommand) (CheckoutSummaryResult, error)
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
}

// CheckoutSummaryCommand carries the lines and optional coupon for a checkout-page preview.
type CheckoutSummaryCommand struct {
	UserID     string
	Lines      []CartLine
	CouponCode *string
}

// CheckoutSummaryResult bundles totals with the per-line prices they were summed from.
type CheckoutSummaryResult struct {
	Summary    CheckoutSummary
	Lines      []PricedLine
	CouponCode *string
}

// PlaceOrderCommand captures everything needed to create an order. Lines default to the user's
// persisted cart when omitted.
type PlaceOrderCommand struct {
	UserID     string
	Lines      []CartLine
	CouponCode *string
	Shipping   ShippingDetails
	PaymentID  string
}

// OrderService exposes order reads and the manual status override.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderLine(ctx context.Context, secretOrderID string) (OrderLine, error)
	OverrideLineStatus(ctx context.Context, cmd OverrideLineStatusCommand) (OrderLine, error)
	AttachShipment(ctx context.Context, cmd AttachShipmentCommand) (OrderLine, error)
}

// OverrideLineStatusCommand is an explicit human status change. It is never blocked by
// terminal protection.
type OverrideLineStatusCommand struct {
	SecretOrderID string
	Status        OrderLineStatus
	ActorID       string
	Reason        string
}

// AttachShipmentCommand records the carrier shipment created for a line once the vendor hands it
// over. The line becomes eligible for reconciliation from then on.
type AttachShipmentCommand struct {
	SecretOrderID string
	ShipmentID    string
	TrackURL      string
	ActorID       string
}

// TrackingFetcher retrieves the carrier's tracking snapshot for a shipment.
type TrackingFetcher interface {
	FetchTracking(ctx context.Context, shipmentID string) (TrackingSnapshot, error)
}

// LineLocker provides the per-line mutual exclusion used by the reconciler. TryLock never blocks
// waiting for another holder; ok is false when the key is already held.
type LineLocker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// ReconcileRecorder receives reconcile outcomes for monitoring.
type ReconcileRecorder interface {
	RecordReconcile(outcome ReconcileOutcome, duration time.Duration)
	RecordTerminalSkip(status OrderLineStatus)
}

// CheckoutRecorder receives checkout outcomes for monitoring.
type CheckoutRecorder interface {
	RecordCheckout(result string)
}

// TextSanitizer strips markup from free-form user input before it is persisted.
type TextSanitizer interface {
	Sanitize(value string) string
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	SecretOrderID  string         `json:"secretOrderId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
