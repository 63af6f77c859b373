package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one product entry of a user's basket before checkout.
type CartLine struct {
	ProductID        string
	VendorID         string
	Quantity         int
	UnitSellingPrice decimal.Decimal
	UnitMRP          decimal.Decimal
	VariantSize      *string
}

// DiscountPolicy describes a coupon. The zero value grants no discount.
type DiscountPolicy struct {
	Code             string
	MinimumCartValue decimal.Decimal
	PercentOff       decimal.Decimal
	// VendorExtraDiscountPct overrides the platform extra discount for lines sold by the keyed vendor.
	VendorExtraDiscountPct map[string]decimal.Decimal
}

// PricedLine is the price-locked result of running a cart line through the pricing stages.
type PricedLine struct {
	ProductID     string
	VendorID      string
	Quantity      int
	UnitMRP       decimal.Decimal
	LineMRP       decimal.Decimal
	LinePrice     decimal.Decimal
	VariantSize   *string
	CouponApplied bool
	ExtraPct      decimal.Decimal
}

// CheckoutSummary aggregates priced lines for display and for the persisted order header.
type CheckoutSummary struct {
	TotalPrice    decimal.Decimal
	TotalMRP      decimal.Decimal
	TotalDiscount decimal.Decimal
	LineCount     int
}

// ShippingDetails holds the contact and delivery address captured at checkout.
type ShippingDetails struct {
	Name       string
	Phone      string
	Email      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Order is the immutable aggregate created from a non-empty cart.
type Order struct {
	ID         string
	UserID     string
	PaymentID  string
	Shipping   ShippingDetails
	CouponCode *string
	Totals     CheckoutSummary
	Lines      []OrderLine
	CreatedAt  time.Time
}

// OrderLine is the priced, trackable record of one cart line. Prices never change after creation.
type OrderLine struct {
	SecretOrderID   string
	OrderID         string
	UserID          string
	ProductID       string
	VendorID        string
	Quantity        int
	UnitMRP         decimal.Decimal
	LineMRP         decimal.Decimal
	LinePrice       decimal.Decimal
	VariantSize     *string
	Status          OrderLineStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ShipmentID      *string
	TrackingHistory []TrackingHistoryEntry
	ETD             *string
	TrackURL        *string
	UpdatedDate     *string
	LastOverride    *StatusOverride
	Version         int64
	// LastReconciledAt is stamped on every carrier poll, including polls that change nothing.
	LastReconciledAt time.Time
}

// StatusOverride records the most recent manual status change.
type StatusOverride struct {
	Actor  string
	Reason string
	From   OrderLineStatus
	To     OrderLineStatus
	At     time.Time
}

// TrackingEvent is one entry of the carrier's shipment history.
type TrackingEvent struct {
	Status        string
	Location      string
	Date          string
	DeliveredDate string
}

// TrackingSnapshot is the carrier's view of a shipment at fetch time.
type TrackingSnapshot struct {
	ShipmentID   string
	TrackingCode int
	TrackURL     string
	ETD          string
	History      []TrackingEvent
}

// TrackingHistoryEntry is a snapshot appended to an order line by the reconciler.
type TrackingHistoryEntry struct {
	Fingerprint string
	Status      OrderLineStatus
	Snapshot    TrackingSnapshot
	RecordedAt  time.Time
}

// LastTrackingEntry returns the most recent history entry when present.
func (l OrderLine) LastTrackingEntry() (TrackingHistoryEntry, bool) {
	if len(l.TrackingHistory) == 0 {
		return TrackingHistoryEntry{}, false
	}
	return l.TrackingHistory[len(l.TrackingHistory)-1], true
}

// HasShipment reports whether a shipment id has been attached to the line.
func (l OrderLine) HasShipment() bool {
	return l.ShipmentID != nil && *l.ShipmentID != ""
}
