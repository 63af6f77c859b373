package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/weave/storefront/internal/domain"
)

const defaultVendorKey = "platform"

var (
	// ErrEmptyCart is returned when an order would have no lines.
	ErrEmptyCart = fmt.Errorf("%w: cart has no lines", ErrCheckoutInvalidInput)
	// ErrPaymentMissing is returned when checkout is attempted without a payment reference.
	ErrPaymentMissing = fmt.Errorf("%w: payment id is required", ErrCheckoutInvalidInput)

	errAssembleOrderID = errors.New("order assembler: order id is required")
)

// AssembleOrderInput carries the priced lines and checkout details for one order.
type AssembleOrderInput struct {
	OrderID    string
	UserID     string
	PaymentID  string
	Shipping   ShippingDetails
	CouponCode *string
	Lines      []PricedLine
	Now        time.Time
}

// AssembleOrder builds the immutable order aggregate. Every line starts Pending and receives a
// secret order id of the form {orderId}-{vendorId}-{n}, where n counts that vendor's lines from 1.
func AssembleOrder(in AssembleOrderInput) (Order, error) {
	if len(in.Lines) == 0 {
		return Order{}, ErrEmptyCart
	}
	if strings.TrimSpace(in.PaymentID) == "" {
		return Order{}, ErrPaymentMissing
	}
	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		return Order{}, errAssembleOrderID
	}

	now := in.Now.UTC()
	if in.Now.IsZero() {
		now = time.Now().UTC()
	}

	perVendor := make(map[string]int, len(in.Lines))
	lines := make([]OrderLine, 0, len(in.Lines))
	for _, priced := range in.Lines {
		vendor := vendorKey(priced.VendorID)
		perVendor[vendor]++
		lines = append(lines, OrderLine{
			SecretOrderID: secretOrderID(orderID, vendor, perVendor[vendor]),
			OrderID:       orderID,
			UserID:        strings.TrimSpace(in.UserID),
			ProductID:     priced.ProductID,
			VendorID:      strings.TrimSpace(priced.VendorID),
			Quantity:      priced.Quantity,
			UnitMRP:       priced.UnitMRP,
			LineMRP:       priced.LineMRP,
			LinePrice:     priced.LinePrice,
			VariantSize:   cloneStringPtr(priced.VariantSize),
			Status:        domain.OrderLineStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
			Version:       1,
		})
	}

	return Order{
		ID:         orderID,
		UserID:     strings.TrimSpace(in.UserID),
		PaymentID:  strings.TrimSpace(in.PaymentID),
		Shipping:   in.Shipping,
		CouponCode: cloneStringPtr(in.CouponCode),
		Totals:     Summarize(in.Lines),
		Lines:      lines,
		CreatedAt:  now,
	}, nil
}

func secretOrderID(orderID, vendor string, seq int) string {
	return fmt.Sprintf("%s-%s-%d", orderID, vendor, seq)
}

func vendorKey(vendorID string) string {
	trimmed := strings.TrimSpace(vendorID)
	if trimmed == "" {
		return defaultVendorKey
	}
	// secret ids double as document ids, which cannot contain slashes
	return strings.ReplaceAll(trimmed, "/", "_")
}
