package firestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/weave/storefront/internal/domain"
)

// Money is stored as fixed two-decimal strings so no float rounding ever touches a price.

type shippingDocument struct {
	Name       string `firestore:"name"`
	Phone      string `firestore:"phone,omitempty"`
	Email      string `firestore:"email,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
}

type orderDocument struct {
	UserID        string           `firestore:"userId"`
	PaymentID     string           `firestore:"paymentId"`
	Shipping      shippingDocument `firestore:"shipping"`
	CouponCode    *string          `firestore:"couponCode,omitempty"`
	TotalPrice    string           `firestore:"totalPrice"`
	TotalMRP      string           `firestore:"totalMrp"`
	TotalDiscount string           `firestore:"totalDiscount"`
	LineIDs       []string         `firestore:"lineIds"`
	CreatedAt     time.Time        `firestore:"createdAt"`
}

type trackingEventDocument struct {
	Status        string `firestore:"status,omitempty"`
	Location      string `firestore:"location,omitempty"`
	Date          string `firestore:"date,omitempty"`
	DeliveredDate string `firestore:"deliveredDate,omitempty"`
}

type trackingHistoryDocument struct {
	Fingerprint  string                  `firestore:"fingerprint"`
	Status       string                  `firestore:"status"`
	TrackingCode int                     `firestore:"trackingCode"`
	TrackURL     string                  `firestore:"trackUrl,omitempty"`
	ETD          string                  `firestore:"etd,omitempty"`
	Events       []trackingEventDocument `firestore:"events,omitempty"`
	RecordedAt   time.Time               `firestore:"recordedAt"`
}

type overrideDocument struct {
	Actor  string    `firestore:"actor"`
	Reason string    `firestore:"reason,omitempty"`
	From   string    `firestore:"from"`
	To     string    `firestore:"to"`
	At     time.Time `firestore:"at"`
}

type orderLineDocument struct {
	SecretOrderID   string                    `firestore:"secretOrderId"`
	OrderID         string                    `firestore:"orderId"`
	UserID          string                    `firestore:"userId"`
	ProductID       string                    `firestore:"productId"`
	VendorID        string                    `firestore:"vendorId"`
	Quantity        int                       `firestore:"quantity"`
	UnitMRP         string                    `firestore:"unitMrp"`
	LineMRP         string                    `firestore:"lineMrp"`
	LinePrice       string                    `firestore:"linePrice"`
	VariantSize     *string                   `firestore:"variantSize,omitempty"`
	Status          string                    `firestore:"status"`
	CreatedAt       time.Time                 `firestore:"createdAt"`
	UpdatedAt       time.Time                 `firestore:"updatedAt"`
	ShipmentID      *string                   `firestore:"shipmentId,omitempty"`
	TrackingHistory []trackingHistoryDocument `firestore:"trackingHistory"`
	ETD             *string                   `firestore:"etd,omitempty"`
	TrackURL        *string                   `firestore:"trackUrl,omitempty"`
	UpdatedDate     *string                   `firestore:"updatedDate,omitempty"`
	LastOverride    *overrideDocument         `firestore:"lastOverride,omitempty"`
	Version         int64                     `firestore:"version"`
	// LastReconciledAt orders the batch reconciler's queue. Zero sorts first, so new lines are polled
	// before ones already seen.
	LastReconciledAt time.Time `firestore:"lastReconciledAt"`
	// Active is true while the line has a shipment and is not terminal; the batch reconciler
	// selects on it.
	Active bool `firestore:"active"`
}

type couponDocument struct {
	Code                   string            `firestore:"code"`
	MinimumCartValue       string            `firestore:"minimumCartValue"`
	PercentOff             string            `firestore:"percentOff"`
	VendorExtraDiscountPct map[string]string `firestore:"vendorExtraDiscountPct,omitempty"`
	Disabled               bool              `firestore:"disabled"`
}

type cartLineDocument struct {
	ProductID        string  `firestore:"productId"`
	VendorID         string  `firestore:"vendorId"`
	Quantity         int     `firestore:"quantity"`
	UnitSellingPrice string  `firestore:"unitSellingPrice"`
	UnitMRP          string  `firestore:"unitMrp"`
	VariantSize      *string `firestore:"variantSize,omitempty"`
}

type cartDocument struct {
	Lines     []cartLineDocument `firestore:"lines"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

func encodeOrder(order domain.Order) orderDocument {
	ids := make([]string, 0, len(order.Lines))
	for _, line := range order.Lines {
		ids = append(ids, line.SecretOrderID)
	}
	return orderDocument{
		UserID:        order.UserID,
		PaymentID:     order.PaymentID,
		Shipping:      shippingDocument(order.Shipping),
		CouponCode:    order.CouponCode,
		TotalPrice:    domain.FormatMoney(order.Totals.TotalPrice),
		TotalMRP:      domain.FormatMoney(order.Totals.TotalMRP),
		TotalDiscount: domain.FormatMoney(order.Totals.TotalDiscount),
		LineIDs:       ids,
		CreatedAt:     order.CreatedAt.UTC(),
	}
}

func decodeOrder(id string, doc orderDocument, lines []domain.OrderLine) (domain.Order, error) {
	totalPrice, err := domain.ParseMoney(doc.TotalPrice)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: totalPrice: %w", id, err)
	}
	totalMRP, err := domain.ParseMoney(doc.TotalMRP)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: totalMrp: %w", id, err)
	}
	totalDiscount, err := domain.ParseMoney(doc.TotalDiscount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: totalDiscount: %w", id, err)
	}
	return domain.Order{
		ID:         id,
		UserID:     doc.UserID,
		PaymentID:  doc.PaymentID,
		Shipping:   domain.ShippingDetails(doc.Shipping),
		CouponCode: doc.CouponCode,
		Totals: domain.CheckoutSummary{
			TotalPrice:    totalPrice,
			TotalMRP:      totalMRP,
			TotalDiscount: totalDiscount,
			LineCount:     len(lines),
		},
		Lines:     lines,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func encodeOrderLine(line domain.OrderLine) orderLineDocument {
	doc := orderLineDocument{
		SecretOrderID:    line.SecretOrderID,
		OrderID:          line.OrderID,
		UserID:           line.UserID,
		ProductID:        line.ProductID,
		VendorID:         line.VendorID,
		Quantity:         line.Quantity,
		UnitMRP:          domain.FormatMoney(line.UnitMRP),
		LineMRP:          domain.FormatMoney(line.LineMRP),
		LinePrice:        domain.FormatMoney(line.LinePrice),
		VariantSize:      line.VariantSize,
		Status:           string(line.Status),
		CreatedAt:        line.CreatedAt.UTC(),
		UpdatedAt:        line.UpdatedAt.UTC(),
		ShipmentID:       line.ShipmentID,
		ETD:              line.ETD,
		TrackURL:         line.TrackURL,
		UpdatedDate:      line.UpdatedDate,
		Version:          line.Version,
		LastReconciledAt: line.LastReconciledAt.UTC(),
		Active:           line.HasShipment() && !line.Status.IsTerminalProtected(),
	}
	doc.TrackingHistory = make([]trackingHistoryDocument, 0, len(line.TrackingHistory))
	for _, entry := range line.TrackingHistory {
		events := make([]trackingEventDocument, 0, len(entry.Snapshot.History))
		for _, event := range entry.Snapshot.History {
			events = append(events, trackingEventDocument(event))
		}
		doc.TrackingHistory = append(doc.TrackingHistory, trackingHistoryDocument{
			Fingerprint:  entry.Fingerprint,
			Status:       string(entry.Status),
			TrackingCode: entry.Snapshot.TrackingCode,
			TrackURL:     entry.Snapshot.TrackURL,
			ETD:          entry.Snapshot.ETD,
			Events:       events,
			RecordedAt:   entry.RecordedAt.UTC(),
		})
	}
	if o := line.LastOverride; o != nil {
		doc.LastOverride = &overrideDocument{
			Actor:  o.Actor,
			Reason: o.Reason,
			From:   string(o.From),
			To:     string(o.To),
			At:     o.At.UTC(),
		}
	}
	return doc
}

func decodeOrderLine(doc orderLineDocument) (domain.OrderLine, error) {
	amounts := make([]decimal.Decimal, 3)
	for i, raw := range []string{doc.UnitMRP, doc.LineMRP, doc.LinePrice} {
		value, err := domain.ParseMoney(raw)
		if err != nil {
			return domain.OrderLine{}, fmt.Errorf("order line %s: %w", doc.SecretOrderID, err)
		}
		amounts[i] = value
	}

	line := domain.OrderLine{
		SecretOrderID:    doc.SecretOrderID,
		OrderID:          doc.OrderID,
		UserID:           doc.UserID,
		ProductID:        doc.ProductID,
		VendorID:         doc.VendorID,
		Quantity:         doc.Quantity,
		UnitMRP:          amounts[0],
		LineMRP:          amounts[1],
		LinePrice:        amounts[2],
		VariantSize:      doc.VariantSize,
		Status:           domain.OrderLineStatus(doc.Status),
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		ShipmentID:       doc.ShipmentID,
		ETD:              doc.ETD,
		TrackURL:         doc.TrackURL,
		UpdatedDate:      doc.UpdatedDate,
		Version:          doc.Version,
		LastReconciledAt: doc.LastReconciledAt,
	}
	for _, entry := range doc.TrackingHistory {
		events := make([]domain.TrackingEvent, 0, len(entry.Events))
		for _, event := range entry.Events {
			events = append(events, domain.TrackingEvent(event))
		}
		line.TrackingHistory = append(line.TrackingHistory, domain.TrackingHistoryEntry{
			Fingerprint: entry.Fingerprint,
			Status:      domain.OrderLineStatus(entry.Status),
			Snapshot: domain.TrackingSnapshot{
				ShipmentID:   derefString(doc.ShipmentID),
				TrackingCode: entry.TrackingCode,
				TrackURL:     entry.TrackURL,
				ETD:          entry.ETD,
				History:      events,
			},
			RecordedAt: entry.RecordedAt,
		})
	}
	if o := doc.LastOverride; o != nil {
		line.LastOverride = &domain.StatusOverride{
			Actor:  o.Actor,
			Reason: o.Reason,
			From:   domain.OrderLineStatus(o.From),
			To:     domain.OrderLineStatus(o.To),
			At:     o.At,
		}
	}
	return line, nil
}

func decodeCoupon(doc couponDocument) (domain.DiscountPolicy, error) {
	minimum, err := decimalOrZero(doc.MinimumCartValue)
	if err != nil {
		return domain.DiscountPolicy{}, fmt.Errorf("coupon %s: minimumCartValue: %w", doc.Code, err)
	}
	percent, err := decimalOrZero(doc.PercentOff)
	if err != nil {
		return domain.DiscountPolicy{}, fmt.Errorf("coupon %s: percentOff: %w", doc.Code, err)
	}
	policy := domain.DiscountPolicy{
		Code:             strings.ToUpper(strings.TrimSpace(doc.Code)),
		MinimumCartValue: minimum,
		PercentOff:       percent,
	}
	if len(doc.VendorExtraDiscountPct) > 0 {
		policy.VendorExtraDiscountPct = make(map[string]decimal.Decimal, len(doc.VendorExtraDiscountPct))
		for vendor, raw := range doc.VendorExtraDiscountPct {
			pct, err := decimal.NewFromString(strings.TrimSpace(raw))
			if err != nil {
				return domain.DiscountPolicy{}, fmt.Errorf("coupon %s: vendor %s: %w", doc.Code, vendor, err)
			}
			policy.VendorExtraDiscountPct[vendor] = pct
		}
	}
	return policy, nil
}

func decodeCartLines(userID string, doc cartDocument) ([]domain.CartLine, error) {
	lines := make([]domain.CartLine, 0, len(doc.Lines))
	for i, item := range doc.Lines {
		selling, err := domain.ParseMoney(item.UnitSellingPrice)
		if err != nil {
			return nil, fmt.Errorf("cart %s line %d: unitSellingPrice: %w", userID, i, err)
		}
		mrp, err := domain.ParseMoney(item.UnitMRP)
		if err != nil {
			return nil, fmt.Errorf("cart %s line %d: unitMrp: %w", userID, i, err)
		}
		lines = append(lines, domain.CartLine{
			ProductID:        item.ProductID,
			VendorID:         item.VendorID,
			Quantity:         item.Quantity,
			UnitSellingPrice: selling,
			UnitMRP:          mrp,
			VariantSize:      item.VariantSize,
		})
	}
	return lines, nil
}

func decimalOrZero(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(raw))
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
