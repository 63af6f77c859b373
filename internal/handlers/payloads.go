package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/weave/storefront/internal/domain"
)

const defaultDisplayCurrency = "INR"

var displayLocales = []language.Tag{
	language.MustParse("en-IN"),
	language.English,
	language.Hindi,
}

// moneyDisplay renders amounts for humans. Stored and computed values always use FormatMoney;
// display strings are advisory and never parsed back.
type moneyDisplay struct {
	unit    currency.Unit
	matcher language.Matcher
}

func newMoneyDisplay(code string) moneyDisplay {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		unit = currency.MustParseISO(defaultDisplayCurrency)
	}
	return moneyDisplay{unit: unit, matcher: language.NewMatcher(displayLocales)}
}

func (d moneyDisplay) printer(r *http.Request) *message.Printer {
	tag := displayLocales[0]
	if r != nil {
		if tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil && len(tags) > 0 {
			tag, _, _ = d.matcher.Match(tags...)
		}
	}
	return message.NewPrinter(tag)
}

func (d moneyDisplay) format(p *message.Printer, amount decimal.Decimal) string {
	return p.Sprint(currency.Symbol(d.unit.Amount(domain.TruncateMoney(amount).InexactFloat64())))
}

type totalsPayload struct {
	TotalPrice    string `json:"totalPrice"`
	TotalMRP      string `json:"totalMrp"`
	TotalDiscount string `json:"totalDiscount"`
	LineCount     int    `json:"lineCount"`
}

type totalsDisplayPayload struct {
	Currency      string `json:"currency"`
	TotalPrice    string `json:"totalPrice"`
	TotalMRP      string `json:"totalMrp"`
	TotalDiscount string `json:"totalDiscount"`
}

type pricedLinePayload struct {
	ProductID     string  `json:"productId"`
	VendorID      string  `json:"vendorId"`
	Quantity      int     `json:"quantity"`
	UnitMRP       string  `json:"unitMrp"`
	LineMRP       string  `json:"lineMrp"`
	LinePrice     string  `json:"linePrice"`
	VariantSize   *string `json:"variantSize,omitempty"`
	CouponApplied bool    `json:"couponApplied"`
	ExtraPct      string  `json:"extraDiscountPct"`
}

type shippingPayload struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type orderPayload struct {
	ID         string             `json:"id"`
	UserID     string             `json:"userId"`
	PaymentID  string             `json:"paymentId"`
	CouponCode *string            `json:"couponCode,omitempty"`
	Shipping   shippingPayload    `json:"shipping"`
	Totals     totalsPayload      `json:"totals"`
	Lines      []orderLinePayload `json:"lines"`
	CreatedAt  string             `json:"createdAt"`
}

type orderLinePayload struct {
	SecretOrderID string                 `json:"secretOrderId"`
	OrderID       string                 `json:"orderId"`
	ProductID     string                 `json:"productId"`
	VendorID      string                 `json:"vendorId"`
	Quantity      int                    `json:"quantity"`
	UnitMRP       string                 `json:"unitMrp"`
	LineMRP       string                 `json:"lineMrp"`
	LinePrice     string                 `json:"linePrice"`
	VariantSize   *string                `json:"variantSize,omitempty"`
	Status        string                 `json:"status"`
	ShipmentID    *string                `json:"shipmentId,omitempty"`
	TrackURL      *string                `json:"trackUrl,omitempty"`
	ETD           *string                `json:"etd,omitempty"`
	UpdatedDate   *string                `json:"updatedDate,omitempty"`
	LastOverride  *statusOverridePayload `json:"lastOverride,omitempty"`
	CreatedAt     string                 `json:"createdAt"`
	UpdatedAt     string                 `json:"updatedAt"`
	Version       int64                  `json:"version"`
}

type statusOverridePayload struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
	From   string `json:"from"`
	To     string `json:"to"`
	At     string `json:"at"`
}

func buildTotalsPayload(summary domain.CheckoutSummary) totalsPayload {
	return totalsPayload{
		TotalPrice:    domain.FormatMoney(summary.TotalPrice),
		TotalMRP:      domain.FormatMoney(summary.TotalMRP),
		TotalDiscount: domain.FormatMoney(summary.TotalDiscount),
		LineCount:     summary.LineCount,
	}
}

func buildPricedLinePayloads(lines []domain.PricedLine) []pricedLinePayload {
	out := make([]pricedLinePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, pricedLinePayload{
			ProductID:     line.ProductID,
			VendorID:      line.VendorID,
			Quantity:      line.Quantity,
			UnitMRP:       domain.FormatMoney(line.UnitMRP),
			LineMRP:       domain.FormatMoney(line.LineMRP),
			LinePrice:     domain.FormatMoney(line.LinePrice),
			VariantSize:   line.VariantSize,
			CouponApplied: line.CouponApplied,
			ExtraPct:      line.ExtraPct.String(),
		})
	}
	return out
}

func buildOrderPayload(order domain.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, buildOrderLinePayload(line))
	}
	s := order.Shipping
	return orderPayload{
		ID:         order.ID,
		UserID:     order.UserID,
		PaymentID:  order.PaymentID,
		CouponCode: order.CouponCode,
		Shipping: shippingPayload{
			Name:       s.Name,
			Phone:      s.Phone,
			Email:      s.Email,
			Line1:      s.Line1,
			Line2:      s.Line2,
			City:       s.City,
			State:      s.State,
			PostalCode: s.PostalCode,
			Country:    s.Country,
		},
		Totals:    buildTotalsPayload(order.Totals),
		Lines:     lines,
		CreatedAt: formatTime(order.CreatedAt),
	}
}

func buildOrderLinePayload(line domain.OrderLine) orderLinePayload {
	payload := orderLinePayload{
		SecretOrderID: line.SecretOrderID,
		OrderID:       line.OrderID,
		ProductID:     line.ProductID,
		VendorID:      line.VendorID,
		Quantity:      line.Quantity,
		UnitMRP:       domain.FormatMoney(line.UnitMRP),
		LineMRP:       domain.FormatMoney(line.LineMRP),
		LinePrice:     domain.FormatMoney(line.LinePrice),
		VariantSize:   line.VariantSize,
		Status:        string(line.Status),
		ShipmentID:    line.ShipmentID,
		TrackURL:      line.TrackURL,
		ETD:           line.ETD,
		UpdatedDate:   line.UpdatedDate,
		CreatedAt:     formatTime(line.CreatedAt),
		UpdatedAt:     formatTime(line.UpdatedAt),
		Version:       line.Version,
	}
	if o := line.LastOverride; o != nil {
		payload.LastOverride = &statusOverridePayload{
			Actor:  o.Actor,
			Reason: o.Reason,
			From:   string(o.From),
			To:     string(o.To),
			At:     formatTime(o.At),
		}
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
