package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/weave/storefront/internal/platform/httpx"
	"github.com/weave/storefront/internal/services"
)

const maxCheckoutRequestBody = 64 * 1024

// CheckoutHandlers exposes the checkout summary and order placement endpoints.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	display     moneyDisplay
	placeOrderM []func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithDisplayCurrency sets the ISO 4217 code used for display strings.
func WithDisplayCurrency(code string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.display = newMoneyDisplay(code)
	}
}

// WithPlaceOrderMiddlewares wraps only the order placement route, typically with idempotency.
func WithPlaceOrderMiddlewares(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.placeOrderM = append(h.placeOrderM, mw...)
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		checkout: checkout,
		display:  newMoneyDisplay(defaultDisplayCurrency),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/summary", h.summary)

	var place http.Handler = http.HandlerFunc(h.placeOrder)
	for i := len(h.placeOrderM) - 1; i >= 0; i-- {
		if mw := h.placeOrderM[i]; mw != nil {
			place = mw(place)
		}
	}
	r.Method(http.MethodPost, "/orders", place)
}

type cartLineRequest struct {
	ProductID        string          `json:"productId"`
	VendorID         string          `json:"vendorId"`
	Quantity         int             `json:"quantity"`
	UnitSellingPrice decimal.Decimal `json:"unitSellingPrice"`
	UnitMRP          decimal.Decimal `json:"unitMrp"`
	VariantSize      *string         `json:"variantSize"`
}

type checkoutSummaryRequest struct {
	Lines      []cartLineRequest `json:"lines"`
	CouponCode *string           `json:"couponCode"`
}

type checkoutSummaryResponse struct {
	Lines      []pricedLinePayload  `json:"lines"`
	Totals     totalsPayload        `json:"totals"`
	Display    totalsDisplayPayload `json:"display"`
	CouponCode *string              `json:"couponCode,omitempty"`
}

type shippingRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type placeOrderRequest struct {
	Lines      []cartLineRequest `json:"lines"`
	CouponCode *string           `json:"couponCode"`
	Shipping   shippingRequest   `json:"shipping"`
	PaymentID  string            `json:"paymentId"`
}

type placeOrderResponse struct {
	Order orderPayload `json:"order"`
}

func (h *CheckoutHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req checkoutSummaryRequest
	if !decodeJSONBody(ctx, w, r, maxCheckoutRequestBody, &req) {
		return
	}

	result, err := h.checkout.ComputeCheckoutSummary(ctx, services.CheckoutSummaryCommand{
		UserID:     userID,
		Lines:      toCartLines(req.Lines),
		CouponCode: trimmedOrNil(req.CouponCode),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	p := h.display.printer(r)
	writeJSONResponse(w, http.StatusOK, checkoutSummaryResponse{
		Lines:  buildPricedLinePayloads(result.Lines),
		Totals: buildTotalsPayload(result.Summary),
		Display: totalsDisplayPayload{
			Currency:      h.display.unit.String(),
			TotalPrice:    h.display.format(p, result.Summary.TotalPrice),
			TotalMRP:      h.display.format(p, result.Summary.TotalMRP),
			TotalDiscount: h.display.format(p, result.Summary.TotalDiscount),
		},
		CouponCode: result.CouponCode,
	})
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(ctx, w, r, maxCheckoutRequestBody, &req) {
		return
	}

	s := req.Shipping
	order, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:     userID,
		Lines:      toCartLines(req.Lines),
		CouponCode: trimmedOrNil(req.CouponCode),
		Shipping: services.ShippingDetails{
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
		PaymentID: strings.TrimSpace(req.PaymentID),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	w.Header().Set("Location", defaultAPIPrefix+"/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, placeOrderResponse{Order: buildOrderPayload(order)})
}

// toCartLines keeps an explicit empty list non-nil; only an absent list falls back to the stored cart.
func toCartLines(lines []cartLineRequest) []services.CartLine {
	if lines == nil {
		return nil
	}
	out := make([]services.CartLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, services.CartLine{
			ProductID:        strings.TrimSpace(line.ProductID),
			VendorID:         strings.TrimSpace(line.VendorID),
			Quantity:         line.Quantity,
			UnitSellingPrice: line.UnitSellingPrice,
			UnitMRP:          line.UnitMRP,
			VariantSize:      trimmedOrNil(line.VariantSize),
		})
	}
	return out
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no lines", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentMissing):
		httpx.WriteError(ctx, w, httpx.NewError("payment_required", "paymentId is required", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "order already exists; retry with a new request", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
