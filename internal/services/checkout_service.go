package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/weave/storefront/internal/domain"
	"github.com/weave/storefront/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderEventCreated = "order.created"

	checkoutResultPlaced   = "placed"
	checkoutResultRejected = "rejected"
	checkoutResultFailed   = "failed"
)

var (
	// ErrCheckoutInvalidInput signals a request that can never succeed as submitted.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCouponNotFound is returned when the supplied coupon code does not exist.
	ErrCouponNotFound = fmt.Errorf("%w: coupon not found", ErrCheckoutInvalidInput)
	// ErrCheckoutConflict indicates the order id collided with an existing order.
	ErrCheckoutConflict = errors.New("checkout: conflict")
	// ErrCheckoutUnavailable indicates a dependency could not be reached.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

var checkoutTracer = otel.Tracer("github.com/weave/storefront/internal/services/checkout")

// CheckoutServiceDeps bundles collaborators required to construct the checkout service.
type CheckoutServiceDeps struct {
	Orders           repositories.OrderRepository
	Coupons          repositories.CouponRepository
	Carts            repositories.CartRepository
	ExtraDiscountPct decimal.Decimal
	Sanitizer        TextSanitizer
	Events           OrderEventPublisher
	Metrics          CheckoutRecorder
	Clock            func() time.Time
	IDGenerator      func() string
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders    repositories.OrderRepository
	coupons   repositories.CouponRepository
	carts     repositories.CartRepository
	extraPct  decimal.Decimal
	sanitizer TextSanitizer
	events    OrderEventPublisher
	metrics   CheckoutRecorder
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if !domain.ValidPercent(deps.ExtraDiscountPct) {
		return nil, fmt.Errorf("checkout service: extra discount percent %s out of range", deps.ExtraDiscountPct)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		orders:    deps.Orders,
		coupons:   deps.Coupons,
		carts:     deps.Carts,
		extraPct:  deps.ExtraDiscountPct,
		sanitizer: deps.Sanitizer,
		events:    deps.Events,
		metrics:   deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *checkoutService) ComputeCheckoutSummary(ctx context.Context, cmd CheckoutSummaryCommand) (CheckoutSummaryResult, error) {
	lines, _, err := s.resolveLines(ctx, cmd.UserID, cmd.Lines)
	if err != nil {
		return CheckoutSummaryResult{}, err
	}

	policy, code, err := s.resolvePolicy(ctx, cmd.CouponCode)
	if err != nil {
		return CheckoutSummaryResult{}, err
	}

	priced, err := PriceLines(lines, policy, s.extraPct)
	if err != nil {
		return CheckoutSummaryResult{}, fmt.Errorf("%w: %w", ErrCheckoutInvalidInput, err)
	}

	return CheckoutSummaryResult{
		Summary:    Summarize(priced),
		Lines:      priced,
		CouponCode: code,
	}, nil
}

func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	ctx, span := checkoutTracer.Start(ctx, "checkout.place_order")
	defer span.End()

	order, err := s.placeOrder(ctx, span, cmd)
	switch {
	case err == nil:
		s.record(checkoutResultPlaced)
	case errors.Is(err, ErrCheckoutInvalidInput):
		s.record(checkoutResultRejected)
	default:
		s.record(checkoutResultFailed)
		span.RecordError(err)
	}
	return order, err
}

func (s *checkoutService) placeOrder(ctx context.Context, span trace.Span, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}

	lines, fromCart, err := s.resolveLines(ctx, userID, cmd.Lines)
	if err != nil {
		return Order{}, err
	}
	if len(lines) == 0 {
		return Order{}, ErrEmptyCart
	}
	if strings.TrimSpace(cmd.PaymentID) == "" {
		return Order{}, ErrPaymentMissing
	}

	policy, code, err := s.resolvePolicy(ctx, cmd.CouponCode)
	if err != nil {
		return Order{}, err
	}

	priced, err := PriceLines(lines, policy, s.extraPct)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %w", ErrCheckoutInvalidInput, err)
	}

	order, err := AssembleOrder(AssembleOrderInput{
		OrderID:    orderIDPrefix + s.newID(),
		UserID:     userID,
		PaymentID:  cmd.PaymentID,
		Shipping:   s.sanitizeShipping(cmd.Shipping),
		CouponCode: code,
		Lines:      priced,
		Now:        s.clock(),
	})
	if err != nil {
		return Order{}, err
	}
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int("order.lines", len(order.Lines)),
	)

	if err := s.orders.Create(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "checkout.order.placed", map[string]any{
		"orderId":    order.ID,
		"userId":     userID,
		"lines":      len(order.Lines),
		"totalPrice": domain.FormatMoney(order.Totals.TotalPrice),
	})

	if fromCart && s.carts != nil {
		if err := s.carts.Clear(ctx, userID); err != nil {
			// the order stands; a stale cart is recoverable by the user
			s.logger(ctx, "checkout.cart.clear.failed", map[string]any{
				"orderId": order.ID,
				"userId":  userID,
				"error":   err.Error(),
			})
		}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		UserID:        userID,
		CurrentStatus: string(domain.OrderLineStatusPending),
		ActorID:       userID,
		OccurredAt:    order.CreatedAt,
		Metadata: map[string]any{
			"lines":      len(order.Lines),
			"totalPrice": domain.FormatMoney(order.Totals.TotalPrice),
			"totalMrp":   domain.FormatMoney(order.Totals.TotalMRP),
		},
	})

	return order, nil
}

// resolveLines returns the request lines, or the user's persisted cart when none were supplied.
func (s *checkoutService) resolveLines(ctx context.Context, userID string, lines []CartLine) ([]CartLine, bool, error) {
	if lines != nil {
		return lines, false, nil
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || s.carts == nil {
		return nil, false, nil
	}
	stored, err := s.carts.Lines(ctx, userID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil, true, nil
		}
		return nil, false, s.mapRepositoryError(err)
	}
	return stored, true, nil
}

func (s *checkoutService) resolvePolicy(ctx context.Context, couponCode *string) (DiscountPolicy, *string, error) {
	if couponCode == nil {
		return DiscountPolicy{}, nil, nil
	}
	code := strings.ToUpper(strings.TrimSpace(*couponCode))
	if code == "" {
		return DiscountPolicy{}, nil, nil
	}
	if s.coupons == nil {
		return DiscountPolicy{}, nil, fmt.Errorf("%w: coupons are not configured", ErrCheckoutUnavailable)
	}
	policy, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return DiscountPolicy{}, nil, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}
		return DiscountPolicy{}, nil, s.mapRepositoryError(err)
	}
	if policy.Code == "" {
		policy.Code = code
	}
	return policy, &code, nil
}

func (s *checkoutService) sanitizeShipping(details ShippingDetails) ShippingDetails {
	clean := func(v string) string {
		if s.sanitizer != nil {
			v = s.sanitizer.Sanitize(v)
		}
		return strings.TrimSpace(v)
	}
	return ShippingDetails{
		Name:       clean(details.Name),
		Phone:      clean(details.Phone),
		Email:      clean(details.Email),
		Line1:      clean(details.Line1),
		Line2:      clean(details.Line2),
		City:       clean(details.City),
		State:      clean(details.State),
		PostalCode: clean(details.PostalCode),
		Country:    strings.ToUpper(clean(details.Country)),
	}
}

func (s *checkoutService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
	}
	return err
}

func (s *checkoutService) record(result string) {
	if s.metrics != nil {
		s.metrics.RecordCheckout(result)
	}
}

func (s *checkoutService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
