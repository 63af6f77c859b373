package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/weave/storefront/internal/domain"
)

var (
	// ErrPricingInvalidInput signals cart data that cannot be priced, such as negative prices.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

// PriceLines converts cart lines into price-locked lines. Each line is priced on its own: the coupon
// applies when the line's selling total reaches the policy minimum, then the extra discount applies
// regardless of the minimum. extraPct is overridden by the policy's vendor-specific percentage when
// one exists for the line's vendor.
func PriceLines(lines []CartLine, policy DiscountPolicy, extraPct decimal.Decimal) ([]PricedLine, error) {
	if err := validatePricingInput(lines, policy, extraPct); err != nil {
		return nil, err
	}

	priced := make([]PricedLine, 0, len(lines))
	for _, line := range lines {
		priced = append(priced, priceLine(line, policy, extraPctFor(line.VendorID, policy, extraPct)))
	}
	return priced, nil
}

// Summarize totals the priced lines. It performs no pricing of its own so the displayed totals
// always equal the sum of what is persisted.
func Summarize(priced []PricedLine) CheckoutSummary {
	summary := CheckoutSummary{
		TotalPrice: decimal.Zero,
		TotalMRP:   decimal.Zero,
		LineCount:  len(priced),
	}
	for _, line := range priced {
		summary.TotalPrice = summary.TotalPrice.Add(line.LinePrice)
		summary.TotalMRP = summary.TotalMRP.Add(line.LineMRP)
	}
	summary.TotalDiscount = summary.TotalMRP.Sub(summary.TotalPrice)
	return summary
}

func priceLine(line CartLine, policy DiscountPolicy, extraPct decimal.Decimal) PricedLine {
	qty := decimal.NewFromInt(int64(line.Quantity))
	sellingTotal := qty.Mul(line.UnitSellingPrice)

	afterCoupon := sellingTotal
	couponApplied := false
	if policy.PercentOff.IsPositive() && sellingTotal.GreaterThanOrEqual(policy.MinimumCartValue) {
		afterCoupon = domain.TruncateMoney(domain.ApplyPercentOff(sellingTotal, policy.PercentOff))
		couponApplied = true
	}

	final := domain.TruncateMoney(domain.ApplyPercentOff(afterCoupon, extraPct))

	return PricedLine{
		ProductID:     line.ProductID,
		VendorID:      line.VendorID,
		Quantity:      line.Quantity,
		UnitMRP:       line.UnitMRP,
		LineMRP:       qty.Mul(line.UnitMRP),
		LinePrice:     final,
		VariantSize:   cloneStringPtr(line.VariantSize),
		CouponApplied: couponApplied,
		ExtraPct:      extraPct,
	}
}

func extraPctFor(vendorID string, policy DiscountPolicy, fallback decimal.Decimal) decimal.Decimal {
	if len(policy.VendorExtraDiscountPct) == 0 {
		return fallback
	}
	if pct, ok := policy.VendorExtraDiscountPct[strings.TrimSpace(vendorID)]; ok {
		return pct
	}
	return fallback
}

func validatePricingInput(lines []CartLine, policy DiscountPolicy, extraPct decimal.Decimal) error {
	if !domain.ValidPercent(policy.PercentOff) {
		return fmt.Errorf("%w: coupon percent must be between 0 and 100, got %s", ErrPricingInvalidInput, policy.PercentOff)
	}
	if policy.MinimumCartValue.IsNegative() {
		return fmt.Errorf("%w: coupon minimum cart value must not be negative", ErrPricingInvalidInput)
	}
	if !domain.ValidPercent(extraPct) {
		return fmt.Errorf("%w: extra discount percent must be between 0 and 100, got %s", ErrPricingInvalidInput, extraPct)
	}
	for vendor, pct := range policy.VendorExtraDiscountPct {
		if !domain.ValidPercent(pct) {
			return fmt.Errorf("%w: extra discount percent for vendor %s must be between 0 and 100", ErrPricingInvalidInput, vendor)
		}
	}

	for i, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: line %d product id is required", ErrPricingInvalidInput, i)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: line %d quantity must be at least 1", ErrPricingInvalidInput, i)
		}
		if line.UnitSellingPrice.IsNegative() || line.UnitMRP.IsNegative() {
			return fmt.Errorf("%w: line %d prices must not be negative", ErrPricingInvalidInput, i)
		}
		if line.UnitSellingPrice.GreaterThan(line.UnitMRP) {
			return fmt.Errorf("%w: line %d selling price exceeds mrp", ErrPricingInvalidInput, i)
		}
	}
	return nil
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
