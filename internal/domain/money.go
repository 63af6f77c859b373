package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept on every monetary result.
const MoneyScale int32 = 2

var hundred = decimal.NewFromInt(100)

// TruncateMoney drops everything past two decimal places without rounding.
func TruncateMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(MoneyScale)
}

// ApplyPercentOff returns amount reduced by pct percent. The result keeps full precision.
func ApplyPercentOff(amount, pct decimal.Decimal) decimal.Decimal {
	if pct.IsZero() {
		return amount
	}
	return amount.Sub(amount.Mul(pct).Div(hundred))
}

// ValidPercent reports whether pct lies within the closed range 0..100.
func ValidPercent(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred)
}

// FormatMoney renders the amount with exactly two fractional digits for storage and transport.
func FormatMoney(amount decimal.Decimal) string {
	return TruncateMoney(amount).StringFixed(MoneyScale)
}

// ParseMoney parses a decimal string produced by FormatMoney or supplied by a client.
func ParseMoney(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse money %q: %w", raw, err)
	}
	return value, nil
}
