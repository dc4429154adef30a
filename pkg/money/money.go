// Package money holds the fixed-point helpers used for every monetary field.
// Amounts are shopspring decimals rounded half-away-from-zero to two places at
// well defined points: after each line amount, after tax, and after totals.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for stored amounts.
const Scale = 2

var (
	ErrInvalidAmount = errors.New("invalid_amount")

	hundred = decimal.NewFromInt(100)
)

// Zero returns a zero amount.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// Round rounds to cent precision.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(Scale)
}

// Parse reads a user supplied amount such as "135", "135.00" or "$1,250.5".
func Parse(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	v, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
	}
	return v, nil
}

// LineAmount returns round(quantity * unitPrice, 2).
func LineAmount(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return Round(quantity.Mul(unitPrice))
}

// Tax returns round(subtotal * rate / 100, 2). rate is a percentage.
func Tax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return Round(subtotal.Mul(rate).Div(hundred))
}

// Sum adds amounts without intermediate rounding; inputs are already cents.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// MinorUnits converts an amount to integer cents for provider APIs.
func MinorUnits(v decimal.Decimal) int64 {
	return Round(v).Mul(hundred).IntPart()
}

// FromMinorUnits converts integer cents reported by a provider to an amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// Format renders an amount as "$1234.50".
func Format(v decimal.Decimal) string {
	if v.IsNegative() {
		return "-$" + Round(v.Abs()).StringFixed(Scale)
	}
	return "$" + Round(v).StringFixed(Scale)
}

// FitsScale reports whether v has no digits beyond cent precision.
func FitsScale(v decimal.Decimal) bool {
	return v.Equal(Round(v))
}

// IsPositive reports whether v > 0 at cent precision.
func IsPositive(v decimal.Decimal) bool {
	return Round(v).GreaterThan(decimal.Zero)
}
