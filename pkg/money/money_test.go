package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLineAmountRoundsToCents(t *testing.T) {
	tests := []struct {
		qty, price, want string
	}{
		{"2", "50", "100.00"},
		{"1", "25", "25.00"},
		{"3", "0.333", "1.00"},
		{"1.5", "19.99", "29.99"},
		{"0.5", "0.05", "0.03"},
	}
	for _, tt := range tests {
		got := LineAmount(d(tt.qty), d(tt.price))
		assert.True(t, got.Equal(d(tt.want)), "qty=%s price=%s got=%s", tt.qty, tt.price, got)
	}
}

func TestTax(t *testing.T) {
	assert.True(t, Tax(d("125"), d("8")).Equal(d("10.00")))
	assert.True(t, Tax(d("145"), d("8")).Equal(d("11.60")))
	assert.True(t, Tax(d("10.01"), d("7.25")).Equal(d("0.73")))
	assert.True(t, Tax(d("125"), decimal.Zero).IsZero())
}

func TestParse(t *testing.T) {
	v, err := Parse("$1,250.50")
	require.NoError(t, err)
	assert.Equal(t, "1250.5", v.String())

	_, err = Parse("abc")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Parse("  ")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestFormatAndMinorUnits(t *testing.T) {
	assert.Equal(t, "$85.00", Format(d("85")))
	assert.Equal(t, "-$4.50", Format(d("-4.5")))
	assert.Equal(t, int64(13500), MinorUnits(d("135")))
	assert.Equal(t, int64(1160), MinorUnits(d("11.6")))
	assert.True(t, FromMinorUnits(8500).Equal(d("85")))
	assert.Equal(t, "0.07", FromMinorUnits(7).StringFixed(Scale))
}

func TestFitsScale(t *testing.T) {
	assert.True(t, FitsScale(d("85")))
	assert.True(t, FitsScale(d("85.000")))
	assert.True(t, FitsScale(d("0.33")))
	assert.False(t, FitsScale(d("85.004")))
	assert.False(t, FitsScale(d("0.333")))
}
