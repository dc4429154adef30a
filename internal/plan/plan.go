package plan

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

var Tiers = []Tier{TierFree, TierPro, TierEnterprise}

var ErrUnknownTier = errors.New("unknown_tier")

// ParseTier normalizes a tier name.
func ParseTier(raw string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return t, nil
	default:
		return "", ErrUnknownTier
	}
}

// IsPaid reports whether t is billed through an external subscription.
func (t Tier) IsPaid() bool {
	return t == TierPro || t == TierEnterprise
}

func (t Tier) String() string {
	return string(t)
}

// Config is the static pricing of one tier.
type Config struct {
	BasePrice     decimal.Decimal
	SeatPrice     decimal.Decimal
	IncludedSeats int
	AICredits     int

	// External price identifiers on the subscription provider.
	BasePriceRef string
	SeatPriceRef string
}

// ExtraSeats returns max(0, members - included seats).
func (c Config) ExtraSeats(members int) int {
	extra := members - c.IncludedSeats
	if extra < 0 {
		return 0
	}
	return extra
}

// DefaultConfigs is used when no plans file is found.
func DefaultConfigs() map[Tier]Config {
	return map[Tier]Config{
		TierFree: {
			BasePrice:     decimal.Zero,
			SeatPrice:     decimal.Zero,
			IncludedSeats: 3,
			AICredits:     50,
		},
		TierPro: {
			BasePrice:     decimal.RequireFromString("49.00"),
			SeatPrice:     decimal.RequireFromString("12.00"),
			IncludedSeats: 5,
			AICredits:     1000,
			BasePriceRef:  "price_pro_base",
			SeatPriceRef:  "price_pro_seat",
		},
		TierEnterprise: {
			BasePrice:     decimal.RequireFromString("199.00"),
			SeatPrice:     decimal.RequireFromString("9.00"),
			IncludedSeats: 25,
			AICredits:     10000,
			BasePriceRef:  "price_enterprise_base",
			SeatPriceRef:  "price_enterprise_seat",
		},
	}
}
