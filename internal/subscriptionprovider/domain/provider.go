package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Provider is the narrow port to the external subscription and payment
// system. Implementations must be safe for concurrent use.
type Provider interface {
	Name() string
	RetrieveSubscription(ctx context.Context, subscriptionRef string) (*Subscription, error)
	// UpdateSubscriptionItems submits all item changes as one update.
	UpdateSubscriptionItems(ctx context.Context, subscriptionRef string, changes []ItemChange, opts UpdateOptions) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionRef string) error
	CancelAtPeriodEnd(ctx context.Context, subscriptionRef string) error
	// ResumeSubscription withdraws a pending cancel at period end.
	ResumeSubscription(ctx context.Context, subscriptionRef string) error
	CreateCoupon(ctx context.Context, req CouponRequest) (*Coupon, error)
	// ApplyDiscount replaces whatever discount the subscription holds.
	ApplyDiscount(ctx context.Context, subscriptionRef string, couponRef string) error
	ClearDiscount(ctx context.Context, subscriptionRef string) error
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
}

type Subscription struct {
	Ref               string
	CustomerRef       string
	Status            string
	Items             []Item
	CouponRef         string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
}

type Item struct {
	ID       string
	PriceRef string
	Quantity int64
}

// FindByPrice returns the first item whose price matches.
func (s *Subscription) FindByPrice(match func(priceRef string) bool) (Item, bool) {
	if s == nil {
		return Item{}, false
	}
	for _, item := range s.Items {
		if match(item.PriceRef) {
			return item, true
		}
	}
	return Item{}, false
}

// ItemChange is one mutation of a subscription item. An empty ID inserts a
// new item; Delete removes the item with ID.
type ItemChange struct {
	ID       string
	PriceRef string
	Quantity int64
	Delete   bool
}

type UpdateOptions struct {
	Prorate bool
	// Resume clears a pending cancel at period end in the same update.
	Resume bool
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type DiscountDuration string

const (
	DurationOnce      DiscountDuration = "once"
	DurationRepeating DiscountDuration = "repeating"
	DurationForever   DiscountDuration = "forever"
)

type CouponRequest struct {
	Type             DiscountType
	Value            decimal.Decimal
	Currency         string
	Duration         DiscountDuration
	DurationInMonths int
	Name             string
	Metadata         map[string]string
}

type Coupon struct {
	Ref              string
	Type             DiscountType
	Value            decimal.Decimal
	Duration         DiscountDuration
	DurationInMonths int
}

type PaymentIntentRequest struct {
	AmountMinor    int64
	Currency       string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

type PaymentIntent struct {
	Ref          string
	ClientSecret string
	AmountMinor  int64
	Currency     string
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrItemNotFound         = errors.New("subscription_item_not_found")
	ErrInvalidRequest       = errors.New("invalid_provider_request")
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrInvalidConfig        = errors.New("invalid_provider_config")
)
