package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	"github.com/smallbiznis/seatledger/pkg/money"
	stripego "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

const (
	prorationCreate = "create_prorations"
	prorationNone   = "none"
)

type Config struct {
	SecretKey string
	Currency  string
	// Backends overrides the API backend, used to point the client at a test server.
	Backends *stripego.Backends
}

// Adapter talks to Stripe through a client.API instance rather than the
// package-level key.
type Adapter struct {
	client   *client.API
	currency string
}

func New(cfg Config) (*Adapter, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, domain.ErrInvalidConfig
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	sc := &client.API{}
	sc.Init(key, cfg.Backends)
	return &Adapter{client: sc, currency: currency}, nil
}

func (a *Adapter) Name() string {
	return "stripe"
}

func (a *Adapter) RetrieveSubscription(ctx context.Context, subscriptionRef string) (*domain.Subscription, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx
	sub, err := a.client.Subscriptions.Get(subscriptionRef, params)
	if err != nil {
		return nil, mapError(err)
	}
	return toSubscription(sub), nil
}

func (a *Adapter) UpdateSubscriptionItems(ctx context.Context, subscriptionRef string, changes []domain.ItemChange, opts domain.UpdateOptions) (*domain.Subscription, error) {
	if len(changes) == 0 {
		return a.RetrieveSubscription(ctx, subscriptionRef)
	}
	items := make([]*stripego.SubscriptionItemsParams, 0, len(changes))
	for _, change := range changes {
		item := &stripego.SubscriptionItemsParams{}
		if change.ID != "" {
			item.ID = stripego.String(change.ID)
		}
		if change.Delete {
			if change.ID == "" {
				return nil, domain.ErrInvalidRequest
			}
			item.Deleted = stripego.Bool(true)
			items = append(items, item)
			continue
		}
		if change.PriceRef != "" {
			item.Price = stripego.String(change.PriceRef)
		}
		item.Quantity = stripego.Int64(change.Quantity)
		items = append(items, item)
	}

	proration := prorationNone
	if opts.Prorate {
		proration = prorationCreate
	}
	params := &stripego.SubscriptionParams{
		Items:             items,
		ProrationBehavior: stripego.String(proration),
	}
	if opts.Resume {
		params.CancelAtPeriodEnd = stripego.Bool(false)
	}
	params.Context = ctx
	sub, err := a.client.Subscriptions.Update(subscriptionRef, params)
	if err != nil {
		return nil, mapError(err)
	}
	return toSubscription(sub), nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	params := &stripego.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := a.client.Subscriptions.Cancel(subscriptionRef, params)
	return mapError(err)
}

func (a *Adapter) CancelAtPeriodEnd(ctx context.Context, subscriptionRef string) error {
	params := &stripego.SubscriptionParams{
		CancelAtPeriodEnd: stripego.Bool(true),
	}
	params.Context = ctx
	_, err := a.client.Subscriptions.Update(subscriptionRef, params)
	return mapError(err)
}

func (a *Adapter) ResumeSubscription(ctx context.Context, subscriptionRef string) error {
	params := &stripego.SubscriptionParams{
		CancelAtPeriodEnd: stripego.Bool(false),
	}
	params.Context = ctx
	_, err := a.client.Subscriptions.Update(subscriptionRef, params)
	return mapError(err)
}

func (a *Adapter) CreateCoupon(ctx context.Context, req domain.CouponRequest) (*domain.Coupon, error) {
	params := &stripego.CouponParams{
		Duration: stripego.String(string(req.Duration)),
	}
	switch req.Type {
	case domain.DiscountPercentage:
		pct, _ := req.Value.Float64()
		params.PercentOff = stripego.Float64(pct)
	case domain.DiscountFixed:
		currency := req.Currency
		if currency == "" {
			currency = a.currency
		}
		params.AmountOff = stripego.Int64(money.MinorUnits(req.Value))
		params.Currency = stripego.String(currency)
	default:
		return nil, domain.ErrInvalidRequest
	}
	if req.Duration == domain.DurationRepeating {
		params.DurationInMonths = stripego.Int64(int64(req.DurationInMonths))
	}
	if req.Name != "" {
		params.Name = stripego.String(req.Name)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	coupon, err := a.client.Coupons.New(params)
	if err != nil {
		return nil, mapError(err)
	}
	return &domain.Coupon{
		Ref:              coupon.ID,
		Type:             req.Type,
		Value:            req.Value,
		Duration:         req.Duration,
		DurationInMonths: int(coupon.DurationInMonths),
	}, nil
}

func (a *Adapter) ApplyDiscount(ctx context.Context, subscriptionRef string, couponRef string) error {
	params := &stripego.SubscriptionParams{
		Coupon: stripego.String(couponRef),
	}
	params.Context = ctx
	_, err := a.client.Subscriptions.Update(subscriptionRef, params)
	return mapError(err)
}

func (a *Adapter) ClearDiscount(ctx context.Context, subscriptionRef string) error {
	params := &stripego.SubscriptionDeleteDiscountParams{}
	params.Context = ctx
	_, err := a.client.Subscriptions.DeleteDiscount(subscriptionRef, params)
	if err != nil {
		var stripeErr *stripego.Error
		// No discount attached is the desired end state.
		if errors.As(err, &stripeErr) && stripeErr.Code == stripego.ErrorCodeResourceMissing {
			return nil
		}
	}
	return mapError(err)
}

func (a *Adapter) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (*domain.PaymentIntent, error) {
	if req.AmountMinor <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	currency := req.Currency
	if currency == "" {
		currency = a.currency
	}
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(req.AmountMinor),
		Currency: stripego.String(currency),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripego.String(req.Description)
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripego.String(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := a.client.PaymentIntents.New(params)
	if err != nil {
		return nil, mapError(err)
	}
	return &domain.PaymentIntent{
		Ref:          pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

func toSubscription(sub *stripego.Subscription) *domain.Subscription {
	if sub == nil {
		return nil
	}
	out := &domain.Subscription{
		Ref:               sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Discount != nil && sub.Discount.Coupon != nil {
		out.CouponRef = sub.Discount.Coupon.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			converted := domain.Item{ID: item.ID, Quantity: item.Quantity}
			if item.Price != nil {
				converted.PriceRef = item.Price.ID
			}
			out.Items = append(out.Items, converted)
		}
	}
	return out
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripego.ErrorCodeResourceMissing {
			return fmt.Errorf("%w: %s", domain.ErrSubscriptionNotFound, stripeErr.Msg)
		}
		return fmt.Errorf("stripe %s: %s", stripeErr.Code, stripeErr.Msg)
	}
	return fmt.Errorf("stripe: %w", err)
}
