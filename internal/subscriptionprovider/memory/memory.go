// Package memory is an in-process Provider used for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
)

type Provider struct {
	mu            sync.Mutex
	seq           int
	subscriptions map[string]*domain.Subscription
	coupons       map[string]domain.Coupon
	failures      map[string]error
	calls         map[string]int
}

func New() *Provider {
	return &Provider{
		subscriptions: map[string]*domain.Subscription{},
		coupons:       map[string]domain.Coupon{},
		failures:      map[string]error{},
		calls:         map[string]int{},
	}
}

const (
	OpRetrieve          = "retrieve_subscription"
	OpUpdateItems       = "update_subscription_items"
	OpCancel            = "cancel_subscription"
	OpCancelAtPeriodEnd = "cancel_at_period_end"
	OpResume            = "resume_subscription"
	OpCreateCoupon      = "create_coupon"
	OpApplyDiscount     = "apply_discount"
	OpClearDiscount     = "clear_discount"
	OpPaymentIntent     = "create_payment_intent"
)

func (p *Provider) Name() string {
	return "memory"
}

// Seed stores a copy of sub.
func (p *Provider) Seed(sub domain.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := copySubscription(&sub)
	if cp.Status == "" {
		cp.Status = "active"
	}
	p.subscriptions[sub.Ref] = cp
}

// Subscription returns a copy of the stored subscription.
func (p *Provider) Subscription(ref string) (domain.Subscription, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subscriptions[ref]
	if !ok {
		return domain.Subscription{}, false
	}
	return *copySubscription(sub), true
}

// FailNext makes the next call of op return err.
func (p *Provider) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = err
}

// Calls returns how many times op was invoked.
func (p *Provider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *Provider) enter(op string) error {
	p.calls[op]++
	if err, ok := p.failures[op]; ok {
		delete(p.failures, op)
		return err
	}
	return nil
}

func (p *Provider) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%d", prefix, p.seq)
}

func (p *Provider) RetrieveSubscription(ctx context.Context, subscriptionRef string) (*domain.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpRetrieve); err != nil {
		return nil, err
	}
	sub, ok := p.subscriptions[subscriptionRef]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

func (p *Provider) UpdateSubscriptionItems(ctx context.Context, subscriptionRef string, changes []domain.ItemChange, opts domain.UpdateOptions) (*domain.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpUpdateItems); err != nil {
		return nil, err
	}
	sub, ok := p.subscriptions[subscriptionRef]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}

	items := append([]domain.Item(nil), sub.Items...)
	for _, change := range changes {
		if change.ID == "" {
			if change.Delete {
				return nil, domain.ErrInvalidRequest
			}
			items = append(items, domain.Item{ID: p.nextID("si"), PriceRef: change.PriceRef, Quantity: change.Quantity})
			continue
		}
		idx := indexOf(items, change.ID)
		if idx < 0 {
			return nil, domain.ErrItemNotFound
		}
		if change.Delete {
			items = append(items[:idx], items[idx+1:]...)
			continue
		}
		if change.PriceRef != "" {
			items[idx].PriceRef = change.PriceRef
		}
		items[idx].Quantity = change.Quantity
	}
	sub.Items = items
	if opts.Resume {
		sub.CancelAtPeriodEnd = false
	}
	return copySubscription(sub), nil
}

func (p *Provider) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpCancel); err != nil {
		return err
	}
	sub, ok := p.subscriptions[subscriptionRef]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	sub.Status = "canceled"
	return nil
}

func (p *Provider) CancelAtPeriodEnd(ctx context.Context, subscriptionRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpCancelAtPeriodEnd); err != nil {
		return err
	}
	sub, ok := p.subscriptions[subscriptionRef]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	sub.CancelAtPeriodEnd = true
	return nil
}

func (p *Provider) ResumeSubscription(ctx context.Context, subscriptionRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpResume); err != nil {
		return err
	}
	sub, ok := p.subscriptions[subscriptionRef]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	sub.CancelAtPeriodEnd = false
	return nil
}

func (p *Provider) CreateCoupon(ctx context.Context, req domain.CouponRequest) (*domain.Coupon, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpCreateCoupon); err != nil {
		return nil, err
	}
	coupon := domain.Coupon{
		Ref:              p.nextID("co"),
		Type:             req.Type,
		Value:            req.Value,
		Duration:         req.Duration,
		DurationInMonths: req.DurationInMonths,
	}
	p.coupons[coupon.Ref] = coupon
	return &coupon, nil
}

func (p *Provider) ApplyDiscount(ctx context.Context, subscriptionRef string, couponRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpApplyDiscount); err != nil {
		return err
	}
	sub, ok := p.subscriptions[subscriptionRef]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	if _, ok := p.coupons[couponRef]; !ok {
		return domain.ErrInvalidRequest
	}
	sub.CouponRef = couponRef
	return nil
}

func (p *Provider) ClearDiscount(ctx context.Context, subscriptionRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpClearDiscount); err != nil {
		return err
	}
	sub, ok := p.subscriptions[subscriptionRef]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	sub.CouponRef = ""
	return nil
}

func (p *Provider) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (*domain.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(OpPaymentIntent); err != nil {
		return nil, err
	}
	if req.AmountMinor <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	ref := p.nextID("pi")
	return &domain.PaymentIntent{
		Ref:          ref,
		ClientSecret: ref + "_secret",
		AmountMinor:  req.AmountMinor,
		Currency:     req.Currency,
	}, nil
}

func indexOf(items []domain.Item, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func copySubscription(sub *domain.Subscription) *domain.Subscription {
	cp := *sub
	cp.Items = append([]domain.Item(nil), sub.Items...)
	return &cp
}
