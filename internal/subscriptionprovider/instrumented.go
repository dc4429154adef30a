package subscriptionprovider

import (
	"context"
	"time"

	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	"github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// instrumented wraps a Provider with spans, metrics and debug logs.
type instrumented struct {
	next    domain.Provider
	metrics *metrics.Metrics
	log     *zap.Logger
}

func Instrument(next domain.Provider, m *metrics.Metrics, log *zap.Logger) domain.Provider {
	return &instrumented{next: next, metrics: m, log: log.Named("subscriptionprovider")}
}

func (p *instrumented) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer("seatledger/provider").Start(ctx, "provider."+op)
	span.SetAttributes(attribute.String("operation", op))
	start := time.Now()
	err := fn(ctx)
	p.metrics.ObserveProviderCall(p.next.Name(), op, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		p.log.Debug("provider call failed", zap.String("operation", op), zap.Error(err))
	}
	span.End()
	return err
}

func (p *instrumented) Name() string {
	return p.next.Name()
}

func (p *instrumented) RetrieveSubscription(ctx context.Context, ref string) (*domain.Subscription, error) {
	var out *domain.Subscription
	err := p.observe(ctx, "retrieve_subscription", func(ctx context.Context) error {
		var err error
		out, err = p.next.RetrieveSubscription(ctx, ref)
		return err
	})
	return out, err
}

func (p *instrumented) UpdateSubscriptionItems(ctx context.Context, ref string, changes []domain.ItemChange, opts domain.UpdateOptions) (*domain.Subscription, error) {
	var out *domain.Subscription
	err := p.observe(ctx, "update_subscription_items", func(ctx context.Context) error {
		var err error
		out, err = p.next.UpdateSubscriptionItems(ctx, ref, changes, opts)
		return err
	})
	return out, err
}

func (p *instrumented) CancelSubscription(ctx context.Context, ref string) error {
	return p.observe(ctx, "cancel_subscription", func(ctx context.Context) error {
		return p.next.CancelSubscription(ctx, ref)
	})
}

func (p *instrumented) CancelAtPeriodEnd(ctx context.Context, ref string) error {
	return p.observe(ctx, "cancel_at_period_end", func(ctx context.Context) error {
		return p.next.CancelAtPeriodEnd(ctx, ref)
	})
}

func (p *instrumented) ResumeSubscription(ctx context.Context, ref string) error {
	return p.observe(ctx, "resume_subscription", func(ctx context.Context) error {
		return p.next.ResumeSubscription(ctx, ref)
	})
}

func (p *instrumented) CreateCoupon(ctx context.Context, req domain.CouponRequest) (*domain.Coupon, error) {
	var out *domain.Coupon
	err := p.observe(ctx, "create_coupon", func(ctx context.Context) error {
		var err error
		out, err = p.next.CreateCoupon(ctx, req)
		return err
	})
	return out, err
}

func (p *instrumented) ApplyDiscount(ctx context.Context, ref string, couponRef string) error {
	return p.observe(ctx, "apply_discount", func(ctx context.Context) error {
		return p.next.ApplyDiscount(ctx, ref, couponRef)
	})
}

func (p *instrumented) ClearDiscount(ctx context.Context, ref string) error {
	return p.observe(ctx, "clear_discount", func(ctx context.Context) error {
		return p.next.ClearDiscount(ctx, ref)
	})
}

func (p *instrumented) CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (*domain.PaymentIntent, error) {
	var out *domain.PaymentIntent
	err := p.observe(ctx, "create_payment_intent", func(ctx context.Context) error {
		var err error
		out, err = p.next.CreatePaymentIntent(ctx, req)
		return err
	})
	return out, err
}
