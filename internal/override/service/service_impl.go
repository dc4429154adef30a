package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/smallbiznis/seatledger/internal/override/domain"
	"github.com/smallbiznis/seatledger/internal/plan"
	providerdomain "github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	tenantdomain "github.com/smallbiznis/seatledger/internal/tenant/domain"
	"github.com/smallbiznis/seatledger/internal/tenantlock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	GenID    *snowflake.Node
	Tenants  tenantdomain.Service
	Repo     tenantdomain.Repository
	Entries  domain.Repository
	Provider providerdomain.Provider
	Catalog  *plan.Catalog
	Locker   tenantlock.Locker
	Clock    clock.Clock
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	currency string
	genID    *snowflake.Node
	tenants  tenantdomain.Service
	repo     tenantdomain.Repository
	entries  domain.Repository
	provider providerdomain.Provider
	catalog  *plan.Catalog
	locker   tenantlock.Locker
	clock    clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	currency := strings.ToLower(strings.TrimSpace(p.Config.Stripe.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("override.service"),
		currency: currency,
		genID:    p.GenID,
		tenants:  p.Tenants,
		repo:     p.Repo,
		entries:  p.Entries,
		provider: p.Provider,
		catalog:  p.Catalog,
		locker:   p.Locker,
		clock:    p.Clock,
	}
}

func (s *Service) ApplyComp(ctx context.Context, businessID snowflake.ID, tier plan.Tier, reason string, actor orgcontext.Actor) (*domain.Result, error) {
	ctx, span := otel.Tracer("seatledger/override").Start(ctx, "override.apply_comp")
	defer span.End()
	span.SetAttributes(attribute.String("business_id", businessID.String()), attribute.String("tier", string(tier)))

	if !tier.IsPaid() {
		return nil, domain.ErrInvalidCompTier
	}
	cfg, err := s.catalog.Get(tier)
	if err != nil {
		return nil, domain.ErrInvalidCompTier
	}
	if actor.IsZero() {
		return nil, domain.ErrActorRequired
	}
	if _, err := s.tenants.Ensure(ctx, businessID); err != nil {
		return nil, err
	}

	var canceledRef string
	err = tenantlock.WithLock(ctx, s.locker, businessID, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			state, err := s.repo.FindForUpdate(ctx, tx, businessID)
			if err != nil {
				return err
			}
			previousTier := state.Tier
			if state.HasLiveSubscription() {
				canceledRef = state.SubscriptionRef()
			}

			if _, err := s.entries.DeactivateActive(ctx, tx, businessID, domain.ActionCompApplied); err != nil {
				return err
			}
			// A discount cannot outlive the subscription it was attached to.
			if _, err := s.entries.DeactivateActive(ctx, tx, businessID, domain.ActionDiscountApplied); err != nil {
				return err
			}

			state.ApplyPlan(tier, cfg)
			state.SubscriptionStatus = tenantdomain.StatusComped
			state.ExternalSubscriptionRef = nil
			state.CancelAtPeriodEnd = false
			state.AICreditsUsed = 0
			state.UpdatedAt = s.clock.Now()
			if err := s.repo.Save(ctx, tx, state); err != nil {
				return err
			}

			details := datatypes.JSONMap{
				"tier":           string(tier),
				"previous_tier":  string(previousTier),
				"included_seats": cfg.IncludedSeats,
				"ai_credits":     cfg.AICredits,
			}
			if canceledRef != "" {
				details["canceled_subscription_ref"] = canceledRef
			}
			return s.insert(ctx, tx, businessID, domain.ActionCompApplied, details, reason, actor, true)
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if canceledRef != "" {
		s.cancelBestEffort(ctx, businessID, canceledRef)
	}
	return &domain.Result{Success: true, Message: fmt.Sprintf("Comped %s plan applied", tier)}, nil
}

// cancelBestEffort runs after the comp is committed. The local comp wins
// over whatever the provider still holds.
func (s *Service) cancelBestEffort(ctx context.Context, businessID snowflake.ID, subscriptionRef string) {
	if err := s.provider.CancelSubscription(ctx, subscriptionRef); err != nil {
		logger.WithContext(ctx, s.log).Warn("comp applied but canceling the prior subscription failed",
			zap.String("business_id", businessID.String()),
			zap.String("subscription_ref", subscriptionRef),
			zap.Error(err),
		)
	}
}

func (s *Service) RemoveComp(ctx context.Context, businessID snowflake.ID, reason string, actor orgcontext.Actor) (*domain.Result, error) {
	if actor.IsZero() {
		return nil, domain.ErrActorRequired
	}
	if _, err := s.tenants.Ensure(ctx, businessID); err != nil {
		return nil, err
	}

	err := tenantlock.WithLock(ctx, s.locker, businessID, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			state, err := s.repo.FindForUpdate(ctx, tx, businessID)
			if err != nil {
				return err
			}
			if state.SubscriptionStatus != tenantdomain.StatusComped {
				return domain.ErrNotComped
			}
			compedTier := state.Tier

			state.ResetToFree(s.catalog.MustGet(plan.TierFree))
			state.UpdatedAt = s.clock.Now()
			if err := s.repo.Save(ctx, tx, state); err != nil {
				return err
			}
			if _, err := s.entries.DeactivateActive(ctx, tx, businessID, domain.ActionCompApplied); err != nil {
				return err
			}
			return s.insert(ctx, tx, businessID, domain.ActionCompRemoved, datatypes.JSONMap{
				"previous_tier": string(compedTier),
			}, reason, actor, false)
		})
	})
	if err != nil {
		return nil, err
	}
	return &domain.Result{Success: true, Message: "Comp removed; the account is now on the free plan"}, nil
}

func (s *Service) ApplyDiscount(ctx context.Context, businessID snowflake.ID, req domain.DiscountRequest, actor orgcontext.Actor) (*domain.Result, error) {
	ctx, span := otel.Tracer("seatledger/override").Start(ctx, "override.apply_discount")
	defer span.End()
	span.SetAttributes(attribute.String("business_id", businessID.String()))

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if actor.IsZero() {
		return nil, domain.ErrActorRequired
	}
	if _, err := s.tenants.Ensure(ctx, businessID); err != nil {
		return nil, err
	}

	var coupon *providerdomain.Coupon
	err := tenantlock.WithLock(ctx, s.locker, businessID, func(ctx context.Context) error {
		state, err := s.repo.Find(ctx, s.db, businessID)
		if err != nil {
			return err
		}
		if state.SubscriptionStatus == tenantdomain.StatusComped || !state.HasLiveSubscription() {
			return domain.ErrDiscountNotApplicable
		}
		subscriptionRef := state.SubscriptionRef()

		coupon, err = s.provider.CreateCoupon(ctx, providerdomain.CouponRequest{
			Type:             req.Type,
			Value:            req.Value,
			Currency:         s.currency,
			Duration:         req.Duration,
			DurationInMonths: req.DurationInMonths,
			Name:             couponName(req),
			Metadata: map[string]string{
				"business_id":  businessID.String(),
				"performed_by": actor.ID,
			},
		})
		if err != nil {
			return domain.ErrCouponCreateFailed.Wrap(err)
		}
		if err := s.provider.ApplyDiscount(ctx, subscriptionRef, coupon.Ref); err != nil {
			return domain.ErrDiscountApplyFailed.Wrap(err)
		}

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.entries.DeactivateActive(ctx, tx, businessID, domain.ActionDiscountApplied); err != nil {
				return err
			}
			details := datatypes.JSONMap{
				"coupon_ref":       coupon.Ref,
				"subscription_ref": subscriptionRef,
				"discount_type":    string(req.Type),
				"discount_value":   req.Value.StringFixed(2),
				"duration":         string(req.Duration),
			}
			if req.Duration == providerdomain.DurationRepeating {
				details["duration_in_months"] = req.DurationInMonths
			}
			return s.insert(ctx, tx, businessID, domain.ActionDiscountApplied, details, req.Reason, actor, true)
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("discount applied",
		zap.String("business_id", businessID.String()),
		zap.String("coupon_ref", coupon.Ref),
	)
	return &domain.Result{Success: true, CouponRef: coupon.Ref, Message: fmt.Sprintf("Discount %s applied", couponName(req))}, nil
}

func (s *Service) RemoveDiscount(ctx context.Context, businessID snowflake.ID, reason string, actor orgcontext.Actor) (*domain.Result, error) {
	if actor.IsZero() {
		return nil, domain.ErrActorRequired
	}
	if _, err := s.tenants.Ensure(ctx, businessID); err != nil {
		return nil, err
	}

	err := tenantlock.WithLock(ctx, s.locker, businessID, func(ctx context.Context) error {
		active, err := s.entries.FindActive(ctx, s.db, businessID, domain.ActionDiscountApplied)
		if errors.Is(err, domain.ErrNoActive) {
			return domain.ErrNoActiveDiscount
		}
		if err != nil {
			return err
		}

		state, err := s.repo.Find(ctx, s.db, businessID)
		if err != nil {
			return err
		}
		if state.HasLiveSubscription() {
			if err := s.provider.ClearDiscount(ctx, state.SubscriptionRef()); err != nil {
				return domain.ErrDiscountRemoveFailed.Wrap(err)
			}
		}

		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.entries.DeactivateActive(ctx, tx, businessID, domain.ActionDiscountApplied); err != nil {
				return err
			}
			return s.insert(ctx, tx, businessID, domain.ActionDiscountRemoved, datatypes.JSONMap{
				"coupon_ref": active.Details["coupon_ref"],
			}, reason, actor, false)
		})
	})
	if err != nil {
		return nil, err
	}
	return &domain.Result{Success: true, Message: "Discount removed"}, nil
}

func (s *Service) List(ctx context.Context, businessID snowflake.ID) ([]domain.BillingOverride, error) {
	if businessID == 0 {
		return nil, tenantdomain.ErrInvalidBusiness
	}
	return s.entries.List(ctx, s.db, businessID)
}

func (s *Service) insert(ctx context.Context, tx *gorm.DB, businessID snowflake.ID, action domain.ActionType, details datatypes.JSONMap, reason string, actor orgcontext.Actor, active bool) error {
	entry := &domain.BillingOverride{
		ID:          s.genID.Generate(),
		BusinessID:  businessID,
		ActionType:  action,
		Details:     details,
		PerformedBy: actor.ID,
		IsActive:    active,
		CreatedAt:   s.clock.Now(),
	}
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		entry.Reason = &trimmed
	}
	return s.entries.Insert(ctx, tx, entry)
}

func couponName(req domain.DiscountRequest) string {
	var amount string
	if req.Type == providerdomain.DiscountPercentage {
		amount = req.Value.String() + "% off"
	} else {
		amount = "$" + req.Value.StringFixed(2) + " off"
	}
	switch req.Duration {
	case providerdomain.DurationRepeating:
		return fmt.Sprintf("%s for %d months", amount, req.DurationInMonths)
	case providerdomain.DurationForever:
		return amount + " forever"
	default:
		return amount + " once"
	}
}
