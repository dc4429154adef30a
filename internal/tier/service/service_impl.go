package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/membership"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	overridedomain "github.com/smallbiznis/seatledger/internal/override/domain"
	"github.com/smallbiznis/seatledger/internal/plan"
	providerdomain "github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	tenantdomain "github.com/smallbiznis/seatledger/internal/tenant/domain"
	"github.com/smallbiznis/seatledger/internal/tenantlock"
	"github.com/smallbiznis/seatledger/internal/tier/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Tenants   tenantdomain.Service
	Repo      tenantdomain.Repository
	Overrides overridedomain.Repository
	Members   membership.Counter
	Provider  providerdomain.Provider
	Catalog   *plan.Catalog
	Locker    tenantlock.Locker
	Clock     clock.Clock
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	tenants   tenantdomain.Service
	repo      tenantdomain.Repository
	overrides overridedomain.Repository
	members   membership.Counter
	provider  providerdomain.Provider
	catalog   *plan.Catalog
	locker    tenantlock.Locker
	clock     clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("tier.service"),
		genID:     p.GenID,
		tenants:   p.Tenants,
		repo:      p.Repo,
		overrides: p.Overrides,
		members:   p.Members,
		provider:  p.Provider,
		catalog:   p.Catalog,
		locker:    p.Locker,
		clock:     p.Clock,
	}
}

func (s *Service) ChangeTier(ctx context.Context, businessID snowflake.ID, req domain.ChangeTierRequest, actor orgcontext.Actor) (*domain.Result, error) {
	ctx, span := otel.Tracer("seatledger/tier").Start(ctx, "tier.change")
	defer span.End()
	span.SetAttributes(
		attribute.String("business_id", businessID.String()),
		attribute.String("new_tier", string(req.NewTier)),
	)

	newTier, err := plan.ParseTier(string(req.NewTier))
	if err != nil {
		return nil, domain.ErrInvalidTier
	}
	if actor.IsZero() {
		return nil, overridedomain.ErrActorRequired
	}
	if _, err := s.tenants.Ensure(ctx, businessID); err != nil {
		return nil, err
	}

	var result *domain.Result
	err = tenantlock.WithLock(ctx, s.locker, businessID, func(ctx context.Context) error {
		state, err := s.repo.Find(ctx, s.db, businessID)
		if err != nil {
			return err
		}
		switch {
		case state.Tier == newTier && state.CancelAtPeriodEnd && state.HasLiveSubscription():
			result, err = s.resume(ctx, state, req, actor)
		case state.Tier == newTier:
			return domain.ErrInvalidTransition.WithMessage("The account is already on the %s plan", newTier)
		case state.SubscriptionStatus == tenantdomain.StatusComped && newTier == plan.TierFree:
			result, err = s.releaseComp(ctx, state, req, actor)
		case state.SubscriptionStatus == tenantdomain.StatusComped:
			return domain.ErrComped
		case newTier == plan.TierFree:
			result, err = s.downgradeToFree(ctx, state, req, actor)
		default:
			result, err = s.swapPaid(ctx, state, newTier, req, actor)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// resume withdraws a scheduled cancel when the current tier is selected again.
func (s *Service) resume(ctx context.Context, state *tenantdomain.BillingState, req domain.ChangeTierRequest, actor orgcontext.Actor) (*domain.Result, error) {
	log := logger.WithContext(ctx, s.log).With(zap.String("business_id", state.BusinessID.String()))
	if err := s.provider.ResumeSubscription(ctx, state.SubscriptionRef()); err != nil {
		log.Warn("resume subscription failed", zap.Error(err))
		return nil, domain.ErrChangeFailed.Wrap(err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, state.BusinessID)
		if err != nil {
			return err
		}
		current.CancelAtPeriodEnd = false
		current.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, current); err != nil {
			return err
		}
		return s.recordChange(ctx, tx, state.BusinessID, req.Reason, actor, datatypes.JSONMap{
			"from_tier":            string(state.Tier),
			"to_tier":              string(state.Tier),
			"cancel_at_period_end": false,
			"resumed":              true,
		})
	})
	if err != nil {
		log.Error("subscription resumed externally but local commit failed", zap.Error(err))
		return nil, err
	}

	log.Info("scheduled cancel withdrawn", zap.String("tier", string(state.Tier)))
	return &domain.Result{Success: true, Message: fmt.Sprintf("The scheduled cancellation was withdrawn; the account stays on the %s plan", state.Tier)}, nil
}

// releaseComp ends a comp by moving the tenant to free right away. Comped
// tenants hold no external subscription.
func (s *Service) releaseComp(ctx context.Context, state *tenantdomain.BillingState, req domain.ChangeTierRequest, actor orgcontext.Actor) (*domain.Result, error) {
	fromTier := state.Tier
	freeCfg := s.catalog.MustGet(plan.TierFree)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, state.BusinessID)
		if err != nil {
			return err
		}
		current.ResetToFree(freeCfg)
		current.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, current); err != nil {
			return err
		}
		if _, err := s.overrides.DeactivateActive(ctx, tx, state.BusinessID, overridedomain.ActionCompApplied); err != nil {
			return err
		}
		return s.recordChange(ctx, tx, state.BusinessID, req.Reason, actor, datatypes.JSONMap{
			"from_tier":    string(fromTier),
			"to_tier":      string(plan.TierFree),
			"comp_removed": true,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("comped tenant moved to free", zap.String("business_id", state.BusinessID.String()))
	return &domain.Result{Success: true, Message: "Plan changed to free"}, nil
}

func (s *Service) downgradeToFree(ctx context.Context, state *tenantdomain.BillingState, req domain.ChangeTierRequest, actor orgcontext.Actor) (*domain.Result, error) {
	log := logger.WithContext(ctx, s.log)
	fromTier := state.Tier
	scheduled := state.HasLiveSubscription()

	if scheduled {
		if err := s.provider.CancelAtPeriodEnd(ctx, state.SubscriptionRef()); err != nil {
			log.Warn("cancel at period end failed", zap.String("business_id", state.BusinessID.String()), zap.Error(err))
			return nil, domain.ErrChangeFailed.Wrap(err)
		}
	}

	freeCfg := s.catalog.MustGet(plan.TierFree)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, state.BusinessID)
		if err != nil {
			return err
		}
		if scheduled {
			current.CancelAtPeriodEnd = true
		} else {
			current.ResetToFree(freeCfg)
		}
		current.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, current); err != nil {
			return err
		}
		return s.recordChange(ctx, tx, state.BusinessID, req.Reason, actor, datatypes.JSONMap{
			"from_tier":            string(fromTier),
			"to_tier":              string(plan.TierFree),
			"cancel_at_period_end": scheduled,
		})
	})
	if err != nil {
		return nil, err
	}

	if scheduled {
		log.Info("downgrade to free scheduled at period end", zap.String("business_id", state.BusinessID.String()))
		return &domain.Result{Success: true, Message: "The subscription will be canceled at the end of the current billing period"}, nil
	}
	log.Info("tenant downgraded to free", zap.String("business_id", state.BusinessID.String()))
	return &domain.Result{Success: true, Message: "Plan changed to free"}, nil
}

func (s *Service) swapPaid(ctx context.Context, state *tenantdomain.BillingState, newTier plan.Tier, req domain.ChangeTierRequest, actor orgcontext.Actor) (*domain.Result, error) {
	log := logger.WithContext(ctx, s.log).With(zap.String("business_id", state.BusinessID.String()))
	if !state.HasLiveSubscription() {
		return nil, domain.ErrNoSubscription
	}
	fromCfg, err := s.catalog.Get(state.Tier)
	if err != nil {
		return nil, err
	}
	toCfg, err := s.catalog.Get(newTier)
	if err != nil {
		return nil, domain.ErrInvalidTier
	}
	if strings.TrimSpace(toCfg.BasePriceRef) == "" {
		return nil, domain.ErrPriceMissing
	}

	memberCount, err := s.members.CountActive(ctx, state.BusinessID)
	if err != nil {
		return nil, err
	}
	extra := toCfg.ExtraSeats(memberCount)

	sub, err := s.provider.RetrieveSubscription(ctx, state.SubscriptionRef())
	if err != nil {
		return nil, domain.ErrChangeFailed.Wrap(err)
	}
	changes := domain.BuildDiff(domain.DiffInput{
		Subscription: sub,
		From:         fromCfg,
		To:           toCfg,
		ExtraSeats:   extra,
		IsBase:       s.catalog.IsBasePrice,
		IsSeat:       s.catalog.IsSeatPrice,
	})
	resumed := state.CancelAtPeriodEnd || sub.CancelAtPeriodEnd
	opts := providerdomain.UpdateOptions{Prorate: true, Resume: resumed}
	if _, err := s.provider.UpdateSubscriptionItems(ctx, sub.Ref, changes, opts); err != nil {
		log.Warn("tier swap rejected by provider", zap.String("to_tier", string(newTier)), zap.Error(err))
		return nil, domain.ErrChangeFailed.Wrap(err)
	}

	fromTier := state.Tier
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, state.BusinessID)
		if err != nil {
			return err
		}
		current.ApplyPlan(newTier, toCfg)
		current.SeatCount = memberCount
		current.CancelAtPeriodEnd = false
		current.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, current); err != nil {
			return err
		}
		return s.recordChange(ctx, tx, state.BusinessID, req.Reason, actor, datatypes.JSONMap{
			"from_tier":      string(fromTier),
			"to_tier":        string(newTier),
			"extra_seats":    extra,
			"base_price_ref": toCfg.BasePriceRef,
			"seat_price_ref": toCfg.SeatPriceRef,
			"prorated":       true,
			"resumed":        resumed,
		})
	})
	if err != nil {
		log.Error("tier swap applied externally but local commit failed",
			zap.String("to_tier", string(newTier)),
			zap.Error(err),
		)
		return nil, err
	}

	log.Info("tier changed", zap.String("from_tier", string(fromTier)), zap.String("to_tier", string(newTier)))
	return &domain.Result{Success: true, Message: fmt.Sprintf("Plan changed from %s to %s", fromTier, newTier)}, nil
}

func (s *Service) recordChange(ctx context.Context, tx *gorm.DB, businessID snowflake.ID, reason string, actor orgcontext.Actor, details datatypes.JSONMap) error {
	entry := &overridedomain.BillingOverride{
		ID:          s.genID.Generate(),
		BusinessID:  businessID,
		ActionType:  overridedomain.ActionTierChanged,
		Details:     details,
		PerformedBy: actor.ID,
		IsActive:    false,
		CreatedAt:   s.clock.Now(),
	}
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		entry.Reason = &trimmed
	}
	return s.overrides.Insert(ctx, tx, entry)
}
