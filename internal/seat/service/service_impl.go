package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/membership"
	"github.com/smallbiznis/seatledger/internal/observability/logger"
	"github.com/smallbiznis/seatledger/internal/observability/metrics"
	"github.com/smallbiznis/seatledger/internal/plan"
	"github.com/smallbiznis/seatledger/internal/seat/domain"
	providerdomain "github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	tenantdomain "github.com/smallbiznis/seatledger/internal/tenant/domain"
	"github.com/smallbiznis/seatledger/internal/tenantlock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Tenants  tenantdomain.Service
	Repo     tenantdomain.Repository
	Members  membership.Counter
	Provider providerdomain.Provider
	Catalog  *plan.Catalog
	Locker   tenantlock.Locker
	Metrics  *metrics.Metrics
	Clock    clock.Clock
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	tenants  tenantdomain.Service
	repo     tenantdomain.Repository
	members  membership.Counter
	provider providerdomain.Provider
	catalog  *plan.Catalog
	locker   tenantlock.Locker
	metrics  *metrics.Metrics
	clock    clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("seat.service"),
		tenants:  p.Tenants,
		repo:     p.Repo,
		members:  p.Members,
		provider: p.Provider,
		catalog:  p.Catalog,
		locker:   p.Locker,
		metrics:  p.Metrics,
		clock:    p.Clock,
	}
}

func (s *Service) ReconcileSeats(ctx context.Context, businessID snowflake.ID) (*domain.Result, error) {
	ctx, span := otel.Tracer("seatledger/seat").Start(ctx, "seat.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("business_id", businessID.String()))

	if _, err := s.tenants.Ensure(ctx, businessID); err != nil {
		return nil, err
	}

	var result *domain.Result
	err := tenantlock.WithLock(ctx, s.locker, businessID, func(ctx context.Context) error {
		var err error
		result, err = s.reconcileLocked(ctx, businessID)
		return err
	})
	if err != nil {
		s.metrics.IncReconcile("error")
		span.RecordError(err)
		return result, err
	}
	if result.Synced {
		s.metrics.IncReconcile("synced")
	} else {
		s.metrics.IncReconcile("local_only")
	}
	return result, nil
}

func (s *Service) reconcileLocked(ctx context.Context, businessID snowflake.ID) (*domain.Result, error) {
	log := logger.WithContext(ctx, s.log).With(zap.String("business_id", businessID.String()))

	memberCount, err := s.members.CountActive(ctx, businessID)
	if err != nil {
		return nil, err
	}

	var state *tenantdomain.BillingState
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, businessID)
		if err != nil {
			return err
		}
		current.SeatCount = memberCount
		current.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, current); err != nil {
			return err
		}
		state = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &domain.Result{SeatCount: memberCount}
	if !state.Tier.IsPaid() || !state.HasLiveSubscription() {
		return result, nil
	}

	result.ExtraSeats = extraSeats(memberCount, state.IncludedSeats)
	cfg, err := s.catalog.Get(state.Tier)
	if err != nil {
		return result, err
	}

	sub, err := s.provider.RetrieveSubscription(ctx, state.SubscriptionRef())
	if err != nil {
		log.Warn("seat sync: retrieve subscription failed", zap.Error(err))
		return result, domain.ErrSyncFailed.Wrap(err)
	}

	change, ok := s.seatChange(sub, cfg, result.ExtraSeats)
	if !ok {
		result.Synced = true
		return result, nil
	}
	if change.PriceRef == "" {
		return result, domain.ErrSeatPriceMissing
	}

	if _, err := s.provider.UpdateSubscriptionItems(ctx, sub.Ref, []providerdomain.ItemChange{change}, providerdomain.UpdateOptions{Prorate: true}); err != nil {
		log.Warn("seat sync: update subscription failed", zap.Int("extra_seats", result.ExtraSeats), zap.Error(err))
		return result, domain.ErrSyncFailed.Wrap(err)
	}
	log.Info("seat quantity synced",
		zap.Int("seat_count", memberCount),
		zap.Int("extra_seats", result.ExtraSeats),
	)
	result.Synced = true
	return result, nil
}

// seatChange returns the item mutation needed, or false when the subscription
// already matches. A zero quantity seat item is kept rather than deleted.
func (s *Service) seatChange(sub *providerdomain.Subscription, cfg plan.Config, extra int) (providerdomain.ItemChange, bool) {
	item, found := sub.FindByPrice(func(ref string) bool { return ref != "" && ref == cfg.SeatPriceRef })
	if !found {
		item, found = sub.FindByPrice(s.catalog.IsSeatPrice)
	}
	if found {
		if item.Quantity == int64(extra) {
			return providerdomain.ItemChange{}, false
		}
		return providerdomain.ItemChange{ID: item.ID, PriceRef: item.PriceRef, Quantity: int64(extra)}, true
	}
	if extra == 0 {
		return providerdomain.ItemChange{}, false
	}
	return providerdomain.ItemChange{PriceRef: cfg.SeatPriceRef, Quantity: int64(extra)}, true
}

func extraSeats(members, included int) int {
	if members <= included {
		return 0
	}
	return members - included
}
