package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/clock"
	"github.com/smallbiznis/seatledger/internal/plan"
	"github.com/smallbiznis/seatledger/internal/tenant/domain"
	"github.com/smallbiznis/seatledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	Catalog *plan.Catalog
	Clock   clock.Clock
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    domain.Repository
	catalog *plan.Catalog
	clock   clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("tenant.service"),
		repo:    p.Repo,
		catalog: p.Catalog,
		clock:   p.Clock,
	}
}

func (s *Service) Get(ctx context.Context, businessID snowflake.ID) (*domain.BillingState, error) {
	if businessID == 0 {
		return nil, domain.ErrInvalidBusiness
	}
	return s.repo.Find(ctx, s.db, businessID)
}

func (s *Service) Ensure(ctx context.Context, businessID snowflake.ID) (*domain.BillingState, error) {
	if businessID == 0 {
		return nil, domain.ErrInvalidBusiness
	}
	state, err := s.repo.Find(ctx, s.db, businessID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	state = &domain.BillingState{
		BusinessID: businessID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	state.ResetToFree(s.catalog.MustGet(plan.TierFree))

	if err := s.repo.Insert(ctx, s.db, state); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.repo.Find(ctx, s.db, businessID)
		}
		return nil, err
	}
	s.log.Info("billing state created", zap.String("business_id", businessID.String()))
	return state, nil
}

func (s *Service) AttachSubscription(ctx context.Context, businessID snowflake.ID, req domain.AttachSubscriptionRequest) (*domain.BillingState, error) {
	subRef := strings.TrimSpace(req.SubscriptionRef)
	if subRef == "" || !req.Tier.IsPaid() {
		return nil, domain.ErrInvalidSubscription
	}
	cfg, err := s.catalog.Get(req.Tier)
	if err != nil {
		return nil, domain.ErrInvalidSubscription
	}
	if _, err := s.Ensure(ctx, businessID); err != nil {
		return nil, err
	}

	var out *domain.BillingState
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := s.repo.FindForUpdate(ctx, tx, businessID)
		if err != nil {
			return err
		}
		if state.SubscriptionStatus == domain.StatusComped {
			return domain.ErrComped
		}

		state.ApplyPlan(req.Tier, cfg)
		state.ExternalSubscriptionRef = &subRef
		if customerRef := strings.TrimSpace(req.CustomerRef); customerRef != "" {
			state.ExternalCustomerRef = &customerRef
		}
		state.SubscriptionStatus = domain.ParseSubscriptionStatus(req.Status)
		if state.SubscriptionStatus == domain.StatusNone {
			state.SubscriptionStatus = domain.StatusActive
		}
		state.CancelAtPeriodEnd = req.CancelAtPeriodEnd
		state.UpdatedAt = s.clock.Now()

		if err := s.repo.Save(ctx, tx, state); err != nil {
			return err
		}
		out = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) HandlePeriodEnd(ctx context.Context, businessID snowflake.ID) (*domain.BillingState, error) {
	var out *domain.BillingState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := s.repo.FindForUpdate(ctx, tx, businessID)
		if err != nil {
			return err
		}
		if !state.HasSubscription() {
			out = state
			return nil
		}
		state.ResetToFree(s.catalog.MustGet(plan.TierFree))
		state.SubscriptionStatus = domain.StatusCanceled
		state.UpdatedAt = s.clock.Now()
		if err := s.repo.Save(ctx, tx, state); err != nil {
			return err
		}
		out = state
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("subscription period ended, tenant moved to free", zap.String("business_id", businessID.String()))
	return out, nil
}
