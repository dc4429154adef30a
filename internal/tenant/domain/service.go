package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/billingerr"
	"github.com/smallbiznis/seatledger/internal/plan"
	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, businessID snowflake.ID) (*BillingState, error)
	// FindForUpdate locks the row for the rest of the transaction.
	FindForUpdate(ctx context.Context, tx *gorm.DB, businessID snowflake.ID) (*BillingState, error)
	Insert(ctx context.Context, db *gorm.DB, state *BillingState) error
	Save(ctx context.Context, db *gorm.DB, state *BillingState) error
	ListWithSubscription(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]BillingState, error)
}

type AttachSubscriptionRequest struct {
	CustomerRef     string
	SubscriptionRef string
	Tier            plan.Tier
	Status          string

	// CancelAtPeriodEnd mirrors a cancel the provider already has scheduled.
	CancelAtPeriodEnd bool
}

type Service interface {
	Get(ctx context.Context, businessID snowflake.ID) (*BillingState, error)
	// Ensure returns the state, creating free-tier defaults on first use.
	Ensure(ctx context.Context, businessID snowflake.ID) (*BillingState, error)
	AttachSubscription(ctx context.Context, businessID snowflake.ID, req AttachSubscriptionRequest) (*BillingState, error)
	// HandlePeriodEnd applies a scheduled downgrade once the provider ended the subscription.
	HandlePeriodEnd(ctx context.Context, businessID snowflake.ID) (*BillingState, error)
}

var (
	ErrInvalidBusiness        = errors.New("invalid_business")
	ErrInvalidTier            = errors.New("invalid_tier")
	ErrInvalidSeatCount       = errors.New("invalid_seat_count")
	ErrCompedWithSubscription = errors.New("comped_with_subscription")

	ErrNotFound            = billingerr.NotFound("billing_state_not_found", "Billing account not found")
	ErrInvalidSubscription = billingerr.Validation("invalid_subscription", "subscription_ref", "A subscription reference and a paid tier are required")
	ErrComped              = billingerr.Conflict("tenant_comped", "This account is comped; remove the comp before attaching a subscription")
)
