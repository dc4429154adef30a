package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/seatledger/internal/billingerr"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/smallbiznis/seatledger/internal/plan"
	providerdomain "github.com/smallbiznis/seatledger/internal/subscriptionprovider/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *BillingOverride) error
	// DeactivateActive flips every active row of actionType to inactive.
	DeactivateActive(ctx context.Context, db *gorm.DB, businessID snowflake.ID, actionType ActionType) (int64, error)
	FindActive(ctx context.Context, db *gorm.DB, businessID snowflake.ID, actionType ActionType) (*BillingOverride, error)
	List(ctx context.Context, db *gorm.DB, businessID snowflake.ID) ([]BillingOverride, error)
}

// Operation is the apply/remove switch carried by comp and discount requests.
type Operation string

const (
	OpApply  Operation = "apply"
	OpRemove Operation = "remove"
)

func ParseOperation(raw string) (Operation, error) {
	switch Operation(raw) {
	case OpApply, OpRemove:
		return Operation(raw), nil
	default:
		return "", ErrInvalidAction
	}
}

type DiscountRequest struct {
	Type             providerdomain.DiscountType
	Value            decimal.Decimal
	Duration         providerdomain.DiscountDuration
	DurationInMonths int
	Reason           string
}

// Result is the caller-facing outcome of an override action.
type Result struct {
	Success   bool   `json:"success"`
	CouponRef string `json:"coupon_ref,omitempty"`
	Message   string `json:"message"`
}

type Service interface {
	ApplyComp(ctx context.Context, businessID snowflake.ID, tier plan.Tier, reason string, actor orgcontext.Actor) (*Result, error)
	RemoveComp(ctx context.Context, businessID snowflake.ID, reason string, actor orgcontext.Actor) (*Result, error)
	ApplyDiscount(ctx context.Context, businessID snowflake.ID, req DiscountRequest, actor orgcontext.Actor) (*Result, error)
	RemoveDiscount(ctx context.Context, businessID snowflake.ID, reason string, actor orgcontext.Actor) (*Result, error)
	List(ctx context.Context, businessID snowflake.ID) ([]BillingOverride, error)
}

var (
	ErrInvalidEntry = errors.New("invalid_override_entry")
	ErrNoActive     = errors.New("no_active_override")

	ErrInvalidCompTier      = billingerr.Validation("invalid_comp_tier", "tier", "Comps can only grant the pro or enterprise tier")
	ErrInvalidAction        = billingerr.Validation("invalid_action", "action", "Action must be apply or remove")
	ErrInvalidDiscountType  = billingerr.Validation("invalid_discount_type", "discount_type", "Discount type must be percentage or fixed")
	ErrInvalidPercentage    = billingerr.Validation("invalid_discount_value", "discount_value", "Percentage discounts must be between 1 and 100")
	ErrInvalidFixedAmount   = billingerr.Validation("invalid_discount_value", "discount_value", "Fixed discounts must be greater than zero")
	ErrInvalidDuration      = billingerr.Validation("invalid_discount_duration", "duration", "Duration must be once, repeating or forever")
	ErrInvalidDurationMonth = billingerr.Validation("invalid_duration_in_months", "duration_in_months", "Repeating discounts need a positive number of months")
	ErrActorRequired        = billingerr.Forbidden("actor_required", "An administrator identity is required")

	ErrNotComped             = billingerr.Conflict("not_comped", "This account is not comped")
	ErrDiscountNotApplicable = billingerr.Conflict("discount_not_applicable", "Discounts only apply to accounts with a paid subscription")
	ErrNoActiveDiscount      = billingerr.Conflict("no_active_discount", "This account has no active discount")
	ErrCouponCreateFailed    = billingerr.Provider("coupon_create_failed", "The discount could not be created with the billing provider")
	ErrDiscountApplyFailed   = billingerr.Provider("discount_apply_failed", "The discount could not be attached to the subscription")
	ErrDiscountRemoveFailed  = billingerr.Provider("discount_remove_failed", "The discount could not be removed from the subscription")
)

// Validate checks the discount parameters before any external call.
func (r DiscountRequest) Validate() error {
	switch r.Type {
	case providerdomain.DiscountPercentage:
		if r.Value.LessThan(decimal.NewFromInt(1)) || r.Value.GreaterThan(decimal.NewFromInt(100)) {
			return ErrInvalidPercentage
		}
	case providerdomain.DiscountFixed:
		if !r.Value.IsPositive() {
			return ErrInvalidFixedAmount
		}
	default:
		return ErrInvalidDiscountType
	}

	switch r.Duration {
	case providerdomain.DurationOnce, providerdomain.DurationForever:
	case providerdomain.DurationRepeating:
		if r.DurationInMonths <= 0 {
			return ErrInvalidDurationMonth
		}
	default:
		return ErrInvalidDuration
	}
	return nil
}
