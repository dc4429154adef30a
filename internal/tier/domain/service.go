package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/billingerr"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/smallbiznis/seatledger/internal/plan"
)

type ChangeTierRequest struct {
	NewTier plan.Tier
	Reason  string
}

type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Service interface {
	ChangeTier(ctx context.Context, businessID snowflake.ID, req ChangeTierRequest, actor orgcontext.Actor) (*Result, error)
}

var (
	ErrInvalidTier       = billingerr.Validation("invalid_tier", "new_tier", "Tier must be free, pro or enterprise")
	ErrInvalidTransition = billingerr.Conflict("invalid_transition", "The account is already on this plan")
	ErrNoSubscription    = billingerr.Conflict("no_subscription", "Moving between paid plans requires an existing subscription; use a comp instead")
	ErrComped            = billingerr.Conflict("tenant_comped", "This account is comped; remove the comp before changing plans")
	ErrPriceMissing      = billingerr.Provider("price_missing", "No base price is configured for the target plan")
	ErrChangeFailed      = billingerr.Provider("tier_change_failed", "The billing provider rejected the plan change; the account stays on its current plan")
)
