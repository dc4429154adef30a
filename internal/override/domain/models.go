package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActionType string

const (
	ActionTierChanged     ActionType = "tier_changed"
	ActionCompApplied     ActionType = "comp_applied"
	ActionCompRemoved     ActionType = "comp_removed"
	ActionDiscountApplied ActionType = "discount_applied"
	ActionDiscountRemoved ActionType = "discount_removed"
)

// Toggleable reports whether rows of this type carry an active flag that
// must be unique per business.
func (a ActionType) Toggleable() bool {
	return a == ActionCompApplied || a == ActionDiscountApplied
}

// BillingOverride is one row of the append-only override log. Only IsActive
// is ever updated.
type BillingOverride struct {
	ID          snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	BusinessID  snowflake.ID      `gorm:"not null;index:idx_billing_overrides_business_action" json:"business_id"`
	ActionType  ActionType        `gorm:"type:varchar(32);not null;index:idx_billing_overrides_business_action" json:"action_type"`
	Details     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"details"`
	Reason      *string           `gorm:"type:text" json:"reason,omitempty"`
	PerformedBy string            `gorm:"type:varchar(255);not null" json:"performed_by"`
	IsActive    bool              `gorm:"not null;default:false" json:"is_active"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
}

func (BillingOverride) TableName() string { return "billing_overrides" }
